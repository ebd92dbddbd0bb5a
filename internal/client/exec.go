package client

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/logging"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/status"
)

// call is one client operation on its way to a node
type call struct {
	req   *cluster.Request
	p     policy.Policy
	write bool
}

// tries returns how many attempts the call may make on a partition held by
// owners nodes. REPLICA_SEQUENCE reads may walk every copy once.
func (c *call) tries(owners int) uint {
	n := uint(1)
	if c.p.Retry == policy.RetryOnce {
		n = 2
	}
	if !c.write && c.p.Replica == policy.ReplicaSequence && uint(owners) > n {
		n = uint(owners)
	}
	return n
}

// pick selects the node for the attempt-th try. Writes always go to the
// master.
func (c *call) pick(owners []cluster.NodeInfo, attempt int, rotation uint64) cluster.NodeInfo {
	if c.write {
		return owners[0]
	}
	switch c.p.Replica {
	case policy.ReplicaAny:
		return owners[(rotation+uint64(attempt))%uint64(len(owners))]
	case policy.ReplicaSequence:
		return owners[attempt%len(owners)]
	}
	return owners[0]
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// execute runs the call, retrying transient failures as far as the policy
// allows. Each attempt sends a fresh copy of the same request. Record
// outcomes come back as *status.Error values.
func (c *Client) execute(ctx context.Context, cl *call) (*cluster.Response, error) {
	req := cl.req
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	pid := req.Key.Partition()
	log := logging.WithContext(ctx, c.logger).With(
		zap.String("request", req.ID),
		zap.String("command", string(req.Command)),
		zap.String("ns", req.Key.Namespace),
		zap.String("set", req.Key.Set),
		zap.Uint16("partition", uint16(pid)))
	log.Debug("executing")

	owners, err := c.router.Owners(pid)
	if err != nil {
		log.Debug("no route", zap.Error(err))
		return nil, err
	}

	rotation := c.next.Add(1)
	attempt := 0
	op := func() (*cluster.Response, error) {
		n := attempt
		attempt++
		if n > 0 {
			// the table may have changed since the previous try
			if fresh, err := c.router.Owners(pid); err == nil {
				owners = fresh
			}
		}

		var resp *cluster.Response
		var err error
		if !cl.write && cl.p.Consistency == policy.ConsistencyAll && len(owners) > 1 {
			resp, err = c.readAll(ctx, cl, owners)
		} else {
			resp, err = c.send(ctx, cl, cl.pick(owners, n, rotation), owners[0].ID)
		}
		if err == nil {
			return resp, nil
		}

		code := status.CodeOf(err)
		if !code.Retryable() {
			return nil, backoff.Permanent(err)
		}
		log.Debug("attempt failed", zap.Int("attempt", n+1), zap.Stringer("code", code), zap.Error(err))
		if code == status.ErrClusterChange && c.refresh != nil {
			if rerr := c.refresh(ctx); rerr != nil {
				log.Debug("routing refresh failed", zap.Error(rerr))
			}
		}
		return nil, err
	}

	resp, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(cl.p.SleepBetweenRetries)),
		backoff.WithMaxTries(cl.tries(len(owners))))
	if err != nil {
		se := status.FromError(err)
		log.Debug("request failed", zap.Stringer("code", se.Code), zap.Int("attempts", attempt))
		return nil, se
	}
	log.Debug("request done", zap.Int("attempts", attempt))
	return resp, nil
}

// send makes one attempt against node, bounded by the policy timeout
func (c *Client) send(ctx context.Context, cl *call, node cluster.NodeInfo, master string) (*cluster.Response, error) {
	req := *cl.req
	req.Replica = node.ID != master

	actx, cancel := withTimeout(ctx, cl.p.Timeout(cl.write))
	defer cancel()
	resp, err := c.transport.Send(actx, node, &req)
	if err != nil {
		return nil, err
	}
	if err := resp.Err(); err != nil {
		return nil, err
	}
	return resp, nil
}

// readAll reads every copy and keeps the one with the highest generation.
// A copy that has the record beats one that does not; when no copy answers
// with a record the master's outcome is returned.
func (c *Client) readAll(ctx context.Context, cl *call, owners []cluster.NodeInfo) (*cluster.Response, error) {
	var best *cluster.Response
	var masterErr error
	for i, node := range owners {
		resp, err := c.send(ctx, cl, node, owners[0].ID)
		if err != nil {
			if i == 0 {
				masterErr = err
			}
			continue
		}
		if best == nil || generation(resp) > generation(best) {
			best = resp
		}
	}
	if best != nil {
		return best, nil
	}
	return nil, masterErr
}

func generation(r *cluster.Response) uint32 {
	if r.Metadata == nil {
		return 0
	}
	return r.Metadata.Generation
}

package node

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/engine"
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/logging"
	"github.com/dreamware/torua-kv/internal/operation"
	"github.com/dreamware/torua-kv/internal/partition"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/record"
	"github.com/dreamware/torua-kv/internal/status"
)

// replicationTimeout bounds asynchronous replica writes
const replicationTimeout = 5 * time.Second

// partitionFor returns the partition serving a request for pid. Writes need
// the master copy; reads may use a replica when replica is set.
func (n *Node) partitionFor(pid key.PartitionID, write, replica bool) (*partition.Partition, error) {
	p := n.Partition(pid)
	if p == nil && n.acceptAll {
		n.mu.Lock()
		p = n.parts[pid]
		if p == nil {
			p = n.assignLocked(pid, true)
		}
		n.mu.Unlock()
	}
	if p == nil || p.CurrentState() != partition.StateActive {
		return nil, status.New(status.ErrClusterChange, "partition %d not held", pid)
	}
	if !p.IsPrimary() && (write || !replica) {
		return nil, status.New(status.ErrClusterChange, "partition %d is a replica here", pid)
	}
	return p, nil
}

// serverError maps storage failures to ERR_SERVER while keeping record
// outcomes as they are
func serverError(err error) error {
	var se *status.Error
	if err == nil || errors.As(err, &se) {
		return err
	}
	return status.Wrap(status.ErrServer, err, "storage")
}

func params(req *cluster.Request) engine.Params {
	return engine.Params{
		UserKey:   req.Key.UserKey,
		Namespace: req.Key.Namespace,
		Set:       req.Key.Set,
		Gen:       req.Write.Gen,
		Exists:    req.Write.Exists,
		TTL:       req.Write.TTL,
		SendKey:   req.Write.Key == policy.KeySend,
	}
}

// Execute evaluates a single-record request
func (n *Node) Execute(ctx context.Context, req *cluster.Request) *cluster.Response {
	start := time.Now()
	ctx = logging.WithFields(ctx,
		zap.String("request", req.ID),
		zap.String("command", string(req.Command)),
		zap.Uint16("partition", uint16(req.Key.Partition())))

	resp, err := n.execute(ctx, req)
	if err != nil {
		resp = cluster.ErrorResponse(n.ID, serverError(err))
	}
	resp.Node = n.ID
	n.metrics.observe(string(req.Command), resp.Code, time.Since(start))

	log := logging.WithContext(ctx, n.logger)
	if resp.Code.Class() == status.ClassOther {
		log.Warn("request failed", zap.Stringer("code", resp.Code), zap.String("message", resp.Message))
	} else {
		logging.Trace(log, "request served", zap.Stringer("code", resp.Code))
	}
	return resp
}

func (n *Node) execute(ctx context.Context, req *cluster.Request) (*cluster.Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, status.Wrap(status.ErrTimeout, err, "request expired before execution")
	}
	if req.Key.Namespace == "" {
		return nil, status.New(status.ErrRequestInvalid, "namespace is required")
	}

	switch req.Command {
	case cluster.CommandGet, cluster.CommandExists:
		return n.read(req)
	case cluster.CommandOperate:
		return n.operate(ctx, req)
	case cluster.CommandDelete:
		return n.remove(ctx, req)
	case cluster.CommandReplicate:
		return n.applyReplica(req)
	}
	return nil, status.New(status.ErrRequestInvalid, "unknown command %q", req.Command)
}

func (n *Node) read(req *cluster.Request) (*cluster.Response, error) {
	d := req.Key.Digest
	p, err := n.partitionFor(key.PartitionOf(d), false, req.Replica)
	if err != nil {
		return nil, err
	}

	resp := &cluster.Response{}
	err = p.View(d, func(cur *record.Stored) error {
		if req.Command == cluster.CommandExists {
			md, err := n.engine.Exists(cur)
			if err != nil {
				return err
			}
			resp.Metadata = &md
			resp.Key = cur.Key(d)
			return nil
		}
		md, bins, err := n.engine.Get(cur, req.Bins)
		if err != nil {
			return err
		}
		resp.Metadata, resp.Bins, resp.Key = &md, bins, cur.Key(d)
		return nil
	})
	return resp, err
}

func (n *Node) operate(ctx context.Context, req *cluster.Request) (*cluster.Response, error) {
	composed, err := operation.Compose(req.Ops, policy.Defaults())
	if err != nil {
		return nil, status.Wrap(status.ErrRequestInvalid, err, "operations")
	}

	d := req.Key.Digest
	p, err := n.partitionFor(key.PartitionOf(d), !composed.ReadOnly(), req.Replica)
	if err != nil {
		return nil, err
	}

	resp := &cluster.Response{}
	if composed.ReadOnly() {
		err = p.View(d, func(cur *record.Stored) error {
			out, err := n.engine.Operate(cur, composed, engine.Params{})
			if err != nil {
				return err
			}
			resp.Metadata, resp.Bins, resp.Key = &out.Metadata, out.Bins, cur.Key(d)
			return nil
		})
		return resp, err
	}

	var out engine.Outcome
	err = p.Update(d, func(cur *record.Stored) (*record.Stored, bool, error) {
		var err error
		out, err = n.engine.Operate(cur, composed, params(req))
		return out.Next, out.Delete, err
	})
	if err != nil {
		return nil, err
	}

	resp.Bins = out.Bins
	if out.Next != nil {
		resp.Metadata = &out.Metadata
		resp.Key = out.Next.Key(d)
	}
	n.replicate(ctx, req, out.Next, out.Next == nil && out.Delete)
	return resp, nil
}

func (n *Node) remove(ctx context.Context, req *cluster.Request) (*cluster.Response, error) {
	d := req.Key.Digest
	p, err := n.partitionFor(key.PartitionOf(d), true, false)
	if err != nil {
		return nil, err
	}
	err = p.Update(d, func(cur *record.Stored) (*record.Stored, bool, error) {
		out, err := n.engine.Delete(cur, params(req))
		return nil, out.Delete, err
	})
	if err != nil {
		return nil, err
	}
	n.replicate(ctx, req, nil, true)
	return &cluster.Response{}, nil
}

// applyReplica installs a record copy sent by the partition master
func (n *Node) applyReplica(req *cluster.Request) (*cluster.Response, error) {
	d := req.Key.Digest
	p := n.Partition(key.PartitionOf(d))
	if p == nil || p.IsPrimary() {
		return nil, status.New(status.ErrClusterChange, "partition %d has no replica here", key.PartitionOf(d))
	}
	err := p.Update(d, func(*record.Stored) (*record.Stored, bool, error) {
		return req.Record, req.Record == nil, nil
	})
	return &cluster.Response{}, err
}

// replicate forwards the new state of a record to the partition's replicas.
// With COMMIT_LEVEL_ALL it returns once every replica answered; with
// COMMIT_LEVEL_MASTER the copies are sent in the background. Replica
// failures are logged and do not fail the write.
func (n *Node) replicate(ctx context.Context, req *cluster.Request, next *record.Stored, del bool) {
	if n.transport == nil || (next == nil && !del) {
		return
	}
	t := n.Table()
	if t == nil {
		return
	}
	owners := t.OwnersOf(req.Key.Partition())
	if len(owners) < 2 {
		return
	}

	nodes := make(map[string]cluster.NodeInfo, len(t.Nodes))
	for _, ni := range t.Nodes {
		nodes[ni.ID] = ni
	}
	copyReq := &cluster.Request{
		ID:      req.ID,
		Command: cluster.CommandReplicate,
		Key:     req.Key,
		Record:  next,
	}

	send := func(ctx context.Context) {
		log := logging.WithContext(ctx, n.logger)
		for _, id := range owners[1:] {
			ni, ok := nodes[id]
			if !ok || id == n.ID {
				continue
			}
			resp, err := n.transport.Send(ctx, ni, copyReq)
			if err == nil {
				err = resp.Err()
			}
			if err != nil {
				log.Warn("replica write failed", zap.String("replica", id), zap.Error(err))
			}
		}
	}

	if req.Write.CommitLevel == policy.CommitMaster {
		go func() {
			bg, cancel := context.WithTimeout(context.WithoutCancel(ctx), replicationTimeout)
			defer cancel()
			send(bg)
		}()
		return
	}
	send(ctx)
}

// ExecuteBatch reads every key of req. Each key gets its own outcome; one
// failing key never fails the others.
func (n *Node) ExecuteBatch(ctx context.Context, req *cluster.BatchRequest) *cluster.BatchResponse {
	start := time.Now()
	resp := &cluster.BatchResponse{Node: n.ID, Items: make([]cluster.BatchItem, len(req.Keys))}

	for i := range req.Keys {
		k := &req.Keys[i]
		item := &resp.Items[i]
		if err := ctx.Err(); err != nil {
			item.Code = status.ErrTimeout
			item.Message = err.Error()
			continue
		}

		d := k.Digest
		p, err := n.partitionFor(key.PartitionOf(d), false, req.Replica)
		if err == nil {
			err = p.View(d, func(cur *record.Stored) error {
				if req.HeaderOnly {
					md, err := n.engine.Exists(cur)
					if err == nil {
						item.Metadata, item.Key = &md, cur.Key(d)
					}
					return err
				}
				md, bins, err := n.engine.Get(cur, req.Bins)
				if err == nil {
					item.Metadata, item.Bins, item.Key = &md, bins, cur.Key(d)
				}
				return err
			})
		}
		if err != nil {
			se := status.FromError(serverError(err))
			item.Code, item.Message = se.Code, se.Message
		}
	}

	n.metrics.observe("batch", status.OK, time.Since(start))
	logging.Trace(n.logger, "batch served", zap.String("request", req.ID), zap.Int("keys", len(req.Keys)))
	return resp
}

// Package batch reads many keys at once. Keys are grouped by the node
// mastering their partition (or by partition with USE_BATCH_DIRECT), the
// groups are sent concurrently and the answers are put back into the order
// of the input keys. A failing group only fails its own keys.
package batch

import (
	"context"
	"strconv"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/logging"
	"github.com/dreamware/torua-kv/internal/operation"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/status"
)

// DefaultConcurrency bounds the sub-batches in flight per call
const DefaultConcurrency = 16

// Coordinator splits batch reads into per-node requests
type Coordinator struct {
	router    cluster.Router
	transport cluster.Transport
	logger    *zap.Logger
	base      policy.Options
	limit     int
}

// Option configures a Coordinator
type Option func(*Coordinator)

// WithConcurrency bounds the sub-batches in flight per call
func WithConcurrency(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithPolicy sets the policy layer under per-call options
func WithPolicy(o policy.Options) Option {
	return func(c *Coordinator) { c.base = o }
}

// New creates a Coordinator
func New(router cluster.Router, transport cluster.Transport, opts ...Option) *Coordinator {
	c := &Coordinator{
		router:    router,
		transport: transport,
		logger:    logging.L(),
		limit:     DefaultConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// group is the part of a batch sent in one request
type group struct {
	node  cluster.NodeInfo
	keys  []key.Key
	slots []int // input index of each key
}

// Get reads keys, returning only bins when it is set. The result has one
// entry per key in input order.
func (c *Coordinator) Get(ctx context.Context, keys []*key.Key, bins []string, opts ...policy.Options) ([]Result, error) {
	for _, b := range bins {
		if err := operation.ValidateBinName(b); err != nil {
			return nil, status.Wrap(status.ErrBinName, err, "batch get")
		}
	}
	return c.run(ctx, keys, bins, false, opts)
}

// Exists reads the metadata of keys. The result has one entry per key in
// input order.
func (c *Coordinator) Exists(ctx context.Context, keys []*key.Key, opts ...policy.Options) ([]Result, error) {
	return c.run(ctx, keys, nil, true, opts)
}

// run dispatches the batch. It fails as a whole only on bad arguments or
// when every sub-batch failed; the results are returned in both cases once
// dispatch happened.
func (c *Coordinator) run(ctx context.Context, keys []*key.Key, bins []string, headerOnly bool, opts []policy.Options) ([]Result, error) {
	p, err := policy.Resolve(append([]policy.Options{c.base}, opts...)...)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		if k == nil || k.Namespace == "" {
			return nil, status.New(status.ErrParam, "batch key %d is invalid", i)
		}
	}
	if len(keys) == 0 {
		return []Result{}, nil
	}

	id := uuid.NewString()
	log := logging.WithContext(ctx, c.logger).With(zap.String("request", id))
	asm := newAssembler(keys)
	groups, unrouted := c.split(keys, p.UseBatchDirect, asm)
	log.Debug("batch dispatch",
		zap.Int("keys", len(keys)),
		zap.Int("groups", len(groups)),
		zap.Int("unrouted", unrouted),
		zap.Bool("direct", p.UseBatchDirect),
		zap.Bool("header_only", headerOnly))

	var g errgroup.Group
	g.SetLimit(c.limit)
	for _, grp := range groups {
		g.Go(func() error {
			c.dispatch(ctx, log, id, grp, bins, headerOnly, p, asm)
			return nil
		})
	}
	_ = g.Wait()

	if units := len(groups) + unrouted; asm.failures == units {
		return asm.results, status.Wrap(status.CodeOf(asm.first), asm.first, "all %d sub-batches failed", units)
	}
	return asm.results, nil
}

// split groups keys by master node, or by partition when direct is set.
// Keys without a route are failed right away and counted in unrouted.
func (c *Coordinator) split(keys []*key.Key, direct bool, asm *assembler) (groups []*group, unrouted int) {
	units := make(map[string]*group)
	for i, k := range keys {
		pid := k.Partition()
		owners, err := c.router.Owners(pid)
		if err != nil {
			asm.fail([]int{i}, err)
			unrouted++
			continue
		}

		unit := owners[0].ID
		if direct {
			unit = strconv.Itoa(int(pid))
		}
		g, ok := units[unit]
		if !ok {
			g = &group{node: owners[0]}
			units[unit] = g
			groups = append(groups, g)
		}
		g.keys = append(g.keys, *k)
		g.slots = append(g.slots, i)
	}
	return groups, unrouted
}

func (c *Coordinator) dispatch(ctx context.Context, log *zap.Logger, id string, g *group,
	bins []string, headerOnly bool, p policy.Policy, asm *assembler) {
	sctx, cancel := ctx, context.CancelFunc(func() {})
	if d := p.Timeout(false); d > 0 {
		sctx, cancel = context.WithTimeout(ctx, d)
	}
	defer cancel()

	resp, err := c.transport.SendBatch(sctx, g.node, &cluster.BatchRequest{
		ID:         id,
		Keys:       g.keys,
		Bins:       bins,
		HeaderOnly: headerOnly,
	})
	if err != nil {
		log.Debug("sub-batch failed", zap.String("node", g.node.ID), zap.Int("keys", len(g.keys)), zap.Error(err))
		asm.fail(g.slots, err)
		return
	}
	asm.place(g.slots, resp, !p.Deserialize)
}

// Package client executes single-record operations against the node owning
// each key: it resolves the effective policy, computes the key digest,
// composes the request, picks a node from the routing table and retries
// transient failures when the policy asks for it. Multi-key reads go through
// the batch package.
package client

import (
	"context"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/dreamware/torua-kv/internal/batch"
	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/config"
	"github.com/dreamware/torua-kv/internal/coordinator"
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/logging"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/record"
	"github.com/dreamware/torua-kv/internal/status"
)

// Client is safe for concurrent use. Its policy layer is fixed at creation;
// per-call options are layered on top of it.
type Client struct {
	router    cluster.Router
	transport cluster.Transport
	batch     *batch.Coordinator
	logger    *zap.Logger
	refresh   func(ctx context.Context) error
	stop      context.CancelFunc
	base      policy.Options
	next      atomic.Uint64 // replica rotation for REPLICA_ANY
	limit     int
}

// Option configures a Client
type Option func(*Client)

// WithTransport sets how requests reach nodes, HTTP by default
func WithTransport(t cluster.Transport) Option {
	return func(c *Client) { c.transport = t }
}

// WithLogger sets the client logger
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithPolicy sets the client-level policy layer
func WithPolicy(o policy.Options) Option {
	return func(c *Client) { c.base = o }
}

// WithBatchConcurrency bounds the sub-batches in flight per batch call
func WithBatchConcurrency(n int) Option {
	return func(c *Client) { c.limit = n }
}

// WithRefresh installs the hook run after a node reports a cluster change
func WithRefresh(fn func(ctx context.Context) error) Option {
	return func(c *Client) { c.refresh = fn }
}

// New creates a client routing through router. The client-level policy
// layer is validated here so bad configuration fails before any call.
func New(router cluster.Router, opts ...Option) (*Client, error) {
	c := &Client{
		router:    router,
		transport: cluster.HTTPTransport{},
		logger:    logging.L(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if router == nil {
		return nil, status.New(status.ErrParam, "router is required")
	}
	if _, err := policy.Resolve(c.base); err != nil {
		return nil, err
	}

	var bopts []batch.Option
	if c.limit > 0 {
		bopts = append(bopts, batch.WithConcurrency(c.limit))
	}
	bopts = append(bopts, batch.WithLogger(c.logger), batch.WithPolicy(c.base))
	c.batch = batch.New(router, c.transport, bopts...)
	return c, nil
}

// Connect builds a client from configuration: it fetches the partition table
// from the coordinator, keeps it fresh in the background and talks to nodes
// over HTTP. Close stops the background refresh.
func Connect(ctx context.Context, cfg config.Client, opts ...Option) (*Client, error) {
	base, err := cfg.Options()
	if err != nil {
		return nil, err
	}
	p, err := policy.Resolve(base)
	if err != nil {
		return nil, err
	}

	table := coordinator.NewRoutingTable(nil)
	cctx, cancel := context.WithTimeout(ctx, p.ConnectTimeout)
	err = table.Refresh(cctx, cfg.Coordinator)
	cancel()
	if err != nil {
		return nil, err
	}

	defaults := []Option{
		WithPolicy(base),
		WithBatchConcurrency(cfg.BatchConcurrency),
		WithRefresh(func(ctx context.Context) error { return table.Refresh(ctx, cfg.Coordinator) }),
	}
	c, err := New(table, append(defaults, opts...)...)
	if err != nil {
		return nil, err
	}

	if cfg.RefreshInterval > 0 {
		wctx, stop := context.WithCancel(context.Background())
		c.stop = stop
		go table.Watch(wctx, cfg.Coordinator, cfg.RefreshInterval)
	}
	c.logger.Info("client connected",
		zap.String("coordinator", cfg.Coordinator),
		zap.Int64("table_version", table.Version()))
	return c, nil
}

// Close stops background work started by Connect
func (c *Client) Close() {
	if c.stop != nil {
		c.stop()
	}
}

// Policy resolves the effective policy of a call made with opts
func (c *Client) Policy(opts ...policy.Options) (policy.Policy, error) {
	return policy.Resolve(append([]policy.Options{c.base}, opts...)...)
}

// KeyDigest returns the digest of (namespace, set, pk)
func KeyDigest(namespace, set string, pk any) (key.Digest, error) {
	k, err := key.New(namespace, set, pk)
	if err != nil {
		return key.Digest{}, err
	}
	return k.Digest, nil
}

// BatchGet reads keys from their nodes. Results follow the order of keys.
func (c *Client) BatchGet(ctx context.Context, keys []*key.Key, bins []string, opts ...policy.Options) ([]batch.Result, error) {
	return c.batch.Get(ctx, keys, bins, opts...)
}

// BatchExists reads the metadata of keys. Results follow the order of keys.
func (c *Client) BatchExists(ctx context.Context, keys []*key.Key, opts ...policy.Options) ([]batch.Result, error) {
	return c.batch.Exists(ctx, keys, opts...)
}

func checkKey(k *key.Key) error {
	if k == nil {
		return status.New(status.ErrParam, "key is nil")
	}
	if k.Namespace == "" {
		return status.New(status.ErrParam, "namespace is required")
	}
	return nil
}

func writePolicy(p policy.Policy) cluster.WritePolicy {
	return cluster.WritePolicy{
		Gen:           p.Gen,
		Exists:        p.Exists,
		Key:           p.Key,
		CommitLevel:   p.CommitLevel,
		TTL:           p.TTL,
		DurableDelete: p.DurableDelete,
	}
}

func toRecord(k *key.Key, resp *cluster.Response, p policy.Policy) *record.Record {
	rec := &record.Record{Key: k, Bins: resp.Bins}
	if resp.Key != nil {
		rec.Key = resp.Key
	}
	if resp.Metadata != nil {
		rec.Metadata = *resp.Metadata
	}
	if !p.Deserialize {
		rec.Bins = rec.Bins.Opaque()
	}
	return rec
}

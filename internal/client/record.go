package client

import (
	"context"
	"sort"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/operation"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/record"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

// Get reads the record at k. With bins set only those bins are returned and
// missing ones come back as nulls.
func (c *Client) Get(ctx context.Context, k *key.Key, bins []string, opts ...policy.Options) (*record.Record, error) {
	if err := checkKey(k); err != nil {
		return nil, err
	}
	for _, b := range bins {
		if err := operation.ValidateBinName(b); err != nil {
			return nil, status.Wrap(status.ErrBinName, err, "get")
		}
	}
	p, err := c.Policy(opts...)
	if err != nil {
		return nil, err
	}

	resp, err := c.execute(ctx, &call{
		req: &cluster.Request{Command: cluster.CommandGet, Key: *k, Bins: bins},
		p:   p,
	})
	if err != nil {
		return nil, err
	}
	return toRecord(k, resp, p), nil
}

// Exists reads the metadata of the record at k. The returned record has no
// bins.
func (c *Client) Exists(ctx context.Context, k *key.Key, opts ...policy.Options) (*record.Record, error) {
	if err := checkKey(k); err != nil {
		return nil, err
	}
	p, err := c.Policy(opts...)
	if err != nil {
		return nil, err
	}

	resp, err := c.execute(ctx, &call{
		req: &cluster.Request{Command: cluster.CommandExists, Key: *k},
		p:   p,
	})
	if err != nil {
		return nil, err
	}
	rec := toRecord(k, resp, p)
	rec.Bins = nil
	return rec, nil
}

// Put writes bins to the record at k following the exists and generation
// policies. A nil bin value removes the bin.
func (c *Client) Put(ctx context.Context, k *key.Key, bins map[string]any, opts ...policy.Options) error {
	if len(bins) == 0 {
		return status.New(status.ErrParam, "no bins to put")
	}
	p, err := c.Policy(opts...)
	if err != nil {
		return err
	}

	// sorted so the composed request does not depend on map iteration
	names := make([]string, 0, len(bins))
	for name := range bins {
		names = append(names, name)
	}
	sort.Strings(names)

	ops := make([]operation.Operation, 0, len(bins))
	for _, name := range names {
		v, err := value.OfMode(bins[name], p.Serializer)
		if err != nil {
			return err
		}
		ops = append(ops, operation.Write(name, v))
	}
	_, err = c.operate(ctx, k, ops, p)
	return err
}

// Touch resets the TTL of the record at k from the policy TTL and bumps its
// generation
func (c *Client) Touch(ctx context.Context, k *key.Key, opts ...policy.Options) error {
	p, err := c.Policy(opts...)
	if err != nil {
		return err
	}
	_, err = c.operate(ctx, k, []operation.Operation{operation.Touch(nil)}, p)
	return err
}

// Remove deletes the record at k. A missing record fails with
// ERR_RECORD_NOT_FOUND.
func (c *Client) Remove(ctx context.Context, k *key.Key, opts ...policy.Options) error {
	if err := checkKey(k); err != nil {
		return err
	}
	p, err := c.Policy(opts...)
	if err != nil {
		return err
	}
	_, err = c.execute(ctx, &call{
		req:   &cluster.Request{Command: cluster.CommandDelete, Key: *k, Write: writePolicy(p)},
		p:     p,
		write: true,
	})
	return err
}

// RemoveBin deletes bins from the record at k. The record must exist; bins
// it does not have are ignored. Removing the last bin deletes the record.
func (c *Client) RemoveBin(ctx context.Context, k *key.Key, bins []string, opts ...policy.Options) error {
	if len(bins) == 0 {
		return status.New(status.ErrParam, "no bins to remove")
	}
	opts = append(opts, policy.Options{Exists: policy.Ptr(policy.ExistsUpdate)})
	p, err := c.Policy(opts...)
	if err != nil {
		return err
	}

	ops := make([]operation.Operation, len(bins))
	for i, b := range bins {
		ops[i] = operation.Write(b, value.Null{})
	}
	_, err = c.operate(ctx, k, ops, p)
	return err
}

// Increment adds by to an integer or float bin
func (c *Client) Increment(ctx context.Context, k *key.Key, bin string, by any, opts ...policy.Options) error {
	return c.single(ctx, k, bin, by, operation.Increment, opts)
}

// Append appends v to a string or bytes bin
func (c *Client) Append(ctx context.Context, k *key.Key, bin string, v any, opts ...policy.Options) error {
	return c.single(ctx, k, bin, v, operation.Append, opts)
}

// Prepend prepends v to a string or bytes bin
func (c *Client) Prepend(ctx context.Context, k *key.Key, bin string, v any, opts ...policy.Options) error {
	return c.single(ctx, k, bin, v, operation.Prepend, opts)
}

func (c *Client) single(ctx context.Context, k *key.Key, bin string, v any,
	build func(string, value.Value) operation.Operation, opts []policy.Options) error {
	p, err := c.Policy(opts...)
	if err != nil {
		return err
	}
	conv, err := value.OfMode(v, p.Serializer)
	if err != nil {
		return err
	}
	_, err = c.operate(ctx, k, []operation.Operation{build(bin, conv)}, p)
	return err
}

// Operate applies ops to the record at k atomically. Writes run first in
// call order, then reads; the returned record holds one entry per bin read.
func (c *Client) Operate(ctx context.Context, k *key.Key, ops []operation.Operation, opts ...policy.Options) (*record.Record, error) {
	p, err := c.Policy(opts...)
	if err != nil {
		return nil, err
	}
	return c.operate(ctx, k, ops, p)
}

func (c *Client) operate(ctx context.Context, k *key.Key, ops []operation.Operation, p policy.Policy) (*record.Record, error) {
	if err := checkKey(k); err != nil {
		return nil, err
	}
	composed, err := operation.Compose(ops, p)
	if err != nil {
		return nil, err
	}

	resp, err := c.execute(ctx, &call{
		req: &cluster.Request{
			Command: cluster.CommandOperate,
			Key:     *k,
			Ops:     composed.Ops,
			Write:   writePolicy(p),
		},
		p:     p,
		write: !composed.ReadOnly(),
	})
	if err != nil {
		return nil, err
	}
	return toRecord(k, resp, p), nil
}

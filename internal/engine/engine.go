package engine

import (
	"time"

	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/operation"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/record"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

// Params carries the write settings a request is evaluated under
type Params struct {
	UserKey   *key.UserKey        // Stored with the record when SendKey is set
	Namespace string              // Namespace of a newly created record
	Set       string              // Set of a newly created record
	Gen       policy.Generation   // Generation check applied before mutating
	Exists    policy.ExistsPolicy // Existence requirement for writes
	TTL       int32               // Seconds, or one of the policy TTL sentinels
	SendKey   bool                // Persist UserKey next to the digest
}

// Outcome describes the effect of one evaluated request. Next is the record
// to persist; when Delete is set the record must be removed instead. Both
// unset means storage stays untouched.
type Outcome struct {
	Next     *record.Stored
	Bins     value.Bins
	Metadata record.Metadata
	Delete   bool
}

// Engine evaluates record requests the way a storage node does
type Engine struct {
	now        func() time.Time
	defaultTTL int32
}

// Option configures an Engine
type Option func(*Engine)

// WithClock replaces the time source
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithDefaultTTL sets the namespace default lifetime applied for TTL 0.
// Zero means records never expire by default.
func WithDefaultTTL(d time.Duration) Option {
	return func(e *Engine) { e.defaultTTL = int32(d / time.Second) }
}

// New creates an Engine
func New(opts ...Option) *Engine {
	e := &Engine{now: time.Now}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Now returns the engine's current time
func (e *Engine) Now() time.Time { return e.now() }

func (e *Engine) live(cur *record.Stored) *record.Stored {
	if cur == nil || cur.Expired(e.now()) {
		return nil
	}
	return cur
}

func notFound() error {
	return status.New(status.ErrRecordNotFound, "record not found")
}

// Get returns the record's metadata and selected bins. With no names every
// bin is returned; named bins missing from the record come back as nulls.
func (e *Engine) Get(cur *record.Stored, names []string) (record.Metadata, value.Bins, error) {
	cur = e.live(cur)
	if cur == nil {
		return record.Metadata{}, nil, notFound()
	}
	return cur.Metadata(e.now()), cur.Select(names), nil
}

// Exists returns the record's metadata only
func (e *Engine) Exists(cur *record.Stored) (record.Metadata, error) {
	cur = e.live(cur)
	if cur == nil {
		return record.Metadata{}, notFound()
	}
	return cur.Metadata(e.now()), nil
}

// Delete checks that the record exists and passes the generation check
func (e *Engine) Delete(cur *record.Stored, p Params) (Outcome, error) {
	cur = e.live(cur)
	if cur == nil {
		return Outcome{}, notFound()
	}
	if err := checkGeneration(cur, p.Gen); err != nil {
		return Outcome{}, err
	}
	return Outcome{Delete: true}, nil
}

// Operate applies a composed operation set to cur. Writes run against a copy
// so a failing operation leaves the stored record untouched.
func (e *Engine) Operate(cur *record.Stored, c *operation.Composed, p Params) (Outcome, error) {
	now := e.now()
	cur = e.live(cur)

	if c.ReadOnly() {
		if cur == nil {
			return Outcome{}, notFound()
		}
		returned, _, err := run(cur.Bins, c.Ops)
		if err != nil {
			return Outcome{}, err
		}
		return Outcome{Bins: returned, Metadata: cur.Metadata(now)}, nil
	}

	// A touch without writes only needs the record to exist; the exists
	// policy governs bin writes.
	touchOnly := c.Writes == 0
	if err := checkExists(cur, p.Exists, touchOnly); err != nil {
		return Outcome{}, err
	}
	if err := checkGeneration(cur, p.Gen); err != nil {
		return Outcome{}, err
	}

	next := &record.Stored{Namespace: p.Namespace, Set: p.Set, Bins: value.Bins{}}
	if cur != nil {
		next = cur.Clone()
		if !touchOnly && (p.Exists == policy.ExistsReplace || p.Exists == policy.ExistsCreateOrReplace) {
			next.Bins = value.Bins{}
		}
	}

	returned, touchTTL, err := run(next.Bins, c.Ops)
	if err != nil {
		return Outcome{}, err
	}

	if len(next.Bins) == 0 {
		if cur == nil {
			return Outcome{Bins: returned}, nil
		}
		return Outcome{Bins: returned, Delete: true}, nil
	}

	ttl := p.TTL
	if touchTTL != nil {
		ttl = *touchTTL
	}
	next.Generation++
	next.ExpiresAt = e.expiry(cur, ttl, now)
	next.UpdatedAt = now.Unix()
	if p.SendKey && p.UserKey != nil {
		uk := *p.UserKey
		next.UserKey = &uk
	}
	return Outcome{Next: next, Bins: returned, Metadata: next.Metadata(now)}, nil
}

// expiry converts a TTL into an absolute unix expiry
func (e *Engine) expiry(cur *record.Stored, ttl int32, now time.Time) int64 {
	switch {
	case ttl == policy.TTLDontUpdate && cur != nil:
		return cur.ExpiresAt
	case ttl == policy.TTLNeverExpire:
		return 0
	case ttl > 0:
		return now.Unix() + int64(ttl)
	}
	if e.defaultTTL > 0 {
		return now.Unix() + int64(e.defaultTTL)
	}
	return 0
}

func checkExists(cur *record.Stored, p policy.ExistsPolicy, touchOnly bool) error {
	switch {
	case touchOnly:
		if cur == nil {
			return notFound()
		}
	case cur != nil && p == policy.ExistsCreate:
		return status.New(status.ErrRecordExists, "record already exists")
	case cur == nil && (p == policy.ExistsUpdate || p == policy.ExistsReplace):
		return notFound()
	}
	return nil
}

// checkGeneration compares the expected generation with the record's. An
// absent record has generation zero.
func checkGeneration(cur *record.Stored, g policy.Generation) error {
	var gen uint32
	if cur != nil {
		gen = cur.Generation
	}
	switch g.Mode {
	case policy.GenEQ:
		if g.Value != gen {
			return status.New(status.ErrRecordGeneration, "expected generation %d, record is at %d", g.Value, gen)
		}
	case policy.GenGT:
		if g.Value <= gen {
			return status.New(status.ErrRecordGeneration, "generation %d is not greater than %d", g.Value, gen)
		}
	}
	return nil
}

// run executes ops in order against bins, collecting returned values. The
// TTL of a touch operation, if any, is reported separately.
func run(bins value.Bins, ops []operation.Operation) (value.Bins, *int32, error) {
	returned := value.Bins{}
	var ttl *int32
	for _, op := range ops {
		if op.Kind == operation.KindTouch {
			if op.TTL != nil {
				ttl = op.TTL
			}
			continue
		}
		v, ok, err := apply(bins, op)
		if err != nil {
			return nil, nil, err
		}
		if ok {
			returned[op.Bin] = v
		}
	}
	return returned, ttl, nil
}

func apply(bins value.Bins, op operation.Operation) (value.Value, bool, error) {
	switch op.Kind {
	case operation.KindWrite:
		if value.IsNull(op.Value) {
			delete(bins, op.Bin)
		} else {
			bins[op.Bin] = value.Clone(op.Value)
		}
		return nil, false, nil
	case operation.KindRead:
		if v, ok := bins[op.Bin]; ok {
			return value.Clone(v), true, nil
		}
		return value.Null{}, true, nil
	case operation.KindIncrement:
		return nil, false, increment(bins, op)
	case operation.KindAppend, operation.KindPrepend:
		return nil, false, concat(bins, op)
	case operation.KindList:
		return applyList(bins, op)
	case operation.KindMap:
		return applyMap(bins, op)
	}
	return nil, false, status.New(status.ErrRequestInvalid, "unsupported operation %s", op.Name())
}

func incompatible(op operation.Operation, have value.Value) error {
	return status.New(status.ErrBinIncompatibleType, "%s: bin %q holds %s", op.Name(), op.Bin, have.Kind())
}

func invalid(op operation.Operation, format string, args ...any) error {
	e := status.New(status.ErrRequestInvalid, format, args...)
	e.Message = op.String() + ": " + e.Message
	return e
}

func increment(bins value.Bins, op operation.Operation) error {
	cur, ok := bins[op.Bin]
	if !ok || value.IsNull(cur) {
		bins[op.Bin] = op.Value
		return nil
	}
	sum, ok := add(cur, op.Value)
	if !ok {
		return incompatible(op, cur)
	}
	bins[op.Bin] = sum
	return nil
}

// add sums two numbers of the same kind
func add(a, b value.Value) (value.Value, bool) {
	switch x := a.(type) {
	case value.Int:
		if y, ok := b.(value.Int); ok {
			return x + y, true
		}
	case value.Float:
		if y, ok := b.(value.Float); ok {
			return x + y, true
		}
	}
	return nil, false
}

func concat(bins value.Bins, op operation.Operation) error {
	operand := op.Value.(value.Bytes)
	cur, ok := bins[op.Bin]
	if !ok || value.IsNull(cur) {
		bins[op.Bin] = value.Clone(operand)
		return nil
	}
	have, ok := cur.(value.Bytes)
	if !ok || have.Serialized || have.Raw != operand.Raw {
		return incompatible(op, cur)
	}
	data := make([]byte, 0, len(have.Data)+len(operand.Data))
	if op.Kind == operation.KindAppend {
		data = append(append(data, have.Data...), operand.Data...)
	} else {
		data = append(append(data, operand.Data...), have.Data...)
	}
	bins[op.Bin] = value.Bytes{Data: data, Raw: have.Raw}
	return nil
}

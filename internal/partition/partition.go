package partition

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/record"
	"github.com/dreamware/torua-kv/internal/storage"
)

// State represents the current state of a partition on a node
type State string

const (
	// StateActive means the partition is serving requests
	StateActive State = "active"
	// StateMigrating means the partition is being handed to another node
	StateMigrating State = "migrating"
	// StateDropped means the partition is no longer owned here
	StateDropped State = "dropped"
)

// Partition is one slice of the key space held by a node, either as the
// master copy or as a replica
type Partition struct {
	Store   storage.Store   // Encoded records keyed by digest
	Stats   *Stats          // Operation counters
	State   State           // Current state
	ID      key.PartitionID // Partition identifier
	Primary bool            // Master or replica copy
	mu      sync.RWMutex    // Protects State and Primary
	rw      sync.Mutex      // Serializes read-modify-write cycles
}

// Stats tracks partition activity
type Stats struct {
	Ops     OperationStats     `json:"ops"`
	Storage storage.StoreStats `json:"storage"`
}

// OperationStats counts record requests served by a partition
type OperationStats struct {
	Reads   uint64 `json:"reads"`
	Writes  uint64 `json:"writes"`
	Deletes uint64 `json:"deletes"`
	Errors  uint64 `json:"errors"`
}

// Info summarizes a partition for status endpoints
type Info struct {
	ID       key.PartitionID `json:"id"`
	Primary  bool            `json:"primary"`
	State    State           `json:"state"`
	KeyCount int             `json:"key_count"`
	ByteSize int             `json:"byte_size"`
}

// New creates an active partition over store. A nil store means in-memory.
func New(id key.PartitionID, primary bool, store storage.Store) *Partition {
	if store == nil {
		store = storage.NewMemoryStore()
	}
	return &Partition{
		ID:      id,
		Primary: primary,
		Store:   store,
		State:   StateActive,
		Stats:   &Stats{},
	}
}

// Owns reports whether d addresses this partition
func (p *Partition) Owns(d key.Digest) bool {
	return key.PartitionOf(d) == p.ID
}

func (p *Partition) load(d key.Digest) (*record.Stored, error) {
	data, err := p.Store.Get(d)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return record.Decode(data)
}

// View calls fn with the record stored under d, or nil when there is none.
// The record must not be modified.
func (p *Partition) View(d key.Digest, fn func(cur *record.Stored) error) error {
	atomic.AddUint64(&p.Stats.Ops.Reads, 1)
	cur, err := p.load(d)
	if err == nil {
		err = fn(cur)
	}
	if err != nil {
		atomic.AddUint64(&p.Stats.Ops.Errors, 1)
	}
	return err
}

// Update runs a read-modify-write cycle on the record under d. fn returns
// the record to store, or del to remove it; returning neither leaves the
// store untouched. Cycles on one partition never interleave.
func (p *Partition) Update(d key.Digest, fn func(cur *record.Stored) (next *record.Stored, del bool, err error)) error {
	p.rw.Lock()
	defer p.rw.Unlock()

	cur, err := p.load(d)
	if err != nil {
		atomic.AddUint64(&p.Stats.Ops.Errors, 1)
		return err
	}
	next, del, err := fn(cur)
	if err != nil {
		atomic.AddUint64(&p.Stats.Ops.Errors, 1)
		return err
	}

	switch {
	case del:
		atomic.AddUint64(&p.Stats.Ops.Deletes, 1)
		return p.Store.Delete(d)
	case next != nil:
		atomic.AddUint64(&p.Stats.Ops.Writes, 1)
		data, err := next.Encode()
		if err != nil {
			return err
		}
		return p.Store.Put(d, data)
	}
	return nil
}

// Digests returns the stored digests in byte order
func (p *Partition) Digests() ([]key.Digest, error) {
	ds, err := p.Store.List()
	if err != nil {
		return nil, err
	}
	slices.SortFunc(ds, func(a, b key.Digest) int {
		return slices.Compare(a[:], b[:])
	})
	return ds, nil
}

// Drain removes every record and returns how many were deleted
func (p *Partition) Drain() (int, error) {
	p.rw.Lock()
	defer p.rw.Unlock()

	ds, err := p.Store.List()
	if err != nil {
		return 0, err
	}
	for _, d := range ds {
		if err := p.Store.Delete(d); err != nil {
			return 0, err
		}
	}
	return len(ds), nil
}

// GetStats returns a snapshot of the counters and storage statistics
func (p *Partition) GetStats() Stats {
	return Stats{
		Ops: OperationStats{
			Reads:   atomic.LoadUint64(&p.Stats.Ops.Reads),
			Writes:  atomic.LoadUint64(&p.Stats.Ops.Writes),
			Deletes: atomic.LoadUint64(&p.Stats.Ops.Deletes),
			Errors:  atomic.LoadUint64(&p.Stats.Ops.Errors),
		},
		Storage: p.Store.Stats(),
	}
}

// Info returns metadata about the partition
func (p *Partition) Info() Info {
	p.mu.RLock()
	state, primary := p.State, p.Primary
	p.mu.RUnlock()

	st := p.Store.Stats()
	return Info{
		ID:       p.ID,
		Primary:  primary,
		State:    state,
		KeyCount: st.Keys,
		ByteSize: st.Bytes,
	}
}

// SetState updates the partition state
func (p *Partition) SetState(state State) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.State = state
}

// CurrentState returns the partition state
func (p *Partition) CurrentState() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.State
}

// SetPrimary switches the partition between master and replica
func (p *Partition) SetPrimary(primary bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Primary = primary
}

// IsPrimary reports whether this is the master copy
func (p *Partition) IsPrimary() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Primary
}

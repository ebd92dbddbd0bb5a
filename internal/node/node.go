package node

import (
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/engine"
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/logging"
	"github.com/dreamware/torua-kv/internal/partition"
	"github.com/dreamware/torua-kv/internal/storage"
)

// StoreFactory opens the store backing one partition
type StoreFactory func(pid key.PartitionID) storage.Store

// MemoryStores backs every partition with a fresh in-memory store
func MemoryStores(key.PartitionID) storage.Store { return storage.NewMemoryStore() }

// BoltStores backs partitions with buckets of one bbolt database
func BoltStores(db *storage.BoltDB) StoreFactory {
	return func(pid key.PartitionID) storage.Store { return db.Partition(pid) }
}

// Node holds the partitions assigned to one storage node and evaluates
// record requests against them.
type Node struct {
	engine    *engine.Engine
	stores    StoreFactory
	transport cluster.Transport
	logger    *zap.Logger
	metrics   *Metrics
	parts     map[key.PartitionID]*partition.Partition
	table     *cluster.PartitionTable
	ID        string
	mu        sync.RWMutex
	acceptAll bool
}

// Option configures a Node
type Option func(*Node)

// WithEngine replaces the record engine
func WithEngine(e *engine.Engine) Option {
	return func(n *Node) { n.engine = e }
}

// WithStores selects where partitions keep their records
func WithStores(f StoreFactory) Option {
	return func(n *Node) { n.stores = f }
}

// WithTransport sets the transport used to reach replica nodes
func WithTransport(t cluster.Transport) Option {
	return func(n *Node) { n.transport = t }
}

// WithLogger sets the node logger
func WithLogger(l *zap.Logger) Option {
	return func(n *Node) { n.logger = l }
}

// WithMetrics records request metrics into m
func WithMetrics(m *Metrics) Option {
	return func(n *Node) { n.metrics = m }
}

// Standalone makes the node master of every partition, creating partitions
// on first use. Used when no coordinator manages the cluster.
func Standalone() Option {
	return func(n *Node) { n.acceptAll = true }
}

// New creates a node with no partitions
func New(id string, opts ...Option) *Node {
	n := &Node{
		ID:     id,
		engine: engine.New(),
		stores: MemoryStores,
		parts:  make(map[key.PartitionID]*partition.Partition),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.logger == nil {
		n.logger = logging.L()
	}
	n.logger = n.logger.With(zap.String("node", id))
	return n
}

// Assign makes the node hold pid, as master when primary is set. An already
// held partition keeps its records and only changes role.
func (n *Node) Assign(pid key.PartitionID, primary bool) *partition.Partition {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.assignLocked(pid, primary)
}

func (n *Node) assignLocked(pid key.PartitionID, primary bool) *partition.Partition {
	if p, ok := n.parts[pid]; ok {
		p.SetPrimary(primary)
		p.SetState(partition.StateActive)
		return p
	}
	p := partition.New(pid, primary, n.stores(pid))
	n.parts[pid] = p
	return p
}

// Drop releases pid and deletes its records
func (n *Node) Drop(pid key.PartitionID) error {
	n.mu.Lock()
	p, ok := n.parts[pid]
	delete(n.parts, pid)
	n.mu.Unlock()
	if !ok {
		return nil
	}

	p.SetState(partition.StateDropped)
	removed, err := p.Drain()
	if err != nil {
		return err
	}
	n.logger.Debug("partition dropped", zap.Uint16("partition", uint16(pid)), zap.Int("records", removed))
	return nil
}

// SetAssignments applies a partition table: partitions listing this node
// are held (master when listed first), the rest are dropped. Tables older
// than the current one are ignored.
func (n *Node) SetAssignments(t *cluster.PartitionTable) error {
	n.mu.Lock()
	if n.table != nil && t.Version < n.table.Version {
		n.mu.Unlock()
		return nil
	}
	n.table = t

	var drop []key.PartitionID
	held := make(map[key.PartitionID]bool)
	for i, owners := range t.Owners {
		pid := key.PartitionID(i)
		idx := slices.Index(owners, n.ID)
		if idx < 0 {
			continue
		}
		held[pid] = true
		n.assignLocked(pid, idx == 0)
	}
	for pid := range n.parts {
		if !held[pid] {
			drop = append(drop, pid)
		}
	}
	n.mu.Unlock()

	for _, pid := range drop {
		if err := n.Drop(pid); err != nil {
			return err
		}
	}
	n.logger.Info("partition table applied",
		zap.Int64("version", t.Version),
		zap.Int("held", len(held)),
		zap.Int("dropped", len(drop)))
	return nil
}

// Table returns the last applied partition table, nil before the first
func (n *Node) Table() *cluster.PartitionTable {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.table
}

// Partition returns the held partition pid, or nil
func (n *Node) Partition(pid key.PartitionID) *partition.Partition {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.parts[pid]
}

// Partitions returns the held partitions ordered by id
func (n *Node) Partitions() []*partition.Partition {
	n.mu.RLock()
	out := make([]*partition.Partition, 0, len(n.parts))
	for _, p := range n.parts {
		out = append(out, p)
	}
	n.mu.RUnlock()

	slices.SortFunc(out, func(a, b *partition.Partition) int { return int(a.ID) - int(b.ID) })
	return out
}

// Info summarizes the node for the /info endpoint
type Info struct {
	NodeID     string           `json:"node_id"`
	Partitions []partition.Info `json:"partitions"`
	Count      int              `json:"partition_count"`
	Version    int64            `json:"table_version"`
}

// Info returns the node summary
func (n *Node) Info() Info {
	parts := n.Partitions()
	info := Info{NodeID: n.ID, Count: len(parts), Partitions: make([]partition.Info, 0, len(parts))}
	for _, p := range parts {
		info.Partitions = append(info.Partitions, p.Info())
	}
	if t := n.Table(); t != nil {
		info.Version = t.Version
	}
	return info
}

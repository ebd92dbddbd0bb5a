package coordinator

import (
	"errors"
	"fmt"
	"sync"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/key"
)

// Assignment lists the nodes holding one partition
type Assignment struct {
	Owners      []string        `json:"owners"` // Master first, then replicas
	PartitionID key.PartitionID `json:"partition_id"`
}

// Master returns the node holding the master copy, or ""
func (a *Assignment) Master() string {
	if len(a.Owners) == 0 {
		return ""
	}
	return a.Owners[0]
}

// PartitionMap is the authoritative partition to node assignment. Every
// change bumps Version so nodes and clients can discard stale tables.
//
// Rebalancing is deterministic: partition p is mastered by node p mod N in
// the given node order and replicated on the next replicas-1 nodes.
type PartitionMap struct {
	owners   [][]string // partition id -> node ids, master first
	version  int64
	replicas int
	mu       sync.RWMutex
}

// NewPartitionMap creates an empty map keeping replicas copies of every
// partition (master included)
func NewPartitionMap(replicas int) *PartitionMap {
	if replicas < 1 {
		replicas = 1
	}
	return &PartitionMap{
		owners:   make([][]string, key.PartitionCount),
		replicas: replicas,
	}
}

func checkPartition(pid key.PartitionID) error {
	if int(pid) >= key.PartitionCount {
		return fmt.Errorf("invalid partition ID %d, must be in range [0, %d)", pid, key.PartitionCount)
	}
	return nil
}

// Assign sets the owners of pid, master first
func (m *PartitionMap) Assign(pid key.PartitionID, owners ...string) error {
	if err := checkPartition(pid); err != nil {
		return err
	}
	if len(owners) == 0 {
		return errors.New("at least one owner is required")
	}
	for _, id := range owners {
		if id == "" {
			return errors.New("node ID cannot be empty")
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[pid] = append([]string(nil), owners...)
	m.version++
	return nil
}

// Remove clears the owners of pid
func (m *PartitionMap) Remove(pid key.PartitionID) error {
	if err := checkPartition(pid); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.owners[pid] = nil
	m.version++
	return nil
}

// Get returns a copy of the assignment of pid, nil when unassigned
func (m *PartitionMap) Get(pid key.PartitionID) *Assignment {
	if checkPartition(pid) != nil {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.owners[pid]) == 0 {
		return nil
	}
	return &Assignment{PartitionID: pid, Owners: append([]string(nil), m.owners[pid]...)}
}

// NodeForPartition returns the master of pid
func (m *PartitionMap) NodeForPartition(pid key.PartitionID) (string, error) {
	a := m.Get(pid)
	if a == nil {
		return "", fmt.Errorf("partition %d is not assigned to any node", pid)
	}
	return a.Master(), nil
}

// NodePartitions returns the partitions nodeID holds, split by role
func (m *PartitionMap) NodePartitions(nodeID string) (masters, replicas []key.PartitionID) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for pid, owners := range m.owners {
		for i, id := range owners {
			if id != nodeID {
				continue
			}
			if i == 0 {
				masters = append(masters, key.PartitionID(pid))
			} else {
				replicas = append(replicas, key.PartitionID(pid))
			}
		}
	}
	return masters, replicas
}

// Replicas returns the configured copy count
func (m *PartitionMap) Replicas() int { return m.replicas }

// Version returns the current map version
func (m *PartitionMap) Version() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.version
}

// Rebalance spreads every partition over nodes. With fewer nodes than the
// replica count each partition gets one copy per node.
func (m *PartitionMap) Rebalance(nodes []string) error {
	if len(nodes) == 0 {
		return errors.New("cannot rebalance with no nodes")
	}
	copies := min(m.replicas, len(nodes))

	m.mu.Lock()
	defer m.mu.Unlock()
	for pid := range m.owners {
		owners := make([]string, copies)
		for i := range owners {
			owners[i] = nodes[(pid+i)%len(nodes)]
		}
		m.owners[pid] = owners
	}
	m.version++
	return nil
}

// Table snapshots the map for distribution to nodes and clients
func (m *PartitionMap) Table(nodes []cluster.NodeInfo) *cluster.PartitionTable {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t := &cluster.PartitionTable{
		Nodes:    append([]cluster.NodeInfo(nil), nodes...),
		Owners:   make([][]string, len(m.owners)),
		Version:  m.version,
		Replicas: m.replicas,
	}
	for i, owners := range m.owners {
		t.Owners[i] = append([]string(nil), owners...)
	}
	return t
}

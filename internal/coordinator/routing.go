package coordinator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/logging"
	"github.com/dreamware/torua-kv/internal/status"
)

// PartitionsPath serves the current partition table
const PartitionsPath = "/partitions"

// RoutingTable is a client-side copy of the partition table. Lookups never
// block on the network; Refresh and Watch keep it current.
type RoutingTable struct {
	table *cluster.PartitionTable
	nodes map[string]cluster.NodeInfo
	mu    sync.RWMutex
}

// NewRoutingTable creates a routing table, optionally seeded with t
func NewRoutingTable(t *cluster.PartitionTable) *RoutingTable {
	r := &RoutingTable{}
	if t != nil {
		r.Update(t)
	}
	return r
}

// Update installs t unless it is older than the current table
func (r *RoutingTable) Update(t *cluster.PartitionTable) bool {
	nodes := make(map[string]cluster.NodeInfo, len(t.Nodes))
	for _, n := range t.Nodes {
		nodes[n.ID] = n
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.table != nil && t.Version < r.table.Version {
		return false
	}
	r.table, r.nodes = t, nodes
	return true
}

// Version returns the version of the installed table, -1 before the first
func (r *RoutingTable) Version() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.table == nil {
		return -1
	}
	return r.table.Version
}

// Owners returns the nodes holding pid, master first
func (r *RoutingTable) Owners(pid key.PartitionID) ([]cluster.NodeInfo, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.table == nil {
		return nil, status.New(status.ErrInvalidNode, "no partition table")
	}
	ids := r.table.OwnersOf(pid)
	out := make([]cluster.NodeInfo, 0, len(ids))
	for _, id := range ids {
		if n, ok := r.nodes[id]; ok {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, status.New(status.ErrInvalidNode, "no node for partition %d", pid)
	}
	return out, nil
}

// NodeForPartition returns the master of pid
func (r *RoutingTable) NodeForPartition(pid key.PartitionID) (cluster.NodeInfo, error) {
	owners, err := r.Owners(pid)
	if err != nil {
		return cluster.NodeInfo{}, err
	}
	return owners[0], nil
}

// Refresh fetches the table from the coordinator at base
func (r *RoutingTable) Refresh(ctx context.Context, base string) error {
	var t cluster.PartitionTable
	if err := cluster.GetJSON(ctx, cluster.BaseURL(base)+PartitionsPath, &t); err != nil {
		return status.Wrap(status.ErrConnection, err, "refresh partition table")
	}
	r.Update(&t)
	return nil
}

// Watch refreshes the table every interval until ctx is done
func (r *RoutingTable) Watch(ctx context.Context, base string, interval time.Duration) {
	log := logging.WithContext(ctx, logging.L()).With(zap.String("coordinator", base))
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			before := r.Version()
			if err := r.Refresh(ctx, base); err != nil {
				log.Warn("partition table refresh failed", zap.Error(err))
				continue
			}
			if v := r.Version(); v != before {
				log.Debug("partition table updated", zap.Int64("version", v))
			}
		}
	}
}

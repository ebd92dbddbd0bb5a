package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/status"
)

func twoNodeTable(version int64) *cluster.PartitionTable {
	m := NewPartitionMap(2)
	_ = m.Rebalance([]string{"node-1", "node-2"})
	tbl := m.Table(twoNodes)
	tbl.Version = version
	return tbl
}

func TestRoutingTableEmpty(t *testing.T) {
	r := NewRoutingTable(nil)
	assert.Equal(t, int64(-1), r.Version())

	_, err := r.Owners(0)
	assert.Equal(t, status.ErrInvalidNode, status.CodeOf(err))
	_, err = r.NodeForPartition(0)
	assert.Equal(t, status.ErrInvalidNode, status.CodeOf(err))
}

func TestRoutingTableOwners(t *testing.T) {
	r := NewRoutingTable(twoNodeTable(1))

	owners, err := r.Owners(0)
	require.NoError(t, err)
	assert.Equal(t, twoNodes, owners)

	owners, err = r.Owners(1)
	require.NoError(t, err)
	assert.Equal(t, []cluster.NodeInfo{twoNodes[1], twoNodes[0]}, owners)

	master, err := r.NodeForPartition(1)
	require.NoError(t, err)
	assert.Equal(t, "node-2", master.ID)
}

func TestRoutingTableUnknownOwners(t *testing.T) {
	tbl := twoNodeTable(1)
	tbl.Owners[5] = []string{"ghost"}
	tbl.Owners[6] = nil
	r := NewRoutingTable(tbl)

	for _, pid := range []key.PartitionID{5, 6} {
		_, err := r.Owners(pid)
		assert.Equal(t, status.ErrInvalidNode, status.CodeOf(err), "partition %d", pid)
	}
}

func TestRoutingTableUpdateIgnoresOlder(t *testing.T) {
	r := NewRoutingTable(twoNodeTable(5))

	assert.False(t, r.Update(twoNodeTable(4)))
	assert.Equal(t, int64(5), r.Version())
	assert.True(t, r.Update(twoNodeTable(5)))
	assert.True(t, r.Update(twoNodeTable(6)))
	assert.Equal(t, int64(6), r.Version())
}

func TestRoutingTableRefresh(t *testing.T) {
	var version atomic.Int64
	version.Store(3)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PartitionsPath, r.URL.Path)
		_ = json.NewEncoder(w).Encode(twoNodeTable(version.Load()))
	}))
	defer server.Close()

	r := NewRoutingTable(nil)
	require.NoError(t, r.Refresh(context.Background(), server.URL))
	assert.Equal(t, int64(3), r.Version())

	owners, err := r.Owners(0)
	require.NoError(t, err)
	assert.Equal(t, "node-1", owners[0].ID)

	version.Store(4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Watch(ctx, server.URL, 10*time.Millisecond)
	assert.Eventually(t, func() bool { return r.Version() == 4 }, 2*time.Second, 10*time.Millisecond)
}

func TestRoutingTableRefreshFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	r := NewRoutingTable(twoNodeTable(2))
	err := r.Refresh(context.Background(), server.URL)
	assert.Equal(t, status.ErrConnection, status.CodeOf(err))
	assert.Equal(t, int64(2), r.Version(), "a failed refresh keeps the old table")
}

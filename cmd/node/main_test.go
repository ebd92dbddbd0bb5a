package main

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/config"
	"github.com/dreamware/torua-kv/internal/coordinator"
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/node"
	"github.com/dreamware/torua-kv/internal/operation"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

// startNode runs a node on a free port and returns its address and a stop
// function that waits for run to return
func startNode(t *testing.T, cfg config.Node) (cluster.NodeInfo, func() error) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	cfg.Addr = "http://" + ln.Addr().String()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, ln, &cfg, zap.NewNop()) }()

	stop := func() error {
		cancel()
		select {
		case err := <-done:
			return err
		case <-time.After(2 * shutdownTimeout):
			t.Fatal("node did not stop")
			return nil
		}
	}
	return cluster.NodeInfo{ID: cfg.ID, Addr: cfg.Addr}, stop
}

func TestNodeRegistersWithCoordinator(t *testing.T) {
	coord := coordinator.NewServer(1, zap.NewNop())
	srv := httptest.NewServer(coord.Handler())
	defer srv.Close()

	self, stop := startNode(t, config.Node{ID: "n1", Coordinator: srv.URL})
	defer func() { assert.NoError(t, stop()) }()

	require.Eventually(t, func() bool {
		var info node.Info
		if err := cluster.GetJSON(context.Background(), self.URL()+"/info", &info); err != nil {
			return false
		}
		return info.Count == key.PartitionCount
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, []cluster.NodeInfo{self}, coord.Nodes())

	resp, err := http.Get(self.URL() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRegisterGivesUpOnRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
	}))
	defer srv.Close()

	start := time.Now()
	err := register(context.Background(), srv.URL, cluster.NodeInfo{ID: "x"}, zap.NewNop())
	var httpErr *cluster.HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Less(t, time.Since(start), registerTimeout)
}

func TestRegisterStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := register(ctx, "127.0.0.1:1", cluster.NodeInfo{ID: "x", Addr: "y"}, zap.NewNop())
	assert.Error(t, err)
}

func TestStandaloneDataSurvivesRestart(t *testing.T) {
	dir := t.TempDir()
	cfg := config.Node{ID: "solo", Standalone: true, DataDir: dir}
	k, err := key.New("test", "demo", "persisted")
	require.NoError(t, err)
	ctx := context.Background()
	var tr cluster.HTTPTransport

	self, stop := startNode(t, cfg)
	resp, err := tr.Send(ctx, self, &cluster.Request{
		ID:      "put",
		Command: cluster.CommandOperate,
		Key:     *k,
		Ops:     []operation.Operation{operation.Write("a", value.Int(42))},
	})
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	require.NoError(t, stop())

	self, stop = startNode(t, cfg)
	defer func() { assert.NoError(t, stop()) }()
	resp, err = tr.Send(ctx, self, &cluster.Request{ID: "get", Command: cluster.CommandGet, Key: *k})
	require.NoError(t, err)
	require.NoError(t, resp.Err())
	assert.Equal(t, value.Bins{"a": value.Int(42)}, resp.Bins)

	missing, err := key.New("test", "demo", "never-written")
	require.NoError(t, err)
	resp, err = tr.Send(ctx, self, &cluster.Request{ID: "miss", Command: cluster.CommandGet, Key: *missing})
	require.NoError(t, err)
	assert.Equal(t, status.ErrRecordNotFound, resp.Code)
}

package integration

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dreamware/torua-kv/internal/client"
	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/config"
	"github.com/dreamware/torua-kv/internal/coordinator"
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/node"
	"github.com/dreamware/torua-kv/internal/operation"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

// TestSystem is a coordinator, its nodes and a client, all talking HTTP
type TestSystem struct {
	t        *testing.T
	coord    *coordinator.Server
	coordSrv *httptest.Server
	nodes    map[string]*httptest.Server
	client   *client.Client
}

// NewTestSystem starts a cluster of n nodes holding replicas copies of every
// partition
func NewTestSystem(t *testing.T, n, replicas int) *TestSystem {
	t.Helper()
	ts := &TestSystem{
		t:     t,
		coord: coordinator.NewServer(replicas, zap.NewNop()),
		nodes: make(map[string]*httptest.Server),
	}
	ts.coordSrv = httptest.NewServer(ts.coord.Handler())

	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("n%d", i)
		nd := node.New(id, node.WithLogger(zap.NewNop()), node.WithTransport(cluster.HTTPTransport{}))
		srv := httptest.NewServer(nd.Handler())
		ts.nodes[id] = srv
		require.NoError(t, cluster.PostJSON(context.Background(), ts.coordSrv.URL+"/register",
			cluster.RegisterRequest{Node: cluster.NodeInfo{ID: id, Addr: srv.URL}}, nil))
	}

	c, err := client.Connect(context.Background(), config.Client{
		Coordinator:      ts.coordSrv.URL,
		RefreshInterval:  100 * time.Millisecond,
		BatchConcurrency: 4,
	}, client.WithLogger(zap.NewNop()))
	require.NoError(t, err)
	ts.client = c
	t.Cleanup(ts.Stop)
	return ts
}

// Stop shuts every component down
func (ts *TestSystem) Stop() {
	ts.client.Close()
	for _, srv := range ts.nodes {
		srv.Close()
	}
	ts.coordSrv.Close()
}

// Kill stops serving node id without telling the coordinator
func (ts *TestSystem) Kill(id string) {
	ts.nodes[id].CloseClientConnections()
	ts.nodes[id].Close()
}

func (ts *TestSystem) key(pk any) *key.Key {
	k, err := key.New("test", "integration", pk)
	require.NoError(ts.t, err)
	return k
}

func TestDistributedStorage(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ts := NewTestSystem(t, 3, 2)

	t.Run("StoreAndRetrieve", func(t *testing.T) {
		testStoreAndRetrieve(t, ts)
	})
	t.Run("UpdateBumpsGeneration", func(t *testing.T) {
		testUpdateBumpsGeneration(t, ts)
	})
	t.Run("DeleteValue", func(t *testing.T) {
		testDeleteValue(t, ts)
	})
	t.Run("OperateAcrossTypes", func(t *testing.T) {
		testOperateAcrossTypes(t, ts)
	})
	t.Run("PartitionDistribution", func(t *testing.T) {
		testPartitionDistribution(t, ts)
	})
	t.Run("ConcurrentOperations", func(t *testing.T) {
		testConcurrentOperations(t, ts)
	})
	t.Run("BatchAcrossNodes", func(t *testing.T) {
		testBatchAcrossNodes(t, ts)
	})
}

func testStoreAndRetrieve(t *testing.T, ts *TestSystem) {
	ctx := context.Background()
	k := ts.key("greeting")
	require.NoError(t, ts.client.Put(ctx, k, map[string]any{"text": "Hello World", "n": 1}))

	rec, err := ts.client.Get(ctx, k, nil)
	require.NoError(t, err)
	assert.Equal(t, value.Bins{"text": value.String("Hello World"), "n": value.Int(1)}, rec.Bins)

	_, err = ts.client.Get(ctx, ts.key("never-stored"), nil)
	assert.Equal(t, status.ErrRecordNotFound, status.CodeOf(err))
}

func testUpdateBumpsGeneration(t *testing.T, ts *TestSystem) {
	ctx := context.Background()
	k := ts.key("counter")
	for i := 1; i <= 3; i++ {
		require.NoError(t, ts.client.Put(ctx, k, map[string]any{"v": i}))
	}
	rec, err := ts.client.Get(ctx, k, nil)
	require.NoError(t, err)
	assert.Equal(t, uint32(3), rec.Metadata.Generation)
	assert.Equal(t, value.Int(3), rec.Bins["v"])

	// every copy took each write
	rec, err = ts.client.Get(ctx, k, nil, policy.Options{Consistency: policy.Ptr(policy.ConsistencyAll)})
	require.NoError(t, err)
	assert.Equal(t, uint32(3), rec.Metadata.Generation)
}

func testDeleteValue(t *testing.T, ts *TestSystem) {
	ctx := context.Background()
	k := ts.key("temporary")
	require.NoError(t, ts.client.Put(ctx, k, map[string]any{"v": "x"}))
	require.NoError(t, ts.client.Remove(ctx, k))

	_, err := ts.client.Get(ctx, k, nil, policy.Options{Replica: policy.Ptr(policy.ReplicaAny)})
	assert.Equal(t, status.ErrRecordNotFound, status.CodeOf(err))
	assert.Equal(t, status.ErrRecordNotFound, status.CodeOf(ts.client.Remove(ctx, k)))
}

func testOperateAcrossTypes(t *testing.T, ts *TestSystem) {
	ctx := context.Background()
	k := ts.key("profile")
	require.NoError(t, ts.client.Put(ctx, k, map[string]any{"age": 33}))

	rec, err := ts.client.Operate(ctx, k, []operation.Operation{
		operation.Increment("age", value.Int(1)),
		operation.ListAppendOp("visits", value.String("home")),
		operation.MapPutOp("prefs", value.String("theme"), value.String("dark"), nil),
		operation.Read("age"),
	})
	require.NoError(t, err)
	assert.Equal(t, value.Int(34), rec.Bins["age"])

	rec, err = ts.client.Get(ctx, k, []string{"visits", "prefs"})
	require.NoError(t, err)
	assert.Equal(t, value.List{value.String("home")}, rec.Bins["visits"])
	prefs, ok := rec.Bins["prefs"].(*value.Map)
	require.True(t, ok, "prefs is %T", rec.Bins["prefs"])
	got, ok := prefs.Get(value.String("theme"))
	require.True(t, ok)
	assert.Equal(t, value.String("dark"), got)
}

func testPartitionDistribution(t *testing.T, ts *TestSystem) {
	tbl := ts.coord.Table()
	assert.Len(t, tbl.Nodes, 3)
	assert.Equal(t, 2, tbl.Replicas)

	masters := map[string]int{}
	for pid := range key.PartitionCount {
		owners := tbl.OwnersOf(key.PartitionID(pid))
		require.Len(t, owners, 2)
		assert.NotEqual(t, owners[0], owners[1])
		masters[owners[0]]++
	}
	for id, n := range masters {
		assert.InDelta(t, key.PartitionCount/3, n, 1, "node %s", id)
	}
}

func testConcurrentOperations(t *testing.T, ts *TestSystem) {
	ctx := context.Background()
	const clients = 10
	var wg sync.WaitGroup
	errs := make(chan error, clients*3)

	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ts.client.Put(ctx, ts.key(fmt.Sprintf("concurrent-%d", i)), map[string]any{"v": i}); err != nil {
				errs <- fmt.Errorf("put %d: %w", i, err)
			}
		}()
	}
	wg.Wait()

	for i := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := ts.client.Get(ctx, ts.key(fmt.Sprintf("concurrent-%d", i)), nil)
			if err != nil {
				errs <- fmt.Errorf("get %d: %w", i, err)
				return
			}
			if !value.Equal(rec.Bins["v"], value.Int(i)) {
				errs <- fmt.Errorf("get %d: got %v", i, rec.Bins["v"])
			}
		}()
	}

	// a shared counter incremented from every goroutine ends at the total
	counter := ts.key("shared-counter")
	for range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := ts.client.Increment(ctx, counter, "n", 1); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	rec, err := ts.client.Get(ctx, counter, nil)
	require.NoError(t, err)
	assert.Equal(t, value.Int(clients), rec.Bins["n"])
}

func testBatchAcrossNodes(t *testing.T, ts *TestSystem) {
	ctx := context.Background()
	keys := make([]*key.Key, 30)
	for i := range keys {
		keys[i] = ts.key(fmt.Sprintf("batch-%d", i))
		if i%3 != 0 {
			require.NoError(t, ts.client.Put(ctx, keys[i], map[string]any{"i": i}))
		}
	}

	for _, direct := range []bool{false, true} {
		res, err := ts.client.BatchGet(ctx, keys, nil, policy.Options{UseBatchDirect: policy.Ptr(direct)})
		require.NoError(t, err)
		require.Len(t, res, len(keys))
		for i, r := range res {
			assert.NoError(t, r.Err)
			assert.Equal(t, keys[i].Digest, r.Key.Digest, "slot %d", i)
			if i%3 == 0 {
				assert.False(t, r.Found(), "batch-%d", i)
				continue
			}
			require.True(t, r.Found(), "batch-%d", i)
			assert.Equal(t, value.Int(i), r.Bins["i"])
		}
	}
}

func TestSurvivesMasterLoss(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}
	ts := NewTestSystem(t, 2, 2)
	ctx := context.Background()
	k := ts.key("durable")
	require.NoError(t, ts.client.Put(ctx, k, map[string]any{"v": "kept"}))

	master := ts.coord.Table().OwnersOf(k.Partition())[0]
	ts.Kill(master)

	_, err := ts.client.Get(ctx, k, nil)
	assert.Equal(t, status.ErrConnection, status.CodeOf(err))

	rec, err := ts.client.Get(ctx, k, nil, policy.Options{Replica: policy.Ptr(policy.ReplicaSequence)})
	require.NoError(t, err)
	assert.Equal(t, value.String("kept"), rec.Bins["v"])

	// the coordinator notices the dead node and moves its partitions
	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go ts.coord.Monitor(mctx, 10*time.Millisecond, coordinator.HTTPCheck)
	require.Eventually(t, func() bool {
		rec, err := ts.client.Get(ctx, k, nil)
		return err == nil && value.Equal(rec.Bins["v"], value.String("kept"))
	}, 5*time.Second, 20*time.Millisecond)
}

package coordinator

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/exp/slices"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/logging"
)

// pushTimeout bounds one table push to one node
const pushTimeout = 4 * time.Second

// Server tracks registered nodes, owns the partition map and pushes every
// new table to all nodes. Nodes that fail health checks are left out of
// the next rebalance until they recover.
type Server struct {
	pmap    *PartitionMap
	monitor *HealthMonitor
	push    func(ctx context.Context, n cluster.NodeInfo, t *cluster.PartitionTable) error
	logger  *zap.Logger
	down    map[string]bool
	nodes   []cluster.NodeInfo
	mu      sync.RWMutex
}

// NewServer creates a coordinator keeping replicas copies of each partition
func NewServer(replicas int, logger *zap.Logger) *Server {
	if logger == nil {
		logger = logging.L()
	}
	return &Server{
		pmap:   NewPartitionMap(replicas),
		push:   pushTable,
		logger: logger,
		down:   make(map[string]bool),
	}
}

func pushTable(ctx context.Context, n cluster.NodeInfo, t *cluster.PartitionTable) error {
	return cluster.PostJSON(ctx, n.URL()+cluster.ControlPath, t, nil)
}

// Register adds or updates a node and rebalances when the node is new
func (s *Server) Register(ctx context.Context, n cluster.NodeInfo) {
	s.mu.Lock()
	idx := slices.IndexFunc(s.nodes, func(x cluster.NodeInfo) bool { return x.ID == n.ID })
	if idx >= 0 {
		s.nodes[idx] = n
		s.mu.Unlock()
		s.logger.Info("node re-registered", zap.String("node", n.ID), zap.String("addr", n.Addr))
		s.broadcast(ctx)
		return
	}
	s.nodes = append(s.nodes, n)
	s.mu.Unlock()

	s.logger.Info("node registered", zap.String("node", n.ID), zap.String("addr", n.Addr))
	s.Rebalance(ctx)
}

// Nodes returns the registered nodes in registration order
func (s *Server) Nodes() []cluster.NodeInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.nodes)
}

// Table returns the current partition table
func (s *Server) Table() *cluster.PartitionTable {
	return s.pmap.Table(s.Nodes())
}

// Map exposes the partition map
func (s *Server) Map() *PartitionMap { return s.pmap }

// Rebalance spreads partitions over the live nodes and pushes the result
func (s *Server) Rebalance(ctx context.Context) {
	s.mu.RLock()
	live := make([]string, 0, len(s.nodes))
	for _, n := range s.nodes {
		if !s.down[n.ID] {
			live = append(live, n.ID)
		}
	}
	s.mu.RUnlock()

	if err := s.pmap.Rebalance(live); err != nil {
		s.logger.Warn("rebalance skipped", zap.Error(err))
		return
	}
	s.logger.Info("partitions rebalanced", zap.Int("nodes", len(live)), zap.Int64("version", s.pmap.Version()))
	s.broadcast(ctx)
}

// broadcast pushes the current table to every live node
func (s *Server) broadcast(ctx context.Context) {
	t := s.Table()
	for _, n := range t.Nodes {
		s.mu.RLock()
		down := s.down[n.ID]
		s.mu.RUnlock()
		if down {
			continue
		}
		pctx, cancel := context.WithTimeout(ctx, pushTimeout)
		err := s.push(pctx, n, t)
		cancel()
		if err != nil {
			s.logger.Warn("partition table push failed", zap.String("node", n.ID), zap.Error(err))
		}
	}
}

func (s *Server) setDown(ctx context.Context, id string, down bool) {
	s.mu.Lock()
	changed := s.down[id] != down
	if down {
		s.down[id] = true
	} else {
		delete(s.down, id)
	}
	s.mu.Unlock()
	if changed {
		s.Rebalance(ctx)
	}
}

// Monitor health-checks registered nodes every interval, rebalancing when a
// node fails or recovers. It blocks until ctx is done.
func (s *Server) Monitor(ctx context.Context, interval time.Duration, check CheckFunc) {
	m := NewHealthMonitor(interval)
	m.SetLogger(s.logger)
	if check != nil {
		m.SetCheckFunction(check)
	}
	m.SetOnUnhealthy(func(id string) { s.setDown(ctx, id, true) })
	m.SetOnRecovered(func(id string) { s.setDown(ctx, id, false) })

	s.mu.Lock()
	s.monitor = m
	s.mu.Unlock()
	m.Start(ctx, s.Nodes)
}

// Health returns the health records, empty when Monitor is not running
func (s *Server) Health() map[string]*NodeHealth {
	s.mu.RLock()
	m := s.monitor
	s.mu.RUnlock()
	if m == nil {
		return map[string]*NodeHealth{}
	}
	return m.GetAllNodeHealth()
}

// Handler returns the coordinator HTTP API
func (s *Server) Handler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /register", s.handleRegister)
	mux.HandleFunc("GET /nodes", s.handleListNodes)
	mux.HandleFunc("GET "+PartitionsPath, func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, s.Table())
	})
	mux.HandleFunc("GET /partitions/{id}", s.handlePartition)
	mux.HandleFunc("POST /rebalance", func(w http.ResponseWriter, r *http.Request) {
		s.Rebalance(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req cluster.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if req.Node.ID == "" || req.Node.Addr == "" {
		http.Error(w, "missing id/addr", http.StatusBadRequest)
		return
	}
	s.Register(r.Context(), req.Node)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListNodes(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, struct {
		Nodes  []cluster.NodeInfo      `json:"nodes"`
		Health map[string]*NodeHealth `json:"health"`
	}{Nodes: s.Nodes(), Health: s.Health()})
}

func (s *Server) handlePartition(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 || id >= key.PartitionCount {
		http.Error(w, "invalid partition id", http.StatusBadRequest)
		return
	}
	a := s.pmap.Get(key.PartitionID(id))
	if a == nil {
		http.Error(w, "partition not assigned", http.StatusNotFound)
		return
	}
	writeJSON(w, a)
}

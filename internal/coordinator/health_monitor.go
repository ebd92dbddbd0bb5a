// Package coordinator provides the partition map and the coordinator server.
// This file implements health monitoring for registered storage nodes.
package coordinator

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/logging"
)

// HealthStatus is the monitor's verdict on a node
type HealthStatus string

const (
	StatusUnknown   HealthStatus = "unknown"
	StatusHealthy   HealthStatus = "healthy"
	StatusUnhealthy HealthStatus = "unhealthy"
)

// NodeHealth tracks the health of a single node in the cluster.
// It keeps the current status, the time of the last successful check and
// the number of failures since then.
// Thread-safe: Protected by HealthMonitor's mutex; callers only see copies.
type NodeHealth struct {
	LastCheck        time.Time    `json:"last_check"`
	LastHealthy      time.Time    `json:"last_healthy"`
	NodeID           string       `json:"node_id"`
	Status           HealthStatus `json:"status"`
	ConsecutiveFails int          `json:"consecutive_fails"`
}

// CheckFunc probes one node
type CheckFunc func(ctx context.Context, node cluster.NodeInfo) error

// HealthMonitor polls nodes and reports transitions between healthy and
// unhealthy. A node turns unhealthy after maxFailures consecutive failed
// checks and healthy again on its first successful one. The coordinator
// rebalances the partition map on both transitions.
// Thread-safe: All methods are safe for concurrent access.
type HealthMonitor struct {
	nodes       map[string]*NodeHealth // Current health per node
	check       CheckFunc              // Probe, /health over HTTP by default
	onUnhealthy func(nodeID string)    // Called once per healthy to unhealthy transition
	onRecovered func(nodeID string)    // Called once per unhealthy to healthy transition
	logger      *zap.Logger
	cancel      context.CancelFunc
	interval    time.Duration // Time between check rounds
	timeout     time.Duration // Bound on one probe
	mu          sync.RWMutex  // Protects nodes
	wg          sync.WaitGroup
	maxFailures int
}

// NewHealthMonitor creates a health monitor with the specified check interval.
// Nodes are probed with HTTPCheck and marked unhealthy after 3 consecutive
// failures.
//
// Parameters:
//   - interval: How often to check every node (recommended: 5s)
//
// Returns:
//   - *HealthMonitor: Configured monitor ready to start
//
// Example:
//
//	monitor := NewHealthMonitor(5 * time.Second)
//	go monitor.Start(ctx, srv.Nodes)
func NewHealthMonitor(interval time.Duration) *HealthMonitor {
	return &HealthMonitor{
		interval:    interval,
		timeout:     2 * time.Second,
		maxFailures: 3,
		nodes:       make(map[string]*NodeHealth),
		check:       HTTPCheck,
		logger:      logging.L(),
	}
}

// SetOnUnhealthy registers the callback fired when a node becomes unhealthy.
// The callback runs on its own goroutine, once per transition.
//
// Example:
//
//	monitor.SetOnUnhealthy(func(nodeID string) {
//	    srv.Rebalance(ctx)
//	})
func (h *HealthMonitor) SetOnUnhealthy(fn func(nodeID string)) { h.onUnhealthy = fn }

// SetOnRecovered registers the callback fired when an unhealthy node passes a check
func (h *HealthMonitor) SetOnRecovered(fn func(nodeID string)) { h.onRecovered = fn }

// SetCheckFunction replaces the probe. Call before Start.
func (h *HealthMonitor) SetCheckFunction(fn CheckFunc) { h.check = fn }

// SetLogger replaces the logger. Call before Start.
func (h *HealthMonitor) SetLogger(l *zap.Logger) { h.logger = l }

// Start checks the nodes returned by nodeProvider every interval until ctx
// is done or Stop is called. The first round runs immediately. Nodes that
// disappear from nodeProvider are dropped from the health records.
// This method blocks.
//
// Parameters:
//   - ctx: Context for cancellation
//   - nodeProvider: Function returning the current node list
func (h *HealthMonitor) Start(ctx context.Context, nodeProvider func() []cluster.NodeInfo) {
	h.wg.Add(1)
	defer h.wg.Done()

	ctx, cancel := context.WithCancel(ctx)
	h.mu.Lock()
	h.cancel = cancel
	h.mu.Unlock()
	defer cancel()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	h.logger.Info("health monitor started", zap.Duration("interval", h.interval))
	h.checkAll(ctx, nodeProvider())
	for {
		select {
		case <-ticker.C:
			h.checkAll(ctx, nodeProvider())
		case <-ctx.Done():
			h.logger.Info("health monitor stopped")
			return
		}
	}
}

// Stop ends a running Start and waits for it to return
func (h *HealthMonitor) Stop() {
	h.mu.RLock()
	cancel := h.cancel
	h.mu.RUnlock()
	if cancel != nil {
		cancel()
	}
	h.wg.Wait()
}

func (h *HealthMonitor) checkAll(ctx context.Context, nodes []cluster.NodeInfo) {
	current := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		current[n.ID] = true
		h.checkNode(ctx, n)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for id := range h.nodes {
		if !current[id] {
			delete(h.nodes, id)
			h.logger.Debug("node removed from health monitoring", zap.String("node", id))
		}
	}
}

func (h *HealthMonitor) checkNode(ctx context.Context, n cluster.NodeInfo) {
	h.mu.Lock()
	health, ok := h.nodes[n.ID]
	if !ok {
		now := time.Now()
		health = &NodeHealth{NodeID: n.ID, Status: StatusUnknown, LastCheck: now, LastHealthy: now}
		h.nodes[n.ID] = health
	}
	h.mu.Unlock()

	cctx, cancel := context.WithTimeout(ctx, h.timeout)
	err := h.check(cctx, n)
	cancel()

	h.mu.Lock()
	defer h.mu.Unlock()
	health.LastCheck = time.Now()
	log := h.logger.With(zap.String("node", n.ID))

	if err != nil {
		health.ConsecutiveFails++
		log.Debug("health check failed",
			zap.Int("attempt", health.ConsecutiveFails),
			zap.Int("max", h.maxFailures),
			zap.Error(err))
		if health.ConsecutiveFails >= h.maxFailures && health.Status != StatusUnhealthy {
			health.Status = StatusUnhealthy
			log.Warn("node marked unhealthy", zap.Int("failures", health.ConsecutiveFails))
			if h.onUnhealthy != nil {
				go h.onUnhealthy(n.ID)
			}
		}
		return
	}

	if health.Status == StatusUnhealthy {
		log.Info("node recovered")
		if h.onRecovered != nil {
			go h.onRecovered(n.ID)
		}
	}
	health.Status = StatusHealthy
	health.ConsecutiveFails = 0
	health.LastHealthy = health.LastCheck
}

// HTTPCheck is the default CheckFunc. It expects 200 OK from the node's
// /health endpoint.
//
// Returns:
//   - error: Transport failure or unexpected status; nil when healthy
func HTTPCheck(ctx context.Context, n cluster.NodeInfo) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.URL()+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}

// GetNodeHealth returns a copy of the node's health record, or nil
func (h *HealthMonitor) GetNodeHealth(nodeID string) *NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.nodes[nodeID]
	if !ok {
		return nil
	}
	c := *health
	return &c
}

// GetAllNodeHealth returns copies of every health record
func (h *HealthMonitor) GetAllNodeHealth() map[string]*NodeHealth {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make(map[string]*NodeHealth, len(h.nodes))
	for id, health := range h.nodes {
		c := *health
		out[id] = &c
	}
	return out
}

// IsHealthy reports whether the last verdict on nodeID was healthy
func (h *HealthMonitor) IsHealthy(nodeID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	health, ok := h.nodes[nodeID]
	return ok && health.Status == StatusHealthy
}

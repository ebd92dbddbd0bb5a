package node

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/key"
)

// Handler returns the node HTTP API:
//
//	POST /v1/record                single-record request
//	POST /v1/batch                 batch read
//	POST /control                  apply a partition table
//	GET  /health                   liveness
//	GET  /info                     held partitions
//	GET  /partitions/{id}/stats    partition counters
func (n *Node) Handler() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST "+cluster.RecordPath, n.handleRecord)
	mux.HandleFunc("POST "+cluster.BatchPath, n.handleBatch)
	mux.HandleFunc("POST "+cluster.ControlPath, n.handleControl)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("GET /info", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, n.Info())
	})
	mux.HandleFunc("GET /partitions/{id}/stats", n.handleStats)
	return mux
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (n *Node) handleRecord(w http.ResponseWriter, r *http.Request) {
	var req cluster.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, n.Execute(r.Context(), &req))
}

func (n *Node) handleBatch(w http.ResponseWriter, r *http.Request) {
	var req cluster.BatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json: "+err.Error(), http.StatusBadRequest)
		return
	}
	writeJSON(w, n.ExecuteBatch(r.Context(), &req))
}

func (n *Node) handleControl(w http.ResponseWriter, r *http.Request) {
	var table cluster.PartitionTable
	if err := json.NewDecoder(r.Body).Decode(&table); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if err := n.SetAssignments(&table); err != nil {
		n.logger.Error("apply partition table", zap.Int64("version", table.Version), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (n *Node) handleStats(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(r.PathValue("id"))
	if err != nil || id < 0 || id >= key.PartitionCount {
		http.Error(w, "invalid partition id", http.StatusBadRequest)
		return
	}
	p := n.Partition(key.PartitionID(id))
	if p == nil {
		http.Error(w, "partition not held", http.StatusNotFound)
		return
	}
	writeJSON(w, struct {
		Info  any `json:"info"`
		Stats any `json:"stats"`
	}{p.Info(), p.GetStats()})
}

package cluster

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dreamware/torua-kv/internal/key"
)

// NodeInfo identifies a storage node and where it listens
type NodeInfo struct {
	ID   string `json:"id"`
	Addr string `json:"addr"`
}

// URL returns the node's base URL, adding a scheme when Addr has none
func (n NodeInfo) URL() string {
	return BaseURL(n.Addr)
}

// BaseURL normalizes addr into an http URL without a trailing slash
func BaseURL(addr string) string {
	if !strings.HasPrefix(addr, "http://") && !strings.HasPrefix(addr, "https://") {
		addr = "http://" + addr
	}
	return strings.TrimRight(addr, "/")
}

// RegisterRequest is sent by a node to join the cluster
type RegisterRequest struct {
	Node NodeInfo `json:"node"`
}

// PartitionTable is the coordinator's view of partition ownership. Owners
// has one entry per partition; each lists node ids with the master first.
// Version increases with every change, so receivers can drop stale tables.
// Tables are values: the coordinator builds a new one per change and never
// modifies a table it has handed out.
type PartitionTable struct {
	Nodes    []NodeInfo `json:"nodes"`
	Owners   [][]string `json:"owners"`
	Version  int64      `json:"version"`
	Replicas int        `json:"replicas"`
}

// OwnersOf returns the node ids holding pid, master first
func (t *PartitionTable) OwnersOf(pid key.PartitionID) []string {
	if int(pid) >= len(t.Owners) {
		return nil
	}
	return t.Owners[pid]
}

// HTTPError reports a non-2xx reply. Body holds at most the first 512 bytes
// of the response, trimmed.
type HTTPError struct {
	URL        string
	Body       string
	StatusCode int
}

func (e *HTTPError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("http %s: %d: %s", e.URL, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("http %s: %d", e.URL, e.StatusCode)
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

// PostJSON posts body as JSON and decodes the reply into out when non-nil.
// The request is bounded by ctx and by the package client's 30s timeout.
//
// Parameters:
//   - ctx: Context bounding the request
//   - url: Full endpoint URL, usually NodeInfo.URL() plus a path
//   - body: Value encoded as the JSON request body
//   - out: Destination for the JSON reply, or nil to discard it
//
// Returns:
//   - error: Transport failure, *HTTPError for a non-2xx reply, or a decode error
//
// Example:
//
//	var resp Response
//	err := PostJSON(ctx, node.URL()+RecordPath, req, &resp)
func PostJSON(ctx context.Context, url string, body any, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return do(req, out)
}

// GetJSON fetches url and decodes the JSON reply into out.
// Non-2xx replies are reported as *HTTPError, like PostJSON.
//
// Example:
//
//	var tbl PartitionTable
//	err := GetJSON(ctx, coordinatorURL+"/partitions", &tbl)
func GetJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	return do(req, out)
}

func do(req *http.Request, out any) error {
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return &HTTPError{URL: req.URL.String(), StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

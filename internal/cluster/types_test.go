package cluster

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/operation"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/record"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

func TestBaseURL(t *testing.T) {
	tests := []struct {
		addr string
		want string
	}{
		{"localhost:8080", "http://localhost:8080"},
		{"http://localhost:8080/", "http://localhost:8080"},
		{"https://node-1:443", "https://node-1:443"},
	}
	for _, tt := range tests {
		t.Run(tt.addr, func(t *testing.T) {
			if got := BaseURL(tt.addr); got != tt.want {
				t.Errorf("BaseURL(%q) = %q, want %q", tt.addr, got, tt.want)
			}
			assert.Equal(t, tt.want, NodeInfo{Addr: tt.addr}.URL())
		})
	}
}

func TestPostJSON(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		body        string
		delay       time.Duration
		expectError bool
	}{
		{"ok with body", http.StatusOK, `{"status":"ok"}`, 0, false},
		{"server error", http.StatusInternalServerError, "boom", 0, true},
		{"bad request", http.StatusBadRequest, "", 0, true},
		{"timeout", http.StatusOK, `{}`, 200 * time.Millisecond, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				// Verify request shape
				if r.Method != http.MethodPost {
					t.Errorf("Expected POST, got %s", r.Method)
				}
				if ct := r.Header.Get("Content-Type"); ct != "application/json" {
					t.Errorf("Expected JSON content type, got %s", ct)
				}
				if tt.delay > 0 {
					time.Sleep(tt.delay)
				}
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
			defer cancel()

			var out map[string]string
			err := PostJSON(ctx, server.URL, map[string]string{"k": "v"}, &out)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "ok", out["status"])
		})
	}
}

func TestHTTPErrorCarriesBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad key", http.StatusBadRequest)
	}))
	defer server.Close()

	err := GetJSON(context.Background(), server.URL+"/x", &struct{}{})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusBadRequest, httpErr.StatusCode)
	assert.Equal(t, "bad key", httpErr.Body)
	assert.Contains(t, err.Error(), "400")
}

func TestGetJSON(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("Expected GET, got %s", r.Method)
		}
		_ = json.NewEncoder(w).Encode(PartitionTable{Version: 3, Replicas: 2, Owners: [][]string{{"a", "b"}}})
	}))
	defer server.Close()

	var table PartitionTable
	require.NoError(t, GetJSON(context.Background(), server.URL, &table))
	assert.Equal(t, int64(3), table.Version)
	assert.Equal(t, []string{"a", "b"}, table.OwnersOf(0))
	assert.Nil(t, table.OwnersOf(1))
}

func TestRequestJSON(t *testing.T) {
	k, err := key.New("test", "users", "alice")
	require.NoError(t, err)

	req := Request{
		ID:      "req-1",
		Command: CommandOperate,
		Key:     *k,
		Ops: []operation.Operation{
			operation.Increment("age", value.Int(1)),
			operation.Read("age"),
		},
		Write: WritePolicy{
			Gen:    policy.Generation{Mode: policy.GenEQ, Value: 4},
			Exists: policy.ExistsUpdate,
			Key:    policy.KeySend,
			TTL:    policy.TTLNeverExpire,
		},
	}

	data, err := json.Marshal(req)
	require.NoError(t, err)

	var back Request
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, req.Key.Digest, back.Key.Digest)
	assert.Equal(t, "alice", back.Key.UserKey.Str)
	assert.Equal(t, req.Write, back.Write)
	require.Len(t, back.Ops, 2)
	assert.Equal(t, value.Int(1), back.Ops[0].Value)
	assert.Equal(t, operation.KindRead, back.Ops[1].Kind)
}

func TestResponseErr(t *testing.T) {
	ok := &Response{Code: status.OK, Metadata: &record.Metadata{Generation: 1}}
	assert.NoError(t, ok.Err())

	missing := &Response{Code: status.ErrRecordNotFound, Message: "record not found", Node: "n1"}
	err := missing.Err()
	assert.ErrorIs(t, err, status.ErrRecordNotFound)
	assert.Contains(t, err.Error(), "n1")

	resp := ErrorResponse("n2", status.New(status.ErrRecordGeneration, "stale"))
	assert.Equal(t, status.ErrRecordGeneration, resp.Code)
	assert.Equal(t, "stale", resp.Message)
	assert.Equal(t, "n2", resp.Node)

	item := BatchItem{Code: status.ErrTimeout}
	assert.Equal(t, status.ErrTimeout, status.CodeOf(item.Err("n3")))
}

type echoHandler struct{}

func (echoHandler) Execute(_ context.Context, req *Request) *Response {
	return &Response{Code: status.OK, Message: req.ID}
}

func (echoHandler) ExecuteBatch(_ context.Context, req *BatchRequest) *BatchResponse {
	return &BatchResponse{Items: make([]BatchItem, len(req.Keys))}
}

func TestHTTPTransport(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc(RecordPath, func(w http.ResponseWriter, r *http.Request) {
		var req Request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(echoHandler{}.Execute(r.Context(), &req))
	})
	mux.HandleFunc(BatchPath, func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(100 * time.Millisecond)
		_ = json.NewEncoder(w).Encode(BatchResponse{})
	})
	server := httptest.NewServer(mux)
	defer server.Close()

	node := NodeInfo{ID: "n1", Addr: server.URL}
	var tr Transport = HTTPTransport{}

	resp, err := tr.Send(context.Background(), node, &Request{ID: "abc", Command: CommandGet})
	require.NoError(t, err)
	assert.Equal(t, "abc", resp.Message)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = tr.SendBatch(ctx, node, &BatchRequest{})
	assert.Equal(t, status.ErrTimeout, status.CodeOf(err))

	server.Close()
	_, err = tr.Send(context.Background(), node, &Request{})
	assert.Equal(t, status.ErrConnection, status.CodeOf(err))
}

func TestLocalTransport(t *testing.T) {
	tr := NewLocalTransport()
	node := NodeInfo{ID: "n1"}

	_, err := tr.Send(context.Background(), node, &Request{})
	assert.Equal(t, status.ErrConnection, status.CodeOf(err))

	tr.Register("n1", echoHandler{})
	resp, err := tr.Send(context.Background(), node, &Request{ID: "x"})
	require.NoError(t, err)
	assert.Equal(t, "x", resp.Message)

	batch, err := tr.SendBatch(context.Background(), node, &BatchRequest{Keys: make([]key.Key, 3)})
	require.NoError(t, err)
	assert.Len(t, batch.Items, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Send(ctx, node, &Request{})
	assert.Equal(t, status.ErrClientAbort, status.CodeOf(err))

	tr.Unregister("n1")
	_, err = tr.SendBatch(context.Background(), node, &BatchRequest{})
	assert.Equal(t, status.ErrConnection, status.CodeOf(err))
}

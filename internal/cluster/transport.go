package cluster

import (
	"context"
	"errors"
	"sync"

	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/status"
)

// Transport delivers requests to nodes. Implementations honour the ctx
// deadline and report failures as *status.Error values with ERR_TIMEOUT or
// ERR_CONNECTION; record outcomes travel inside the response.
type Transport interface {
	Send(ctx context.Context, node NodeInfo, req *Request) (*Response, error)
	SendBatch(ctx context.Context, node NodeInfo, req *BatchRequest) (*BatchResponse, error)
}

// Router resolves the nodes holding a partition, master first. It is a
// pure lookup; keeping it current is the implementation's business.
type Router interface {
	Owners(pid key.PartitionID) ([]NodeInfo, error)
}

// Handler executes requests on a node
type Handler interface {
	Execute(ctx context.Context, req *Request) *Response
	ExecuteBatch(ctx context.Context, req *BatchRequest) *BatchResponse
}

// Paths of the node API
const (
	RecordPath = "/v1/record"
	BatchPath  = "/v1/batch"
	// ControlPath receives partition tables pushed by the coordinator
	ControlPath = "/control"
)

// HTTPTransport sends requests as JSON over HTTP
type HTTPTransport struct{}

// Send posts req to the node's record endpoint
func (HTTPTransport) Send(ctx context.Context, node NodeInfo, req *Request) (*Response, error) {
	var resp Response
	if err := PostJSON(ctx, node.URL()+RecordPath, req, &resp); err != nil {
		return nil, transportError(ctx, node, err)
	}
	return &resp, nil
}

// SendBatch posts req to the node's batch endpoint
func (HTTPTransport) SendBatch(ctx context.Context, node NodeInfo, req *BatchRequest) (*BatchResponse, error) {
	var resp BatchResponse
	if err := PostJSON(ctx, node.URL()+BatchPath, req, &resp); err != nil {
		return nil, transportError(ctx, node, err)
	}
	return &resp, nil
}

// transportError classifies a delivery failure
func transportError(ctx context.Context, node NodeInfo, err error) error {
	code := status.ErrConnection
	var httpErr *HTTPError
	switch {
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		code = status.ErrTimeout
	case errors.Is(err, context.Canceled):
		code = status.ErrClientAbort
	case errors.As(err, &httpErr) && httpErr.StatusCode == 400:
		code = status.ErrRequestInvalid
	}
	return &status.Error{Code: code, Err: err, Node: node.ID}
}

// LocalTransport delivers requests to in-process handlers. Unknown or
// removed nodes fail like unreachable ones.
type LocalTransport struct {
	mu    sync.RWMutex
	nodes map[string]Handler
}

// NewLocalTransport creates an empty LocalTransport
func NewLocalTransport() *LocalTransport {
	return &LocalTransport{nodes: make(map[string]Handler)}
}

// Register makes h reachable as node id
func (t *LocalTransport) Register(id string, h Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nodes[id] = h
}

// Unregister makes node id unreachable
func (t *LocalTransport) Unregister(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.nodes, id)
}

func (t *LocalTransport) handler(ctx context.Context, node NodeInfo) (Handler, error) {
	if err := ctx.Err(); err != nil {
		return nil, transportError(ctx, node, err)
	}
	t.mu.RLock()
	h, ok := t.nodes[node.ID]
	t.mu.RUnlock()
	if !ok {
		return nil, status.New(status.ErrConnection, "node %s unreachable", node.ID)
	}
	return h, nil
}

// Send executes req on the registered handler
func (t *LocalTransport) Send(ctx context.Context, node NodeInfo, req *Request) (*Response, error) {
	h, err := t.handler(ctx, node)
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, req), nil
}

// SendBatch executes req on the registered handler
func (t *LocalTransport) SendBatch(ctx context.Context, node NodeInfo, req *BatchRequest) (*BatchResponse, error) {
	h, err := t.handler(ctx, node)
	if err != nil {
		return nil, err
	}
	return h.ExecuteBatch(ctx, req), nil
}

package cluster

import (
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/operation"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/record"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

// Command selects what a node does with a Request
type Command string

const (
	CommandGet     Command = "get"
	CommandExists  Command = "exists"
	CommandOperate Command = "operate"
	CommandDelete  Command = "delete"
	// CommandReplicate installs Record on a replica, or removes the
	// record when Record is nil
	CommandReplicate Command = "replicate"
)

// WritePolicy is the part of an effective policy a node enforces
type WritePolicy struct {
	Gen           policy.Generation   `json:"gen"`
	Exists        policy.ExistsPolicy `json:"exists"`
	Key           policy.KeyPolicy    `json:"key"`
	CommitLevel   policy.CommitLevel  `json:"commit_level"`
	TTL           int32               `json:"ttl"`
	DurableDelete bool                `json:"durable_delete,omitempty"`
}

// Request is a single-record request sent to the node owning the key
type Request struct {
	ID      string                `json:"id"`
	Command Command               `json:"command"`
	Key     key.Key               `json:"key"`
	Bins    []string              `json:"bins,omitempty"`
	Ops     []operation.Operation `json:"ops,omitempty"`
	Write   WritePolicy           `json:"write"`
	Record  *record.Stored        `json:"record,omitempty"`
	// Replica allows a node holding a replica copy to serve a read
	Replica bool `json:"replica,omitempty"`
}

// Response is a node's answer to a Request. Code carries the record
// outcome; transport failures never produce a Response.
type Response struct {
	Key      *key.Key         `json:"key,omitempty"`
	Metadata *record.Metadata `json:"metadata,omitempty"`
	Bins     value.Bins       `json:"bins,omitempty"`
	Message  string           `json:"message,omitempty"`
	Node     string           `json:"node,omitempty"`
	Code     status.Code      `json:"code"`
}

// Err returns the response outcome as an error, nil when it is OK
func (r *Response) Err() error {
	return outcome(r.Code, r.Message, r.Node)
}

func outcome(code status.Code, msg, node string) error {
	if code == status.OK {
		return nil
	}
	return &status.Error{Code: code, Message: msg, Node: node}
}

// ErrorResponse converts err into a Response
func ErrorResponse(node string, err error) *Response {
	se := status.FromError(err)
	msg := se.Message
	if msg == "" && se.Err != nil {
		msg = se.Err.Error()
	}
	return &Response{Code: se.Code, Message: msg, Node: node}
}

// BatchRequest reads many keys from one node. HeaderOnly requests
// metadata without bins.
type BatchRequest struct {
	ID         string    `json:"id"`
	Keys       []key.Key `json:"keys"`
	Bins       []string  `json:"bins,omitempty"`
	HeaderOnly bool      `json:"header_only,omitempty"`
	Replica    bool      `json:"replica,omitempty"`
}

// BatchItem is the outcome for one key of a BatchRequest
type BatchItem struct {
	Key      *key.Key         `json:"key,omitempty"`
	Metadata *record.Metadata `json:"metadata,omitempty"`
	Bins     value.Bins       `json:"bins,omitempty"`
	Message  string           `json:"message,omitempty"`
	Code     status.Code      `json:"code"`
}

// Err returns the item outcome as an error, nil when it is OK
func (it *BatchItem) Err(node string) error {
	return outcome(it.Code, it.Message, node)
}

// BatchResponse holds one item per requested key, in request order
type BatchResponse struct {
	Node  string      `json:"node,omitempty"`
	Items []BatchItem `json:"items"`
}

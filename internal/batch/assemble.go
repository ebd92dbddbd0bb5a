package batch

import (
	"sync"

	"github.com/dreamware/torua-kv/internal/cluster"
	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/record"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

// Result is the outcome for one key of a batch call. A record that does not
// exist has nil Metadata and Bins and a nil Err; Err is set only when the key
// could not be read.
type Result struct {
	Key      *key.Key
	Metadata *record.Metadata
	Bins     value.Bins
	Err      error
}

// Found reports whether the record exists
func (r *Result) Found() bool {
	return r.Metadata != nil
}

// assembler places sub-batch outcomes into the caller's order. Sub-batches
// finish concurrently, each writing only its own slots.
type assembler struct {
	results  []Result
	failures int
	first    error
	mu       sync.Mutex
}

func newAssembler(keys []*key.Key) *assembler {
	a := &assembler{results: make([]Result, len(keys))}
	for i, k := range keys {
		a.results[i].Key = k
	}
	return a
}

// place stores the items of a sub-batch; items[j] belongs to slot slots[j]
func (a *assembler) place(slots []int, resp *cluster.BatchResponse, opaque bool) {
	if len(resp.Items) != len(slots) {
		a.fail(slots, status.New(status.ErrServer,
			"node %s answered %d items for %d keys", resp.Node, len(resp.Items), len(slots)))
		return
	}

	for j, slot := range slots {
		item := &resp.Items[j]
		r := &a.results[slot]
		switch item.Code {
		case status.OK:
			r.Metadata = item.Metadata
			r.Bins = item.Bins
			if opaque {
				r.Bins = r.Bins.Opaque()
			}
			if item.Key != nil {
				r.Key = item.Key
			}
		case status.ErrRecordNotFound:
		default:
			r.Err = item.Err(resp.Node)
		}
	}
}

// fail marks every slot of a failed sub-batch with err
func (a *assembler) fail(slots []int, err error) {
	for _, slot := range slots {
		a.results[slot].Err = err
	}
	a.mu.Lock()
	a.failures++
	if a.first == nil {
		a.first = err
	}
	a.mu.Unlock()
}

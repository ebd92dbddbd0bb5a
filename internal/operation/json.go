package operation

import (
	"encoding/json"

	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/value"
)

type wireOp struct {
	Value      *value.Box            `json:"val,omitempty"`
	Key        *value.Box            `json:"key,omitempty"`
	RangeEnd   *value.Box            `json:"range_end,omitempty"`
	Index      *int64                `json:"index,omitempty"`
	Count      *int64                `json:"count,omitempty"`
	Rank       *int64                `json:"rank,omitempty"`
	ReturnType *policy.MapReturnType `json:"return_type,omitempty"`
	MapPolicy  *policy.MapPolicy     `json:"map_policy,omitempty"`
	TTL        *int32                `json:"ttl,omitempty"`
	Bin        string                `json:"bin,omitempty"`
	Kind       Kind                  `json:"kind"`
	List       ListOp                `json:"list,omitempty"`
	Map        MapOp                 `json:"map,omitempty"`
}

func box(v value.Value) *value.Box {
	if v == nil {
		return nil
	}
	return &value.Box{V: v}
}

func unbox(b *value.Box) value.Value {
	if b == nil {
		return nil
	}
	return b.V
}

// MarshalJSON keeps absent operands distinct from explicit nulls
func (op Operation) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireOp{
		Value:      box(op.Value),
		Key:        box(op.Key),
		RangeEnd:   box(op.RangeEnd),
		Index:      op.Index,
		Count:      op.Count,
		Rank:       op.Rank,
		ReturnType: op.ReturnType,
		MapPolicy:  op.MapPolicy,
		TTL:        op.TTL,
		Bin:        op.Bin,
		Kind:       op.Kind,
		List:       op.List,
		Map:        op.Map,
	})
}

// UnmarshalJSON implements json.Unmarshaler
func (op *Operation) UnmarshalJSON(data []byte) error {
	var w wireOp
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*op = Operation{
		Value:      unbox(w.Value),
		Key:        unbox(w.Key),
		RangeEnd:   unbox(w.RangeEnd),
		Index:      w.Index,
		Count:      w.Count,
		Rank:       w.Rank,
		ReturnType: w.ReturnType,
		MapPolicy:  w.MapPolicy,
		TTL:        w.TTL,
		Bin:        w.Bin,
		Kind:       w.Kind,
		List:       w.List,
		Map:        w.Map,
	}
	return nil
}

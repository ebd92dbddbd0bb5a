package operation

import (
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

type rawOp struct {
	Val        any                   `mapstructure:"val"`
	Value      any                   `mapstructure:"value"`
	Key        any                   `mapstructure:"key"`
	RangeEnd   any                   `mapstructure:"range_end"`
	Index      *int64                `mapstructure:"index"`
	Count      *int64                `mapstructure:"count"`
	Rank       *int64                `mapstructure:"rank"`
	ReturnType *policy.MapReturnType `mapstructure:"return_type"`
	MapPolicy  *policy.MapPolicy     `mapstructure:"map_policy"`
	TTL        *int32                `mapstructure:"ttl"`
	Op         string                `mapstructure:"op"`
	Bin        string                `mapstructure:"bin"`
}

var topLevel = map[string]Kind{
	"OPERATOR_WRITE":   KindWrite,
	"OPERATOR_READ":    KindRead,
	"OPERATOR_INCR":    KindIncrement,
	"OPERATOR_APPEND":  KindAppend,
	"OPERATOR_PREPEND": KindPrepend,
	"OPERATOR_TOUCH":   KindTouch,
}

// Parse builds operations from string-keyed descriptions such as
// {"op": "OPERATOR_INCR", "bin": "age", "val": 1} or
// {"op": "OP_MAP_GET_BY_RANK", "bin": "m", "rank": -1, "return_type": "MAP_RETURN_KEY"}.
// Values are converted with mode.
func Parse(raw []map[string]any, mode value.SerializerMode) ([]Operation, error) {
	ops := make([]Operation, 0, len(raw))
	for i, r := range raw {
		op, err := parseOne(r, mode)
		if err != nil {
			return nil, status.Wrap(status.ErrParam, err, "operation %d", i)
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func parseOne(r map[string]any, mode value.SerializerMode) (Operation, error) {
	var raw rawOp
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:      &raw,
		ErrorUnused: true,
		DecodeHook:  mapstructure.TextUnmarshallerHookFunc(),
	})
	if err != nil {
		return Operation{}, err
	}
	if err := dec.Decode(r); err != nil {
		return Operation{}, err
	}

	var op Operation
	name := strings.ToUpper(strings.TrimSpace(raw.Op))
	if k, ok := topLevel[name]; ok {
		op.Kind = k
	} else if l, ok := lookup(listNames, name); ok {
		op.Kind, op.List = KindList, ListOp(l)
	} else if m, ok := lookup(mapNames, name); ok {
		op.Kind, op.Map = KindMap, MapOp(m)
	} else {
		return Operation{}, status.New(status.ErrParam, "unknown op %q", raw.Op)
	}

	op.Bin = raw.Bin
	op.Index, op.Count, op.Rank = raw.Index, raw.Count, raw.Rank
	op.ReturnType, op.MapPolicy, op.TTL = raw.ReturnType, raw.MapPolicy, raw.TTL

	val := raw.Val
	if val == nil {
		val = raw.Value
	}
	// List ranges carry their count in "val" in the classic form.
	if op.Kind == KindList && op.Count == nil {
		switch op.List {
		case ListPopRange, ListRemoveRange, ListGetRange, ListTrim:
			if val != nil {
				n, err := toInt64(val)
				if err != nil {
					return Operation{}, err
				}
				op.Count = &n
				val = nil
			}
		}
	}

	if op.Value, err = convert(val, mode); err != nil {
		return Operation{}, err
	}
	if op.Key, err = convert(raw.Key, mode); err != nil {
		return Operation{}, err
	}
	if op.RangeEnd, err = convert(raw.RangeEnd, mode); err != nil {
		return Operation{}, err
	}
	if _, present := r["range_end"]; present && op.RangeEnd == nil {
		op.RangeEnd = value.Null{}
	}
	if _, present := r["val"]; present && op.Value == nil && op.Kind == KindWrite {
		op.Value = value.Null{}
	}
	return op, nil
}

func lookup(names []string, name string) (int, bool) {
	for i, n := range names {
		if n == name {
			return i, true
		}
	}
	return 0, false
}

func convert(v any, mode value.SerializerMode) (value.Value, error) {
	if v == nil {
		return nil, nil
	}
	return value.OfMode(v, mode)
}

func toInt64(v any) (int64, error) {
	var n int64
	if err := mapstructure.Decode(v, &n); err != nil {
		return 0, status.Wrap(status.ErrParam, err, "count")
	}
	return n, nil
}

package engine

import (
	"github.com/dreamware/torua-kv/internal/operation"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

func getMap(bins value.Bins, op operation.Operation) (*value.Map, bool, error) {
	cur, ok := bins[op.Bin]
	if !ok || value.IsNull(cur) {
		return nil, false, nil
	}
	m, ok := cur.(*value.Map)
	if !ok {
		return nil, false, incompatible(op, cur)
	}
	return m, true, nil
}

func applyMap(bins value.Bins, op operation.Operation) (value.Value, bool, error) {
	m, exists, err := getMap(bins, op)
	if err != nil {
		return nil, false, err
	}

	switch op.Map {
	case operation.MapSetPolicy:
		if !exists {
			bins[op.Bin] = value.NewMap(op.MapPolicy.Order)
			return nil, false, nil
		}
		m.SetOrder(op.MapPolicy.Order)
		return nil, false, nil

	case operation.MapClear:
		if exists {
			m.Entries = nil
		}
		return nil, false, nil

	case operation.MapSize:
		if !exists {
			return value.Null{}, true, nil
		}
		return value.Int(m.Len()), true, nil

	case operation.MapPut, operation.MapPutItems, operation.MapIncrement, operation.MapDecrement:
		if !exists {
			m = value.NewMap(op.MapPolicy.Order)
		}
		result, err := putMap(m, op)
		if err != nil {
			return nil, false, err
		}
		bins[op.Bin] = m
		return result, true, nil
	}

	if !exists {
		m = value.NewMap(value.MapUnordered)
	}
	v := mapView(m)
	sel, one := selectMap(v, op)
	out, ok, err := v.shape(op, sel, one)
	if err != nil {
		return nil, false, err
	}
	if exists && op.Map.Mutates() && len(sel) > 0 {
		for _, i := range sel {
			m.Delete(v.elems[i].key)
		}
	}
	return out, ok, nil
}

// putMap applies a put-class operation to m, honouring the write mode. Puts
// report the new size, increments the new value.
func putMap(m *value.Map, op operation.Operation) (value.Value, error) {
	mode := op.MapPolicy.WriteMode
	check := func(k value.Value) error {
		_, present := m.Get(k)
		switch {
		case mode == policy.MapUpdateOnly && !present:
			return status.New(status.ErrElementNotFound, "%s: key %s not in map", op, value.Format(k))
		case mode == policy.MapCreateOnly && present:
			return status.New(status.ErrElementExists, "%s: key %s already in map", op, value.Format(k))
		}
		return nil
	}

	switch op.Map {
	case operation.MapPut:
		if err := check(op.Key); err != nil {
			return nil, err
		}
		m.Put(value.Clone(op.Key), value.Clone(op.Value))
		return value.Int(m.Len()), nil

	case operation.MapPutItems:
		items := op.Value.(*value.Map)
		for _, e := range items.Entries {
			if err := check(e.Key); err != nil {
				return nil, err
			}
		}
		for _, e := range items.Entries {
			m.Put(value.Clone(e.Key), value.Clone(e.Value))
		}
		return value.Int(m.Len()), nil
	}

	if err := check(op.Key); err != nil {
		return nil, err
	}
	delta := op.Value
	if op.Map == operation.MapDecrement {
		switch d := delta.(type) {
		case value.Int:
			delta = -d
		case value.Float:
			delta = -d
		}
	}
	cur, present := m.Get(op.Key)
	if !present || value.IsNull(cur) {
		m.Put(value.Clone(op.Key), delta)
		return delta, nil
	}
	sum, ok := add(cur, delta)
	if !ok {
		return nil, incompatible(op, cur)
	}
	m.Put(op.Key, sum)
	return sum, nil
}

// selectMap resolves the elements a get-by or remove-by operation addresses
func selectMap(v *view, op operation.Operation) ([]int, bool) {
	switch op.Map {
	case operation.MapGetByKey, operation.MapRemoveByKey:
		return v.match(func(e element) bool { return value.Equal(e.key, op.Key) }), true
	case operation.MapRemoveByKeyList:
		keys := op.Key.(value.List)
		return v.match(func(e element) bool { return contains(keys, e.key) }), false
	case operation.MapGetByKeyRange, operation.MapRemoveByKeyRange:
		return v.match(func(e element) bool { return inRange(e.key, op.Key, op.RangeEnd) }), false
	case operation.MapGetByValue, operation.MapRemoveByValue:
		return v.match(func(e element) bool { return value.Equal(e.val, op.Value) }), false
	case operation.MapRemoveByValueList:
		vals := op.Value.(value.List)
		return v.match(func(e element) bool { return contains(vals, e.val) }), false
	case operation.MapGetByValueRange, operation.MapRemoveByValueRange:
		return v.match(func(e element) bool { return inRange(e.val, op.Value, op.RangeEnd) }), false
	case operation.MapGetByIndex, operation.MapRemoveByIndex:
		return v.byIndex(*op.Index, nil, true), true
	case operation.MapGetByIndexRange, operation.MapRemoveByIndexRange:
		return v.byIndex(*op.Index, op.Count, false), false
	case operation.MapGetByRank, operation.MapRemoveByRank:
		return v.byRankSel(*op.Rank, nil, true), true
	case operation.MapGetByRankRange, operation.MapRemoveByRankRange:
		return v.byRankSel(*op.Rank, op.Count, false), false
	}
	return nil, false
}

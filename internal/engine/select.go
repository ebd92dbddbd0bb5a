package engine

import (
	"github.com/emirpasic/gods/maps/treemap"

	"github.com/dreamware/torua-kv/internal/operation"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/value"
)

// element is one list item or map entry seen through a view
type element struct {
	key  value.Value // nil for list items
	val  value.Value
	pos  int // position in the underlying list or map
	rank int // position in value order
}

// view orders a collection two ways: elems is index order (list order, or
// key order for maps) and byRank holds indexes into elems in value order.
type view struct {
	elems  []element
	byRank []int
	isMap  bool
}

type rankKey struct {
	val   value.Value
	index int
}

func compareValues(a, b interface{}) int {
	return value.Compare(a.(value.Value), b.(value.Value))
}

// compareRanks orders by value, breaking ties by index so equal values keep
// their relative order.
func compareRanks(a, b interface{}) int {
	x, y := a.(rankKey), b.(rankKey)
	if c := value.Compare(x.val, y.val); c != 0 {
		return c
	}
	switch {
	case x.index < y.index:
		return -1
	case x.index > y.index:
		return 1
	}
	return 0
}

func listView(l value.List) *view {
	v := &view{elems: make([]element, len(l))}
	for i, item := range l {
		v.elems[i] = element{val: item, pos: i}
	}
	v.rank()
	return v
}

func mapView(m *value.Map) *view {
	ordered := treemap.NewWith(compareValues)
	for i, e := range m.Entries {
		ordered.Put(e.Key, i)
	}

	v := &view{elems: make([]element, 0, ordered.Size()), isMap: true}
	it := ordered.Iterator()
	for it.Next() {
		pos := it.Value().(int)
		e := m.Entries[pos]
		v.elems = append(v.elems, element{key: e.Key, val: e.Value, pos: pos})
	}
	v.rank()
	return v
}

func (v *view) rank() {
	byValue := treemap.NewWith(compareRanks)
	for i, e := range v.elems {
		byValue.Put(rankKey{val: e.val, index: i}, i)
	}
	v.byRank = make([]int, 0, len(v.elems))
	it := byValue.Iterator()
	for it.Next() {
		i := it.Value().(int)
		v.elems[i].rank = len(v.byRank)
		v.byRank = append(v.byRank, i)
	}
}

func (v *view) len() int { return len(v.elems) }

// span resolves a possibly negative start and optional count into the
// half-open range [lo, hi) of a sequence of length n. Out of range parts
// are clipped.
func span(n int, start int64, count *int64) (int, int) {
	lo := start
	if lo < 0 {
		lo += int64(n)
	}
	hi := int64(n)
	if count != nil && *count < hi-lo {
		hi = lo + *count
	}
	lo = clip(lo, 0, int64(n))
	hi = clip(hi, lo, int64(n))
	return int(lo), int(hi)
}

func clip(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// single resolves one possibly negative position, reporting false when it
// falls outside [0, n).
func single(n int, at int64) (int, bool) {
	if at < 0 {
		at += int64(n)
	}
	if at < 0 || at >= int64(n) {
		return 0, false
	}
	return int(at), true
}

func (v *view) byIndex(index int64, count *int64, one bool) []int {
	if one {
		if i, ok := single(v.len(), index); ok {
			return []int{i}
		}
		return nil
	}
	lo, hi := span(v.len(), index, count)
	return seq(lo, hi)
}

func (v *view) byRankSel(rank int64, count *int64, one bool) []int {
	if one {
		if r, ok := single(v.len(), rank); ok {
			return []int{v.byRank[r]}
		}
		return nil
	}
	lo, hi := span(v.len(), rank, count)
	return append([]int(nil), v.byRank[lo:hi]...)
}

func (v *view) match(pred func(e element) bool) []int {
	var sel []int
	for i, e := range v.elems {
		if pred(e) {
			sel = append(sel, i)
		}
	}
	return sel
}

// inRange reports begin <= x < end. A null end leaves the range open.
func inRange(x, begin, end value.Value) bool {
	if value.Compare(x, begin) < 0 {
		return false
	}
	return value.IsNull(end) || value.Compare(x, end) < 0
}

func contains(list value.List, x value.Value) bool {
	for _, item := range list {
		if value.Equal(item, x) {
			return true
		}
	}
	return false
}

func seq(lo, hi int) []int {
	out := make([]int, 0, hi-lo)
	for i := lo; i < hi; i++ {
		out = append(out, i)
	}
	return out
}

// shape renders a selection according to the return type. one marks
// selectors that address a single element; they return a scalar.
func (v *view) shape(op operation.Operation, sel []int, one bool) (value.Value, bool, error) {
	rt := policy.ReturnNone
	if op.ReturnType != nil {
		rt = *op.ReturnType
	}
	n := v.len()

	var pick func(e element, i int) []value.Value
	switch rt {
	case policy.ReturnNone:
		return nil, false, nil
	case policy.ReturnCount:
		return value.Int(len(sel)), true, nil
	case policy.ReturnIndex:
		pick = func(_ element, i int) []value.Value { return []value.Value{value.Int(i)} }
	case policy.ReturnReverseIndex:
		pick = func(_ element, i int) []value.Value { return []value.Value{value.Int(n - 1 - i)} }
	case policy.ReturnRank:
		pick = func(e element, _ int) []value.Value { return []value.Value{value.Int(e.rank)} }
	case policy.ReturnReverseRank:
		pick = func(e element, _ int) []value.Value { return []value.Value{value.Int(n - 1 - e.rank)} }
	case policy.ReturnValue:
		pick = func(e element, _ int) []value.Value { return []value.Value{value.Clone(e.val)} }
	case policy.ReturnKey, policy.ReturnKeyValue:
		if !v.isMap {
			return nil, false, invalid(op, "return type %s needs a map bin", rt)
		}
		if rt == policy.ReturnKey {
			pick = func(e element, _ int) []value.Value { return []value.Value{value.Clone(e.key)} }
		} else {
			pick = func(e element, _ int) []value.Value {
				return []value.Value{value.Clone(e.key), value.Clone(e.val)}
			}
		}
	default:
		return nil, false, invalid(op, "unknown return type %d", int(rt))
	}

	if one && rt != policy.ReturnKeyValue {
		if len(sel) == 0 {
			return value.Null{}, true, nil
		}
		return pick(v.elems[sel[0]], sel[0])[0], true, nil
	}
	out := value.List{}
	for _, i := range sel {
		out = append(out, pick(v.elems[i], i)...)
	}
	return out, true, nil
}

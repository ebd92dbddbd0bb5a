package engine

import (
	"slices"

	"github.com/dreamware/torua-kv/internal/operation"
	"github.com/dreamware/torua-kv/internal/value"
)

func getList(bins value.Bins, op operation.Operation) (value.List, bool, error) {
	cur, ok := bins[op.Bin]
	if !ok || value.IsNull(cur) {
		return nil, false, nil
	}
	l, ok := cur.(value.List)
	if !ok {
		return nil, false, incompatible(op, cur)
	}
	return l, true, nil
}

// MaxListPad is how far past the end of a list an insert or set may reach.
// The gap is filled with nulls.
const MaxListPad = 1 << 14

// pad grows l with nulls so that its length is at least n
func pad(op operation.Operation, l value.List, n int64) (value.List, error) {
	if n < 0 || n-int64(len(l)) > MaxListPad {
		return nil, invalid(op, "index %d is more than %d past the end of the list", *op.Index, MaxListPad)
	}
	for int64(len(l)) < n {
		l = append(l, value.Null{})
	}
	return l, nil
}

func cloneAll(items value.List) value.List {
	out := make(value.List, len(items))
	for i, item := range items {
		out[i] = value.Clone(item)
	}
	return out
}

func applyList(bins value.Bins, op operation.Operation) (value.Value, bool, error) {
	l, exists, err := getList(bins, op)
	if err != nil {
		return nil, false, err
	}

	switch op.List {
	case operation.ListAppend:
		l = append(l, value.Clone(op.Value))
		bins[op.Bin] = l
		return value.Int(len(l)), true, nil

	case operation.ListMerge:
		l = append(l, cloneAll(op.Value.(value.List))...)
		bins[op.Bin] = l
		return value.Int(len(l)), true, nil

	case operation.ListInsert, operation.ListInsertItems:
		at := *op.Index
		if at < 0 {
			at += int64(len(l))
		}
		if at < 0 {
			return nil, false, invalid(op, "index %d out of range", *op.Index)
		}
		items := value.List{value.Clone(op.Value)}
		if op.List == operation.ListInsertItems {
			items = cloneAll(op.Value.(value.List))
		}
		if l, err = pad(op, l, at); err != nil {
			return nil, false, err
		}
		l = slices.Insert(l, int(at), items...)
		bins[op.Bin] = l
		return value.Int(len(l)), true, nil

	case operation.ListSet:
		at := *op.Index
		if at < 0 {
			at += int64(len(l))
		}
		if at < 0 {
			return nil, false, invalid(op, "index %d out of range", *op.Index)
		}
		if l, err = pad(op, l, at+1); err != nil {
			return nil, false, err
		}
		l[at] = value.Clone(op.Value)
		bins[op.Bin] = l
		return nil, false, nil

	case operation.ListClear:
		if exists {
			bins[op.Bin] = value.List{}
		}
		return nil, false, nil

	case operation.ListSize:
		if !exists {
			return value.Null{}, true, nil
		}
		return value.Int(len(l)), true, nil
	}

	if !exists {
		// Removals and reads on a missing bin change nothing.
		switch op.List {
		case operation.ListGetByRank, operation.ListGetByRankRange, operation.ListRemoveByRank:
			return listView(nil).shape(op, nil, op.List != operation.ListGetByRankRange)
		}
		return value.Null{}, true, nil
	}

	switch op.List {
	case operation.ListGet, operation.ListPop, operation.ListRemove:
		i, ok := single(len(l), *op.Index)
		if !ok {
			return nil, false, invalid(op, "index %d out of range for list of %d", *op.Index, len(l))
		}
		item := l[i]
		switch op.List {
		case operation.ListGet:
			return value.Clone(item), true, nil
		case operation.ListPop:
			bins[op.Bin] = slices.Delete(l, i, i+1)
			return item, true, nil
		}
		bins[op.Bin] = slices.Delete(l, i, i+1)
		return value.Int(1), true, nil

	case operation.ListGetRange:
		lo, hi := span(len(l), *op.Index, op.Count)
		return cloneAll(l[lo:hi]), true, nil

	case operation.ListPopRange:
		lo, hi := span(len(l), *op.Index, op.Count)
		out := slices.Clone(l[lo:hi])
		bins[op.Bin] = slices.Delete(l, lo, hi)
		return out, true, nil

	case operation.ListRemoveRange:
		lo, hi := span(len(l), *op.Index, op.Count)
		bins[op.Bin] = slices.Delete(l, lo, hi)
		return value.Int(hi - lo), true, nil

	case operation.ListTrim:
		lo, hi := span(len(l), *op.Index, op.Count)
		removed := len(l) - (hi - lo)
		bins[op.Bin] = slices.Clone(l[lo:hi])
		return value.Int(removed), true, nil

	case operation.ListGetByRank, operation.ListGetByRankRange, operation.ListRemoveByRank:
		one := op.List != operation.ListGetByRankRange
		v := listView(l)
		sel := v.byRankSel(*op.Rank, op.Count, one)
		out, ok, err := v.shape(op, sel, one)
		if err != nil {
			return nil, false, err
		}
		if op.List == operation.ListRemoveByRank {
			bins[op.Bin] = removePositions(l, v, sel)
		}
		return out, ok, nil
	}
	return nil, false, invalid(op, "unsupported list operation")
}

// removePositions drops the selected view elements from l
func removePositions(l value.List, v *view, sel []int) value.List {
	drop := make(map[int]bool, len(sel))
	for _, i := range sel {
		drop[v.elems[i].pos] = true
	}
	out := make(value.List, 0, len(l)-len(drop))
	for i, item := range l {
		if !drop[i] {
			out = append(out, item)
		}
	}
	return out
}

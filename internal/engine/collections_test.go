package engine

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua-kv/internal/operation"
	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/record"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

func ints(vs ...int64) value.List {
	l := make(value.List, len(vs))
	for i, v := range vs {
		l[i] = value.Int(v)
	}
	return l
}

func ret(r policy.MapReturnType) *policy.MapReturnType { return &r }

func operate(t *testing.T, cur *record.Stored, ops ...operation.Operation) (Outcome, error) {
	t.Helper()
	return newEngine().Operate(cur, composed(t, ops...), params())
}

func TestListOperations(t *testing.T) {
	tests := []struct {
		name     string
		list     value.List
		op       operation.Operation
		returned value.Value
		after    value.Value
	}{
		{"get by rank -1", ints(3, 1, 2), operation.ListGetByRankOp("l", -1, policy.ReturnValue), value.Int(3), ints(3, 1, 2)},
		{"get by rank 0", ints(3, 1, 2), operation.ListGetByRankOp("l", 0, policy.ReturnIndex), value.Int(1), ints(3, 1, 2)},
		{"get by rank range", ints(3, 1, 2), operation.ListGetByRankRangeOp("l", 0, policy.Ptr[int64](2), policy.ReturnValue), ints(1, 2), ints(3, 1, 2)},
		{"get by rank range to end", ints(3, 1, 2), operation.ListGetByRankRangeOp("l", -2, nil, policy.ReturnValue), ints(2, 3), ints(3, 1, 2)},
		{"get by rank out of range", ints(3, 1, 2), operation.ListGetByRankOp("l", 5, policy.ReturnValue), value.Null{}, ints(3, 1, 2)},
		{"remove by rank", ints(3, 1, 2), operation.ListRemoveByRankOp("l", -1, policy.ReturnValue), value.Int(3), ints(1, 2)},
		{"remove by rank count", ints(3, 1, 2), operation.ListRemoveByRankOp("l", 0, policy.ReturnCount), value.Int(1), ints(3, 2)},
		{"append", ints(1), operation.ListAppendOp("l", value.Int(2)), value.Int(2), ints(1, 2)},
		{"merge", ints(1), operation.ListMergeOp("l", ints(2, 3)), value.Int(3), ints(1, 2, 3)},
		{"insert", ints(1, 3), operation.ListInsertOp("l", 1, value.Int(2)), value.Int(3), ints(1, 2, 3)},
		{"insert negative", ints(1, 3), operation.ListInsertOp("l", -1, value.Int(2)), value.Int(3), ints(1, 2, 3)},
		{"insert pads", ints(1), operation.ListInsertOp("l", 3, value.Int(9)), value.Int(4),
			value.List{value.Int(1), value.Null{}, value.Null{}, value.Int(9)}},
		{"insert items", ints(1, 4), operation.ListInsertItemsOp("l", 1, ints(2, 3)), value.Int(4), ints(1, 2, 3, 4)},
		{"pop last", ints(1, 2, 3), operation.ListPopOp("l", -1), value.Int(3), ints(1, 2)},
		{"pop range", ints(1, 2, 3, 4), operation.ListPopRangeOp("l", 1, 2), ints(2, 3), ints(1, 4)},
		{"remove", ints(1, 2, 3), operation.ListRemoveOp("l", 0), value.Int(1), ints(2, 3)},
		{"remove range clipped", ints(1, 2, 3), operation.ListRemoveRangeOp("l", 1, 10), value.Int(2), ints(1)},
		{"get", ints(1, 2, 3), operation.ListGetOp("l", -3), value.Int(1), ints(1, 2, 3)},
		{"get range negative", ints(1, 2, 3), operation.ListGetRangeOp("l", -2, 5), ints(2, 3), ints(1, 2, 3)},
		{"get range before start", ints(1, 2, 3), operation.ListGetRangeOp("l", -10, 8), ints(1), ints(1, 2, 3)},
		{"get range huge count", ints(1, 2, 3), operation.ListGetRangeOp("l", 1, math.MaxInt64), ints(2, 3), ints(1, 2, 3)},
		{"trim", ints(1, 2, 3), operation.ListTrimOp("l", 1, 1), value.Int(2), ints(2)},
		{"size", ints(1, 2, 3), operation.ListSizeOp("l"), value.Int(3), ints(1, 2, 3)},
		{"set", ints(1, 2), operation.ListSetOp("l", 0, value.Int(7)), nil, ints(7, 2)},
		{"set pads", ints(1), operation.ListSetOp("l", 2, value.Int(7)), nil, value.List{value.Int(1), value.Null{}, value.Int(7)}},
		{"clear", ints(1, 2), operation.ListClearOp("l"), nil, value.List{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cur := stored(1, value.Bins{"l": tt.list, "keep": value.Int(1)})
			out, err := operate(t, cur, tt.op)
			require.NoError(t, err)

			got, ok := out.Bins["l"]
			if tt.returned == nil {
				assert.False(t, ok)
			} else if diff := cmp.Diff(tt.returned, got); diff != "" {
				t.Errorf("returned mismatch (-want +got):\n%s", diff)
			}

			after := tt.list
			if out.Next != nil {
				after = out.Next.Bins["l"].(value.List)
			}
			if diff := cmp.Diff(tt.after, value.Value(after)); diff != "" {
				t.Errorf("list mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestListPadLimit(t *testing.T) {
	cur := stored(1, value.Bins{"l": ints(1)})

	out, err := operate(t, cur, operation.ListSetOp("l", MaxListPad, value.Int(2)))
	require.NoError(t, err)
	l := out.Next.Bins["l"].(value.List)
	assert.Len(t, l, MaxListPad+1)
	assert.Equal(t, value.Int(2), l[MaxListPad])

	_, err = operate(t, cur, operation.ListSetOp("l", MaxListPad+1, value.Int(2)))
	assert.Equal(t, status.ErrRequestInvalid, status.CodeOf(err))

	out, err = operate(t, cur, operation.ListInsertOp("l", MaxListPad+1, value.Int(2)))
	require.NoError(t, err)
	assert.Len(t, out.Next.Bins["l"].(value.List), MaxListPad+2)
}

func TestListOperationsOnMissingBin(t *testing.T) {
	cur := stored(1, value.Bins{"keep": value.Int(1)})

	out, err := operate(t, cur, operation.ListAppendOp("l", value.Int(1)))
	require.NoError(t, err)
	assert.Equal(t, ints(1), out.Next.Bins["l"])
	assert.Equal(t, value.Int(1), out.Bins["l"])

	out, err = operate(t, cur, operation.ListPopOp("l", 0))
	require.NoError(t, err)
	_, created := out.Next.Bins["l"]
	assert.False(t, created)

	out, err = operate(t, cur, operation.ListGetOp("l", 0), operation.ListSizeOp("x"))
	require.NoError(t, err)
	assert.Equal(t, value.Bins{"l": value.Null{}, "x": value.Null{}}, out.Bins)
}

func TestListErrors(t *testing.T) {
	cur := stored(1, value.Bins{"l": ints(1, 2)})

	tests := []struct {
		name string
		op   operation.Operation
		code status.Code
	}{
		{"get out of range", operation.ListGetOp("l", 2), status.ErrRequestInvalid},
		{"pop out of range", operation.ListPopOp("l", -3), status.ErrRequestInvalid},
		{"insert before start", operation.ListInsertOp("l", -3, value.Int(1)), status.ErrRequestInvalid},
		{"insert far past end", operation.ListInsertOp("l", 2+MaxListPad+1, value.Int(1)), status.ErrRequestInvalid},
		{"insert items far past end", operation.ListInsertItemsOp("l", 1<<62, ints(1)), status.ErrRequestInvalid},
		{"set far past end", operation.ListSetOp("l", 1<<62, value.Int(1)), status.ErrRequestInvalid},
		{"set at max index", operation.ListSetOp("l", math.MaxInt64, value.Int(1)), status.ErrRequestInvalid},
		{"key return type", operation.ListGetByRankOp("l", 0, policy.ReturnKey), status.ErrRequestInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := operate(t, cur, tt.op)
			assert.Equal(t, tt.code, status.CodeOf(err))
		})
	}
}

func sample() *value.Map {
	return value.NewMap(value.MapUnordered,
		value.MapEntry{Key: value.String("c"), Value: value.Int(3)},
		value.MapEntry{Key: value.String("a"), Value: value.Int(1)},
		value.MapEntry{Key: value.String("b"), Value: value.Int(2)},
	)
}

func TestMapSelectors(t *testing.T) {
	s := value.String
	tests := []struct {
		name     string
		op       operation.Operation
		returned value.Value
	}{
		{"by key value", operation.MapByKeyOp(operation.MapGetByKey, "m", s("b"), ret(policy.ReturnValue)), value.Int(2)},
		{"by key missing", operation.MapByKeyOp(operation.MapGetByKey, "m", s("z"), ret(policy.ReturnValue)), value.Null{}},
		{"by key reverse rank", operation.MapByKeyOp(operation.MapGetByKey, "m", s("a"), ret(policy.ReturnReverseRank)), value.Int(2)},
		{"by key key value", operation.MapByKeyOp(operation.MapGetByKey, "m", s("a"), ret(policy.ReturnKeyValue)), value.List{s("a"), value.Int(1)}},
		{"by index", operation.MapByIndexOp(operation.MapGetByIndex, "m", 0, nil, ret(policy.ReturnKey)), s("a")},
		{"by index negative", operation.MapByIndexOp(operation.MapGetByIndex, "m", -1, nil, ret(policy.ReturnKey)), s("c")},
		{"by index range", operation.MapByIndexOp(operation.MapGetByIndexRange, "m", 1, nil, ret(policy.ReturnValue)), value.List{value.Int(2), value.Int(3)}},
		{"by rank largest", operation.MapByRankOp(operation.MapGetByRank, "m", -1, nil, ret(policy.ReturnKey)), s("c")},
		{"by rank range", operation.MapByRankOp(operation.MapGetByRankRange, "m", 0, policy.Ptr[int64](2), ret(policy.ReturnIndex)), value.List{value.Int(0), value.Int(1)}},
		{"by key range open", operation.MapByKeyRangeOp(operation.MapGetByKeyRange, "m", s("b"), value.Null{}, ret(policy.ReturnKeyValue)),
			value.List{s("b"), value.Int(2), s("c"), value.Int(3)}},
		{"by key range", operation.MapByKeyRangeOp(operation.MapGetByKeyRange, "m", s("a"), s("c"), ret(policy.ReturnKey)), value.List{s("a"), s("b")}},
		{"by value", operation.MapByValueOp(operation.MapGetByValue, "m", value.Int(3), ret(policy.ReturnKey)), value.List{s("c")}},
		{"by value range count", operation.MapByValueRangeOp(operation.MapGetByValueRange, "m", value.Int(1), value.Int(3), ret(policy.ReturnCount)), value.Int(2)},
		{"by index reverse index", operation.MapByIndexOp(operation.MapGetByIndex, "m", 0, nil, ret(policy.ReturnReverseIndex)), value.Int(2)},
		{"size", operation.MapSizeOp("m"), value.Int(3)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := operate(t, stored(1, value.Bins{"m": sample()}), tt.op)
			require.NoError(t, err)
			if diff := cmp.Diff(tt.returned, out.Bins["m"]); diff != "" {
				t.Errorf("returned mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func keysOf(m *value.Map) []string {
	var keys []string
	for _, e := range m.Entries {
		keys = append(keys, e.Key.(value.Bytes).Text())
	}
	return keys
}

func TestMapRemovals(t *testing.T) {
	s := value.String
	tests := []struct {
		name     string
		op       operation.Operation
		returned value.Value
		keys     []string
	}{
		{"by key", operation.MapByKeyOp(operation.MapRemoveByKey, "m", s("a"), ret(policy.ReturnValue)), value.Int(1), []string{"c", "b"}},
		{"by key list", operation.MapByKeyOp(operation.MapRemoveByKeyList, "m", value.List{s("a"), s("z")}, ret(policy.ReturnCount)), value.Int(1), []string{"c", "b"}},
		{"by value list", operation.MapByValueOp(operation.MapRemoveByValueList, "m", ints(2, 3), ret(policy.ReturnKey)), value.List{s("b"), s("c")}, []string{"a"}},
		{"by rank range", operation.MapByRankOp(operation.MapRemoveByRankRange, "m", -2, nil, ret(policy.ReturnNone)), nil, []string{"a"}},
		{"by index", operation.MapByIndexOp(operation.MapRemoveByIndex, "m", 0, nil, ret(policy.ReturnKey)), s("a"), []string{"c", "b"}},
		{"by key range", operation.MapByKeyRangeOp(operation.MapRemoveByKeyRange, "m", s("b"), value.Null{}, ret(policy.ReturnCount)), value.Int(2), []string{"a"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := operate(t, stored(1, value.Bins{"m": sample()}), tt.op)
			require.NoError(t, err)

			got, ok := out.Bins["m"]
			if tt.returned == nil {
				assert.False(t, ok)
			} else if diff := cmp.Diff(tt.returned, got); diff != "" {
				t.Errorf("returned mismatch (-want +got):\n%s", diff)
			}
			assert.Equal(t, tt.keys, keysOf(out.Next.Bins["m"].(*value.Map)))
		})
	}
}

func TestMapWrites(t *testing.T) {
	s := value.String
	ordered := &policy.MapPolicy{Order: value.MapKeyOrdered}
	updateOnly := &policy.MapPolicy{WriteMode: policy.MapUpdateOnly}
	createOnly := &policy.MapPolicy{WriteMode: policy.MapCreateOnly}

	t.Run("put creates ordered map", func(t *testing.T) {
		cur := stored(1, value.Bins{"keep": value.Int(1)})
		out, err := operate(t, cur, operation.MapPutItemsOp("m", sample(), ordered))
		require.NoError(t, err)
		assert.Equal(t, value.Int(3), out.Bins["m"])
		m := out.Next.Bins["m"].(*value.Map)
		assert.Equal(t, value.MapKeyOrdered, m.Order)
		assert.Equal(t, []string{"a", "b", "c"}, keysOf(m))
	})

	t.Run("put update only", func(t *testing.T) {
		_, err := operate(t, stored(1, value.Bins{"m": sample()}), operation.MapPutOp("m", s("z"), value.Int(1), updateOnly))
		assert.Equal(t, status.ErrElementNotFound, status.CodeOf(err))

		out, err := operate(t, stored(1, value.Bins{"m": sample()}), operation.MapPutOp("m", s("a"), value.Int(9), updateOnly))
		require.NoError(t, err)
		v, _ := out.Next.Bins["m"].(*value.Map).Get(s("a"))
		assert.Equal(t, value.Int(9), v)
	})

	t.Run("put create only", func(t *testing.T) {
		_, err := operate(t, stored(1, value.Bins{"m": sample()}), operation.MapPutOp("m", s("a"), value.Int(1), createOnly))
		assert.Equal(t, status.ErrElementExists, status.CodeOf(err))
	})

	t.Run("increment and decrement", func(t *testing.T) {
		out, err := operate(t, stored(1, value.Bins{"m": sample()}),
			operation.MapIncrementOp("m", s("a"), value.Int(5), nil),
			operation.MapDecrementOp("n", s("x"), value.Int(2), nil),
		)
		require.NoError(t, err)
		assert.Equal(t, value.Int(6), out.Bins["m"])
		assert.Equal(t, value.Int(-2), out.Bins["n"])
	})

	t.Run("increment incompatible", func(t *testing.T) {
		m := value.NewMap(value.MapUnordered, value.MapEntry{Key: s("a"), Value: s("text")})
		_, err := operate(t, stored(1, value.Bins{"m": m}), operation.MapIncrementOp("m", s("a"), value.Int(1), nil))
		assert.Equal(t, status.ErrBinIncompatibleType, status.CodeOf(err))
	})

	t.Run("set policy and clear", func(t *testing.T) {
		out, err := operate(t, stored(1, value.Bins{"m": sample(), "keep": value.Int(1)}),
			operation.MapSetPolicyOp("m", policy.MapPolicy{Order: value.MapKeyOrdered}),
		)
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b", "c"}, keysOf(out.Next.Bins["m"].(*value.Map)))

		out, err = operate(t, stored(1, value.Bins{"m": sample()}), operation.MapClearOp("m"))
		require.NoError(t, err)
		assert.Equal(t, 0, out.Next.Bins["m"].(*value.Map).Len())
	})
}

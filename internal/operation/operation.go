package operation

import (
	"fmt"

	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/value"
)

// Kind is the top-level operation type
type Kind int

const (
	KindWrite Kind = iota
	KindRead
	KindIncrement
	KindAppend
	KindPrepend
	KindTouch
	KindList
	KindMap
)

var kindNames = []string{
	"OPERATOR_WRITE", "OPERATOR_READ", "OPERATOR_INCR", "OPERATOR_APPEND",
	"OPERATOR_PREPEND", "OPERATOR_TOUCH", "OP_LIST", "OP_MAP",
}

func (k Kind) String() string {
	if k >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ListOp is a list sub-operation
type ListOp int

const (
	ListAppend ListOp = iota
	ListMerge
	ListInsert
	ListInsertItems
	ListPop
	ListPopRange
	ListRemove
	ListRemoveRange
	ListClear
	ListSet
	ListGet
	ListGetRange
	ListTrim
	ListSize
	ListGetByRank
	ListGetByRankRange
	ListRemoveByRank
)

var listNames = []string{
	"OP_LIST_APPEND", "OP_LIST_MERGE", "OP_LIST_INSERT", "OP_LIST_INSERT_ITEMS",
	"OP_LIST_POP", "OP_LIST_POP_RANGE", "OP_LIST_REMOVE", "OP_LIST_REMOVE_RANGE",
	"OP_LIST_CLEAR", "OP_LIST_SET", "OP_LIST_GET", "OP_LIST_GET_RANGE",
	"OP_LIST_TRIM", "OP_LIST_SIZE", "OP_LIST_GET_BY_RANK", "OP_LIST_GET_BY_RANK_RANGE",
	"OP_LIST_REMOVE_BY_RANK",
}

func (o ListOp) String() string {
	if o >= 0 && int(o) < len(listNames) {
		return listNames[o]
	}
	return fmt.Sprintf("ListOp(%d)", int(o))
}

// Mutates reports whether the sub-operation changes the list
func (o ListOp) Mutates() bool {
	switch o {
	case ListGet, ListGetRange, ListSize, ListGetByRank, ListGetByRankRange:
		return false
	}
	return true
}

// MapOp is a map sub-operation
type MapOp int

const (
	MapSetPolicy MapOp = iota
	MapClear
	MapSize
	MapPut
	MapPutItems
	MapIncrement
	MapDecrement
	MapGetByKey
	MapGetByKeyRange
	MapGetByValue
	MapGetByValueRange
	MapGetByIndex
	MapGetByIndexRange
	MapGetByRank
	MapGetByRankRange
	MapRemoveByKey
	MapRemoveByKeyList
	MapRemoveByKeyRange
	MapRemoveByValue
	MapRemoveByValueList
	MapRemoveByValueRange
	MapRemoveByIndex
	MapRemoveByIndexRange
	MapRemoveByRank
	MapRemoveByRankRange
)

var mapNames = []string{
	"OP_MAP_SET_POLICY", "OP_MAP_CLEAR", "OP_MAP_SIZE", "OP_MAP_PUT", "OP_MAP_PUT_ITEMS",
	"OP_MAP_INCREMENT", "OP_MAP_DECREMENT", "OP_MAP_GET_BY_KEY", "OP_MAP_GET_BY_KEY_RANGE",
	"OP_MAP_GET_BY_VALUE", "OP_MAP_GET_BY_VALUE_RANGE", "OP_MAP_GET_BY_INDEX",
	"OP_MAP_GET_BY_INDEX_RANGE", "OP_MAP_GET_BY_RANK", "OP_MAP_GET_BY_RANK_RANGE",
	"OP_MAP_REMOVE_BY_KEY", "OP_MAP_REMOVE_BY_KEY_LIST", "OP_MAP_REMOVE_BY_KEY_RANGE",
	"OP_MAP_REMOVE_BY_VALUE", "OP_MAP_REMOVE_BY_VALUE_LIST", "OP_MAP_REMOVE_BY_VALUE_RANGE",
	"OP_MAP_REMOVE_BY_INDEX", "OP_MAP_REMOVE_BY_INDEX_RANGE", "OP_MAP_REMOVE_BY_RANK",
	"OP_MAP_REMOVE_BY_RANK_RANGE",
}

func (o MapOp) String() string {
	if o >= 0 && int(o) < len(mapNames) {
		return mapNames[o]
	}
	return fmt.Sprintf("MapOp(%d)", int(o))
}

// Mutates reports whether the sub-operation changes the map
func (o MapOp) Mutates() bool {
	switch o {
	case MapSize, MapGetByKey, MapGetByKeyRange, MapGetByValue, MapGetByValueRange,
		MapGetByIndex, MapGetByIndexRange, MapGetByRank, MapGetByRankRange:
		return false
	}
	return true
}

// Operation is one bin operation of an operate call. Only the fields the
// kind needs are set; pointer and interface fields are nil when absent.
type Operation struct {
	Value      value.Value
	Key        value.Value
	RangeEnd   value.Value
	Index      *int64
	Count      *int64
	Rank       *int64
	ReturnType *policy.MapReturnType
	MapPolicy  *policy.MapPolicy
	TTL        *int32
	Bin        string
	Kind       Kind
	List       ListOp
	Map        MapOp
}

// IsWrite reports whether the operation is write-class: it counts against
// the one-write-per-bin rule and runs before all reads.
func (op Operation) IsWrite() bool {
	switch op.Kind {
	case KindWrite, KindIncrement, KindAppend, KindPrepend:
		return true
	case KindList:
		return op.List.Mutates()
	case KindMap:
		return op.Map.Mutates()
	}
	return false
}

// Name renders the operation kind with its sub-kind
func (op Operation) Name() string {
	switch op.Kind {
	case KindList:
		return op.List.String()
	case KindMap:
		return op.Map.String()
	}
	return op.Kind.String()
}

func (op Operation) String() string {
	if op.Bin == "" {
		return op.Name()
	}
	return fmt.Sprintf("%s(%s)", op.Name(), op.Bin)
}

func i64(v int64) *int64 { return &v }

func rt(r policy.MapReturnType) *policy.MapReturnType { return &r }

// Write sets bin to v. Writing value.Null{} removes the bin.
func Write(bin string, v value.Value) Operation {
	return Operation{Kind: KindWrite, Bin: bin, Value: v}
}

// Read returns the bin's value
func Read(bin string) Operation {
	return Operation{Kind: KindRead, Bin: bin}
}

// Increment adds an integer or float to the bin
func Increment(bin string, by value.Value) Operation {
	return Operation{Kind: KindIncrement, Bin: bin, Value: by}
}

// Append appends to a string or bytes bin
func Append(bin string, v value.Value) Operation {
	return Operation{Kind: KindAppend, Bin: bin, Value: v}
}

// Prepend prepends to a string or bytes bin
func Prepend(bin string, v value.Value) Operation {
	return Operation{Kind: KindPrepend, Bin: bin, Value: v}
}

// Touch resets the record TTL and bumps its generation. A nil ttl uses the
// policy TTL.
func Touch(ttl *int32) Operation {
	return Operation{Kind: KindTouch, TTL: ttl}
}

func listOp(sub ListOp, bin string) Operation {
	return Operation{Kind: KindList, List: sub, Bin: bin}
}

func ListAppendOp(bin string, v value.Value) Operation {
	op := listOp(ListAppend, bin)
	op.Value = v
	return op
}

func ListMergeOp(bin string, items value.List) Operation {
	op := listOp(ListMerge, bin)
	op.Value = items
	return op
}

func ListInsertOp(bin string, index int64, v value.Value) Operation {
	op := listOp(ListInsert, bin)
	op.Index, op.Value = i64(index), v
	return op
}

func ListInsertItemsOp(bin string, index int64, items value.List) Operation {
	op := listOp(ListInsertItems, bin)
	op.Index, op.Value = i64(index), items
	return op
}

func ListPopOp(bin string, index int64) Operation {
	op := listOp(ListPop, bin)
	op.Index = i64(index)
	return op
}

func ListPopRangeOp(bin string, index, count int64) Operation {
	op := listOp(ListPopRange, bin)
	op.Index, op.Count = i64(index), i64(count)
	return op
}

func ListRemoveOp(bin string, index int64) Operation {
	op := listOp(ListRemove, bin)
	op.Index = i64(index)
	return op
}

func ListRemoveRangeOp(bin string, index, count int64) Operation {
	op := listOp(ListRemoveRange, bin)
	op.Index, op.Count = i64(index), i64(count)
	return op
}

func ListClearOp(bin string) Operation { return listOp(ListClear, bin) }

func ListSetOp(bin string, index int64, v value.Value) Operation {
	op := listOp(ListSet, bin)
	op.Index, op.Value = i64(index), v
	return op
}

func ListGetOp(bin string, index int64) Operation {
	op := listOp(ListGet, bin)
	op.Index = i64(index)
	return op
}

func ListGetRangeOp(bin string, index, count int64) Operation {
	op := listOp(ListGetRange, bin)
	op.Index, op.Count = i64(index), i64(count)
	return op
}

func ListTrimOp(bin string, index, count int64) Operation {
	op := listOp(ListTrim, bin)
	op.Index, op.Count = i64(index), i64(count)
	return op
}

func ListSizeOp(bin string) Operation { return listOp(ListSize, bin) }

// ListGetByRankOp selects the element of the given value rank; -1 is the
// largest.
func ListGetByRankOp(bin string, rank int64, ret policy.MapReturnType) Operation {
	op := listOp(ListGetByRank, bin)
	op.Rank, op.ReturnType = i64(rank), rt(ret)
	return op
}

// ListGetByRankRangeOp selects count elements starting at rank. A nil count
// selects through the largest element.
func ListGetByRankRangeOp(bin string, rank int64, count *int64, ret policy.MapReturnType) Operation {
	op := listOp(ListGetByRankRange, bin)
	op.Rank, op.Count, op.ReturnType = i64(rank), count, rt(ret)
	return op
}

func ListRemoveByRankOp(bin string, rank int64, ret policy.MapReturnType) Operation {
	op := listOp(ListRemoveByRank, bin)
	op.Rank, op.ReturnType = i64(rank), rt(ret)
	return op
}

func mapOp(sub MapOp, bin string) Operation {
	return Operation{Kind: KindMap, Map: sub, Bin: bin}
}

func MapSetPolicyOp(bin string, p policy.MapPolicy) Operation {
	op := mapOp(MapSetPolicy, bin)
	op.MapPolicy = &p
	return op
}

func MapClearOp(bin string) Operation { return mapOp(MapClear, bin) }

func MapSizeOp(bin string) Operation { return mapOp(MapSize, bin) }

// MapPutOp stores k=v. A nil policy falls back to the configured map policy.
func MapPutOp(bin string, k, v value.Value, p *policy.MapPolicy) Operation {
	op := mapOp(MapPut, bin)
	op.Key, op.Value, op.MapPolicy = k, v, p
	return op
}

func MapPutItemsOp(bin string, items *value.Map, p *policy.MapPolicy) Operation {
	op := mapOp(MapPutItems, bin)
	op.Value, op.MapPolicy = items, p
	return op
}

func MapIncrementOp(bin string, k, by value.Value, p *policy.MapPolicy) Operation {
	op := mapOp(MapIncrement, bin)
	op.Key, op.Value, op.MapPolicy = k, by, p
	return op
}

func MapDecrementOp(bin string, k, by value.Value, p *policy.MapPolicy) Operation {
	op := mapOp(MapDecrement, bin)
	op.Key, op.Value, op.MapPolicy = k, by, p
	return op
}

// MapByKeyOp builds a get/remove by key. ret may be nil to use the
// configured default return type.
func MapByKeyOp(sub MapOp, bin string, k value.Value, ret *policy.MapReturnType) Operation {
	op := mapOp(sub, bin)
	op.Key, op.ReturnType = k, ret
	return op
}

// MapByKeyRangeOp builds a get/remove over [begin, end). A value.Null end is
// unbounded.
func MapByKeyRangeOp(sub MapOp, bin string, begin, end value.Value, ret *policy.MapReturnType) Operation {
	op := mapOp(sub, bin)
	op.Key, op.RangeEnd, op.ReturnType = begin, end, ret
	return op
}

func MapByValueOp(sub MapOp, bin string, v value.Value, ret *policy.MapReturnType) Operation {
	op := mapOp(sub, bin)
	op.Value, op.ReturnType = v, ret
	return op
}

func MapByValueRangeOp(sub MapOp, bin string, begin, end value.Value, ret *policy.MapReturnType) Operation {
	op := mapOp(sub, bin)
	op.Value, op.RangeEnd, op.ReturnType = begin, end, ret
	return op
}

func MapByIndexOp(sub MapOp, bin string, index int64, count *int64, ret *policy.MapReturnType) Operation {
	op := mapOp(sub, bin)
	op.Index, op.Count, op.ReturnType = i64(index), count, ret
	return op
}

func MapByRankOp(sub MapOp, bin string, rank int64, count *int64, ret *policy.MapReturnType) Operation {
	op := mapOp(sub, bin)
	op.Rank, op.Count, op.ReturnType = i64(rank), count, ret
	return op
}

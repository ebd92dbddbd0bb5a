package operation

import (
	"errors"
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/dreamware/torua-kv/internal/policy"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

// MaxBinNameLen is the longest accepted bin name in bytes
const MaxBinNameLen = 14

// Composer failures. They surface wrapped in a *status.Error with
// ERR_PARAM, or ERR_BIN_NAME for ErrInvalidBinName.
var (
	ErrMultipleWritesOnBin     = errors.New("multiple write operations on one bin")
	ErrInvalidTouchCombination = errors.New("touch can only be combined with read operations")
	ErrMissingArgument         = errors.New("missing argument")
	ErrInvalidBinName          = errors.New("invalid bin name")
	ErrInvalidOperation        = errors.New("invalid operation")
)

// Error describes why an operation list was rejected
type Error struct {
	Err    error
	Op     string
	Bin    string
	Field  string
	Detail string
	Index  int
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("operation %d %s", e.Index, e.Op)
	if e.Bin != "" {
		msg += fmt.Sprintf(" on bin %q", e.Bin)
	}
	msg += ": " + e.Err.Error()
	if e.Field != "" {
		msg += " " + e.Field
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Code returns the status code the failure maps to
func (e *Error) Code() status.Code {
	if errors.Is(e.Err, ErrInvalidBinName) {
		return status.ErrBinName
	}
	return status.ErrParam
}

func fail(i int, op Operation, kind error, field, detail string) error {
	e := &Error{Err: kind, Op: op.Name(), Bin: op.Bin, Field: field, Detail: detail, Index: i}
	return &status.Error{Code: e.Code(), Err: e}
}

// Composed is a validated operation set ready to execute against one record
type Composed struct {
	// Ops holds write-class operations in call order followed by read-class
	// operations in call order.
	Ops []Operation
	// Writes counts write-class operations at the front of Ops
	Writes int
	Touch  bool
}

// ReadOnly reports whether nothing in the set mutates the record
func (c *Composed) ReadOnly() bool {
	return c.Writes == 0 && !c.Touch
}

// ReadBins returns the distinct bins named by read-class operations in
// call order.
func (c *Composed) ReadBins() []string {
	seen := make(map[string]bool)
	var bins []string
	for _, op := range c.Ops[c.Writes:] {
		if op.Bin == "" || seen[op.Bin] {
			continue
		}
		seen[op.Bin] = true
		bins = append(bins, op.Bin)
	}
	return bins
}

// ValidateBinName checks length and character constraints of a bin name
func ValidateBinName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty", ErrInvalidBinName)
	case len(name) > MaxBinNameLen:
		return fmt.Errorf("%w: %q longer than %d bytes", ErrInvalidBinName, name, MaxBinNameLen)
	case !utf8.ValidString(name):
		return fmt.Errorf("%w: %q is not valid UTF-8", ErrInvalidBinName, name)
	}
	for _, r := range name {
		if unicode.IsControl(r) {
			return fmt.Errorf("%w: %q contains control characters", ErrInvalidBinName, name)
		}
	}
	return nil
}

// Compose validates ops and orders them for execution. Defaults for map
// policies and return types come from p.
func Compose(ops []Operation, p policy.Policy) (*Composed, error) {
	if len(ops) == 0 {
		return nil, status.New(status.ErrParam, "no operations")
	}

	var writes, reads []Operation
	writeBins := make(map[string]int)
	touch := false

	for i, op := range ops {
		normalized, err := validate(i, op, p)
		if err != nil {
			return nil, err
		}
		if normalized.Kind == KindTouch {
			touch = true
		}
		if !normalized.IsWrite() {
			reads = append(reads, normalized)
			continue
		}
		if first, dup := writeBins[normalized.Bin]; dup {
			return nil, fail(i, normalized, ErrMultipleWritesOnBin, "",
				fmt.Sprintf("bin already written by operation %d", first))
		}
		writeBins[normalized.Bin] = i
		writes = append(writes, normalized)
	}

	if touch && len(writes) > 0 {
		for i, op := range ops {
			if op.IsWrite() {
				return nil, fail(i, op, ErrInvalidTouchCombination, "", "")
			}
		}
	}

	composed := &Composed{
		Ops:    make([]Operation, 0, len(ops)),
		Writes: len(writes),
		Touch:  touch,
	}
	composed.Ops = append(composed.Ops, writes...)
	composed.Ops = append(composed.Ops, reads...)
	return composed, nil
}

// field bits name the arguments a sub-kind requires
const (
	needValue = 1 << iota
	needKey
	needRangeEnd
	needIndex
	needCount
	needRank
	needReturnType
	needMapPolicy
)

var listNeeds = map[ListOp]int{
	ListAppend:         needValue,
	ListMerge:          needValue,
	ListInsert:         needIndex | needValue,
	ListInsertItems:    needIndex | needValue,
	ListPop:            needIndex,
	ListPopRange:       needIndex | needCount,
	ListRemove:         needIndex,
	ListRemoveRange:    needIndex | needCount,
	ListClear:          0,
	ListSet:            needIndex | needValue,
	ListGet:            needIndex,
	ListGetRange:       needIndex | needCount,
	ListTrim:           needIndex | needCount,
	ListSize:           0,
	ListGetByRank:      needRank,
	ListGetByRankRange: needRank,
	ListRemoveByRank:   needRank,
}

var mapNeeds = map[MapOp]int{
	MapSetPolicy:          needMapPolicy,
	MapClear:              0,
	MapSize:               0,
	MapPut:                needKey | needValue,
	MapPutItems:           needValue,
	MapIncrement:          needKey | needValue,
	MapDecrement:          needKey | needValue,
	MapGetByKey:           needKey | needReturnType,
	MapGetByKeyRange:      needKey | needRangeEnd | needReturnType,
	MapGetByValue:         needValue | needReturnType,
	MapGetByValueRange:    needValue | needRangeEnd | needReturnType,
	MapGetByIndex:         needIndex | needReturnType,
	MapGetByIndexRange:    needIndex | needReturnType,
	MapGetByRank:          needRank | needReturnType,
	MapGetByRankRange:     needRank | needReturnType,
	MapRemoveByKey:        needKey | needReturnType,
	MapRemoveByKeyList:    needKey | needReturnType,
	MapRemoveByKeyRange:   needKey | needRangeEnd | needReturnType,
	MapRemoveByValue:      needValue | needReturnType,
	MapRemoveByValueList:  needValue | needReturnType,
	MapRemoveByValueRange: needValue | needRangeEnd | needReturnType,
	MapRemoveByIndex:      needIndex | needReturnType,
	MapRemoveByIndexRange: needIndex | needReturnType,
	MapRemoveByRank:       needRank | needReturnType,
	MapRemoveByRankRange:  needRank | needReturnType,
}

func validate(i int, op Operation, p policy.Policy) (Operation, error) {
	if op.Kind != KindTouch {
		if err := ValidateBinName(op.Bin); err != nil {
			e := &Error{Err: ErrInvalidBinName, Op: op.Name(), Bin: op.Bin, Detail: err.Error(), Index: i}
			return op, &status.Error{Code: status.ErrBinName, Err: e}
		}
	}

	var needs int
	switch op.Kind {
	case KindWrite, KindIncrement, KindAppend, KindPrepend:
		needs = needValue
	case KindRead:
		needs = 0
	case KindTouch:
		if op.TTL != nil && *op.TTL < policy.TTLDontUpdate {
			return op, fail(i, op, ErrInvalidOperation, "ttl", "below -2")
		}
		return op, nil
	case KindList:
		n, ok := listNeeds[op.List]
		if !ok {
			return op, fail(i, op, ErrInvalidOperation, "", "unknown list operation")
		}
		needs = n
	case KindMap:
		n, ok := mapNeeds[op.Map]
		if !ok {
			return op, fail(i, op, ErrInvalidOperation, "", "unknown map operation")
		}
		needs = n
	default:
		return op, fail(i, op, ErrInvalidOperation, "", "unknown operation kind")
	}

	// List rank selectors return values unless told otherwise.
	if op.Kind == KindList && needs&needRank != 0 && op.ReturnType == nil {
		op.ReturnType = rt(policy.ReturnValue)
	}
	if needs&needReturnType != 0 && op.ReturnType == nil && p.MapReturnType != nil {
		op.ReturnType = rt(*p.MapReturnType)
	}
	if op.Kind == KindMap && op.MapPolicy == nil {
		switch op.Map {
		case MapPut, MapPutItems, MapIncrement, MapDecrement:
			mp := p.MapPolicy
			op.MapPolicy = &mp
		}
	}

	missing := []struct {
		bit   int
		name  string
		unset bool
	}{
		{needValue, "val", op.Value == nil},
		{needKey, "key", op.Key == nil},
		{needRangeEnd, "range_end", op.RangeEnd == nil},
		{needIndex, "index", op.Index == nil},
		{needCount, "count", op.Count == nil},
		{needRank, "rank", op.Rank == nil},
		{needReturnType, "return_type", op.ReturnType == nil},
		{needMapPolicy, "map_policy", op.MapPolicy == nil},
	}
	for _, m := range missing {
		if needs&m.bit != 0 && m.unset {
			return op, fail(i, op, ErrMissingArgument, m.name, "")
		}
	}

	if op.Count != nil && *op.Count < 0 {
		return op, fail(i, op, ErrInvalidOperation, "count", "must not be negative")
	}
	if op.ReturnType != nil && !op.ReturnType.Valid() {
		return op, fail(i, op, ErrInvalidOperation, "return_type", "unknown return type")
	}
	if op.MapPolicy != nil && (!op.MapPolicy.Order.Valid() || op.MapPolicy.WriteMode < policy.MapUpdate || op.MapPolicy.WriteMode > policy.MapCreateOnly) {
		return op, fail(i, op, ErrInvalidOperation, "map_policy", "unknown order or write mode")
	}

	if err := checkOperands(i, op); err != nil {
		return op, err
	}

	op.Value = normalize(op.Value)
	op.Key = normalize(op.Key)
	op.RangeEnd = normalize(op.RangeEnd)
	return op, nil
}

func normalize(v value.Value) value.Value {
	if v == nil {
		return nil
	}
	return value.Normalize(v)
}

// checkOperands validates operand shapes that do not depend on the stored
// record.
func checkOperands(i int, op Operation) error {
	numeric := func(v value.Value) bool {
		switch v.(type) {
		case value.Int, value.Float:
			return true
		}
		return false
	}

	switch op.Kind {
	case KindIncrement:
		if !numeric(op.Value) {
			return fail(i, op, ErrInvalidOperation, "val", "increment needs an integer or float")
		}
	case KindAppend, KindPrepend:
		if _, ok := op.Value.(value.Bytes); !ok {
			return fail(i, op, ErrInvalidOperation, "val", "append and prepend need a string or bytes")
		}
	case KindList:
		switch op.List {
		case ListMerge, ListInsertItems:
			if _, ok := op.Value.(value.List); !ok {
				return fail(i, op, ErrInvalidOperation, "val", "needs a list of items")
			}
		}
	case KindMap:
		switch op.Map {
		case MapPutItems:
			if _, ok := op.Value.(*value.Map); !ok {
				return fail(i, op, ErrInvalidOperation, "val", "needs a map of items")
			}
		case MapIncrement, MapDecrement:
			if !numeric(op.Value) {
				return fail(i, op, ErrInvalidOperation, "val", "needs an integer or float")
			}
		case MapRemoveByKeyList:
			if _, ok := op.Key.(value.List); !ok {
				return fail(i, op, ErrInvalidOperation, "key", "needs a list of keys")
			}
		case MapRemoveByValueList:
			if _, ok := op.Value.(value.List); !ok {
				return fail(i, op, ErrInvalidOperation, "val", "needs a list of values")
			}
		}
	}
	return nil
}

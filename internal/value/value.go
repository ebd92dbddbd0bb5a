package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strings"

	"github.com/dreamware/torua-kv/internal/status"
)

// Kind discriminates the variants of Value
type Kind uint8

const (
	KindNull Kind = iota
	KindInt
	KindFloat
	KindBytes
	KindList
	KindMap
	KindGeoJSON
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBytes:
		return "bytes"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindGeoJSON:
		return "geojson"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// Value is a bin value. The set of implementations is closed: Null, Int,
// Float, Bytes, List, Map and GeoJSON.
type Value interface {
	Kind() Kind
	isValue()
}

// Null is the absent value. Writing Null to a bin removes the bin.
type Null struct{}

// Int is a signed 64-bit integer
type Int int64

// Float is a 64-bit floating point number
type Float float64

// Bytes is a byte string. Raw byte strings are stored as-is; non-raw ones are
// text and get truncated at their first NUL byte when written. Serialized
// marks a blob produced by the process-wide serializer.
type Bytes struct {
	Data       []byte
	Raw        bool
	Serialized bool
}

// List is an ordered sequence of values
type List []Value

// MapOrder selects how a map keeps its entries
type MapOrder int

const (
	MapUnordered       MapOrder = 0
	MapKeyOrdered      MapOrder = 1
	MapKeyValueOrdered MapOrder = 3
)

func (o MapOrder) String() string {
	switch o {
	case MapUnordered:
		return "AS_MAP_UNORDERED"
	case MapKeyOrdered:
		return "AS_MAP_KEY_ORDERED"
	case MapKeyValueOrdered:
		return "AS_MAP_KEY_VALUE_ORDERED"
	}
	return fmt.Sprintf("MapOrder(%d)", int(o))
}

// UnmarshalText accepts AS_MAP_* names with or without their prefix
func (o *MapOrder) UnmarshalText(text []byte) error {
	s := strings.ToUpper(strings.TrimSpace(string(text)))
	s = strings.TrimPrefix(s, "AS_MAP_")
	switch s {
	case "UNORDERED", "0":
		*o = MapUnordered
	case "KEY_ORDERED", "1":
		*o = MapKeyOrdered
	case "KEY_VALUE_ORDERED", "3":
		*o = MapKeyValueOrdered
	default:
		return fmt.Errorf("unknown map order %q", text)
	}
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (o MapOrder) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Valid reports whether o is a known ordering
func (o MapOrder) Valid() bool {
	return o == MapUnordered || o == MapKeyOrdered || o == MapKeyValueOrdered
}

// MapEntry is one key/value pair of a Map
type MapEntry struct {
	Key   Value
	Value Value
}

// Map is an associative array with unique keys. Entries keep insertion order
// unless Order requests key ordering.
type Map struct {
	Entries []MapEntry
	Order   MapOrder
}

// GeoJSON is a GeoJSON document
type GeoJSON string

func (Null) Kind() Kind    { return KindNull }
func (Int) Kind() Kind     { return KindInt }
func (Float) Kind() Kind   { return KindFloat }
func (Bytes) Kind() Kind   { return KindBytes }
func (List) Kind() Kind    { return KindList }
func (*Map) Kind() Kind    { return KindMap }
func (GeoJSON) Kind() Kind { return KindGeoJSON }

func (Null) isValue()    {}
func (Int) isValue()     {}
func (Float) isValue()   {}
func (Bytes) isValue()   {}
func (List) isValue()    {}
func (*Map) isValue()    {}
func (GeoJSON) isValue() {}

// String returns a text byte string
func String(s string) Bytes {
	return Bytes{Data: []byte(s)}
}

// Raw returns a raw byte string; b is copied
func Raw(b []byte) Bytes {
	return Bytes{Data: append([]byte(nil), b...), Raw: true}
}

// Text returns the byte string as text
func (b Bytes) Text() string { return string(b.Data) }

// IsText reports whether v is a non-raw byte string
func IsText(v Value) bool {
	b, ok := v.(Bytes)
	return ok && !b.Raw
}

// IsNull reports whether v is nil or Null
func IsNull(v Value) bool {
	if v == nil {
		return true
	}
	_, ok := v.(Null)
	return ok
}

// NewMap builds a map from entries. Later duplicates replace earlier keys.
func NewMap(order MapOrder, entries ...MapEntry) *Map {
	m := &Map{Order: order}
	for _, e := range entries {
		m.Put(e.Key, e.Value)
	}
	return m
}

// Len returns the number of entries
func (m *Map) Len() int { return len(m.Entries) }

// Index returns the position of k, or -1
func (m *Map) Index(k Value) int {
	for i, e := range m.Entries {
		if Equal(e.Key, k) {
			return i
		}
	}
	return -1
}

// Get returns the value stored under k
func (m *Map) Get(k Value) (Value, bool) {
	if i := m.Index(k); i >= 0 {
		return m.Entries[i].Value, true
	}
	return nil, false
}

// Put inserts or replaces k
func (m *Map) Put(k, v Value) {
	if i := m.Index(k); i >= 0 {
		m.Entries[i].Value = v
		return
	}
	m.Entries = append(m.Entries, MapEntry{Key: k, Value: v})
	if m.Order != MapUnordered {
		m.sort()
	}
}

// Delete removes k and reports whether it was present
func (m *Map) Delete(k Value) bool {
	i := m.Index(k)
	if i < 0 {
		return false
	}
	m.Entries = slices.Delete(m.Entries, i, i+1)
	return true
}

// SetOrder changes the ordering mode, re-sorting when required
func (m *Map) SetOrder(order MapOrder) {
	m.Order = order
	if order != MapUnordered {
		m.sort()
	}
}

func (m *Map) sort() {
	slices.SortStableFunc(m.Entries, func(a, b MapEntry) int {
		return Compare(a.Key, b.Key)
	})
}

// Clone returns a deep copy of v
func Clone(v Value) Value {
	switch t := v.(type) {
	case Bytes:
		return Bytes{Data: append([]byte(nil), t.Data...), Raw: t.Raw, Serialized: t.Serialized}
	case List:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = Clone(item)
		}
		return out
	case *Map:
		out := &Map{Order: t.Order, Entries: make([]MapEntry, len(t.Entries))}
		for i, e := range t.Entries {
			out.Entries[i] = MapEntry{Key: Clone(e.Key), Value: Clone(e.Value)}
		}
		return out
	case nil:
		return Null{}
	}
	return v
}

// Normalize prepares a value for storage: text is cut at its first NUL
// byte, nested values are normalized and nil becomes Null.
func Normalize(v Value) Value {
	switch t := v.(type) {
	case nil:
		return Null{}
	case Bytes:
		if t.Raw || t.Serialized {
			return t
		}
		if i := bytes.IndexByte(t.Data, 0); i >= 0 {
			return Bytes{Data: t.Data[:i:i]}
		}
		return t
	case List:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = Normalize(item)
		}
		return out
	case *Map:
		out := &Map{Order: t.Order, Entries: make([]MapEntry, 0, len(t.Entries))}
		for _, e := range t.Entries {
			out.Put(Normalize(e.Key), Normalize(e.Value))
		}
		return out
	}
	return v
}

// rank places kinds in the cross-type order
// Null < Int < text < List < Map < raw bytes < Float < GeoJSON.
func rank(v Value) int {
	switch t := v.(type) {
	case nil, Null:
		return 0
	case Int:
		return 1
	case Bytes:
		if t.Raw || t.Serialized {
			return 5
		}
		return 2
	case List:
		return 3
	case *Map:
		return 4
	case Float:
		return 6
	case GeoJSON:
		return 7
	}
	return 8
}

// Compare orders two values. Values of different kinds compare by kind rank;
// lists compare element-wise, maps entry-wise in key order.
func Compare(a, b Value) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return cmpInt(ra, rb)
	}

	switch x := a.(type) {
	case Int:
		return cmpInt(int64(x), int64(b.(Int)))
	case Float:
		y := float64(b.(Float))
		switch {
		case float64(x) < y:
			return -1
		case float64(x) > y:
			return 1
		case math.IsNaN(float64(x)) && !math.IsNaN(y):
			return -1
		case !math.IsNaN(float64(x)) && math.IsNaN(y):
			return 1
		}
		return 0
	case Bytes:
		return bytes.Compare(x.Data, b.(Bytes).Data)
	case GeoJSON:
		return cmpString(string(x), string(b.(GeoJSON)))
	case List:
		y := b.(List)
		for i := 0; i < len(x) && i < len(y); i++ {
			if c := Compare(x[i], y[i]); c != 0 {
				return c
			}
		}
		return cmpInt(len(x), len(y))
	case *Map:
		xs, ys := sortedEntries(x), sortedEntries(b.(*Map))
		for i := 0; i < len(xs) && i < len(ys); i++ {
			if c := Compare(xs[i].Key, ys[i].Key); c != 0 {
				return c
			}
			if c := Compare(xs[i].Value, ys[i].Value); c != 0 {
				return c
			}
		}
		return cmpInt(len(xs), len(ys))
	}
	return 0
}

// Equal reports whether a and b hold the same value
func Equal(a, b Value) bool {
	return Compare(a, b) == 0
}

func sortedEntries(m *Map) []MapEntry {
	if m.Order != MapUnordered {
		return m.Entries
	}
	out := slices.Clone(m.Entries)
	slices.SortStableFunc(out, func(a, b MapEntry) int { return Compare(a.Key, b.Key) })
	return out
}

func cmpInt[T int | int64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func cmpString(a, b string) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

// Of converts a Go value into a Value. Values outside the supported union go
// through the installed serializer.
func Of(v any) (Value, error) {
	return OfMode(v, SerializerUser)
}

// OfMode converts v like Of, using mode to decide what happens to values
// outside the supported union.
func OfMode(v any, mode SerializerMode) (Value, error) {
	switch t := v.(type) {
	case nil:
		return Null{}, nil
	case Value:
		return t, nil
	case int:
		return Int(t), nil
	case int8:
		return Int(t), nil
	case int16:
		return Int(t), nil
	case int32:
		return Int(t), nil
	case int64:
		return Int(t), nil
	case uint8:
		return Int(t), nil
	case uint16:
		return Int(t), nil
	case uint32:
		return Int(t), nil
	case uint:
		if uint64(t) > math.MaxInt64 {
			return serialize(v, mode)
		}
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return serialize(v, mode)
		}
		return Int(int64(t)), nil
	case float32:
		return Float(t), nil
	case float64:
		return Float(t), nil
	case string:
		return String(t), nil
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return Int(n), nil
		}
		f, err := t.Float64()
		if err != nil {
			return nil, status.Wrap(status.ErrParam, err, "number %q", string(t))
		}
		return Float(f), nil
	case []byte:
		return Raw(t), nil
	case []any:
		out := make(List, len(t))
		for i, item := range t {
			conv, err := OfMode(item, mode)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		out := make(List, rv.Len())
		for i := range out {
			conv, err := OfMode(rv.Index(i).Interface(), mode)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case reflect.Map:
		m := &Map{Entries: make([]MapEntry, 0, rv.Len())}
		iter := rv.MapRange()
		for iter.Next() {
			k, err := OfMode(iter.Key().Interface(), mode)
			if err != nil {
				return nil, err
			}
			val, err := OfMode(iter.Value().Interface(), mode)
			if err != nil {
				return nil, err
			}
			m.Put(k, val)
		}
		// Go maps have no order; sort so conversions are deterministic.
		m.sort()
		return m, nil
	}
	return serialize(v, mode)
}

// Interface converts v back into plain Go values: nil, int64, float64,
// string, []byte, []any, map[any]any or GeoJSON. Serialized blobs go through
// the installed deserializer.
func Interface(v Value) (any, error) {
	switch t := v.(type) {
	case nil, Null:
		return nil, nil
	case Int:
		return int64(t), nil
	case Float:
		return float64(t), nil
	case Bytes:
		if t.Serialized {
			return deserialize(t.Data)
		}
		if t.Raw {
			return append([]byte(nil), t.Data...), nil
		}
		return string(t.Data), nil
	case GeoJSON:
		return t, nil
	case List:
		out := make([]any, len(t))
		for i, item := range t {
			conv, err := Interface(item)
			if err != nil {
				return nil, err
			}
			out[i] = conv
		}
		return out, nil
	case *Map:
		out := make(map[any]any, len(t.Entries))
		for _, e := range t.Entries {
			k, err := Interface(e.Key)
			if err != nil {
				return nil, err
			}
			if b, ok := k.([]byte); ok {
				k = string(b)
			}
			if k != nil && !reflect.TypeOf(k).Comparable() {
				return nil, fmt.Errorf("map key of kind %s is not comparable", e.Key.Kind())
			}
			val, err := Interface(e.Value)
			if err != nil {
				return nil, err
			}
			out[k] = val
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown value %T", v)
}

// Format renders v for humans
func Format(v Value) string {
	switch t := v.(type) {
	case nil, Null:
		return "null"
	case Int:
		return fmt.Sprintf("%d", int64(t))
	case Float:
		return fmt.Sprintf("%g", float64(t))
	case Bytes:
		if t.Raw || t.Serialized {
			return fmt.Sprintf("%x", t.Data)
		}
		return fmt.Sprintf("%q", t.Data)
	case GeoJSON:
		return string(t)
	case List:
		var b bytes.Buffer
		b.WriteByte('[')
		for i, item := range t {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(Format(item))
		}
		b.WriteByte(']')
		return b.String()
	case *Map:
		var b bytes.Buffer
		b.WriteByte('{')
		for i, e := range t.Entries {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(Format(e.Key))
			b.WriteString(": ")
			b.WriteString(Format(e.Value))
		}
		b.WriteByte('}')
		return b.String()
	}
	return fmt.Sprintf("%v", v)
}

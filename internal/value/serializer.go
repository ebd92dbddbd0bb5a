package value

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/dreamware/torua-kv/internal/status"
)

// SerializerMode decides how values outside the supported union are handled
type SerializerMode int

const (
	// SerializerNone rejects unsupported values with ERR_PARAM
	SerializerNone SerializerMode = iota
	// SerializerUser hands unsupported values to the installed Serializer
	SerializerUser
)

func (m SerializerMode) String() string {
	if m == SerializerNone {
		return "SERIALIZER_NONE"
	}
	return "SERIALIZER_USER"
}

// MarshalText implements encoding.TextMarshaler
func (m SerializerMode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

// UnmarshalText accepts SERIALIZER_NONE and SERIALIZER_USER, with or without
// prefix
func (m *SerializerMode) UnmarshalText(text []byte) error {
	switch strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(string(text))), "SERIALIZER_") {
	case "NONE":
		*m = SerializerNone
	case "USER":
		*m = SerializerUser
	default:
		return fmt.Errorf("unknown serializer %q", text)
	}
	return nil
}

// Serializer turns an unsupported Go value into bytes
type Serializer func(v any) ([]byte, error)

// Deserializer restores a value written through a Serializer
type Deserializer func(data []byte) (any, error)

var (
	serializer   atomic.Pointer[Serializer]
	deserializer atomic.Pointer[Deserializer]
)

// SetSerializer replaces the process-wide serializer. Passing nil removes it.
// Install it once at startup, before concurrent traffic begins.
func SetSerializer(fn Serializer) {
	if fn == nil {
		serializer.Store(nil)
		return
	}
	serializer.Store(&fn)
}

// SetDeserializer replaces the process-wide deserializer. Passing nil
// removes it, after which serialized blobs read back as raw bytes.
func SetDeserializer(fn Deserializer) {
	if fn == nil {
		deserializer.Store(nil)
		return
	}
	deserializer.Store(&fn)
}

func serialize(v any, mode SerializerMode) (Value, error) {
	if mode == SerializerNone {
		return nil, status.New(status.ErrParam, "unsupported bin value type %T", v)
	}
	fn := serializer.Load()
	if fn == nil {
		return nil, status.New(status.ErrParam, "no serializer installed for %T", v)
	}
	data, err := (*fn)(v)
	if err != nil {
		return nil, status.Wrap(status.ErrParam, err, "serialize %T", v)
	}
	return Bytes{Data: data, Raw: true, Serialized: true}, nil
}

func deserialize(data []byte) (any, error) {
	fn := deserializer.Load()
	if fn == nil {
		return append([]byte(nil), data...), nil
	}
	out, err := (*fn)(data)
	if err != nil {
		return nil, status.Wrap(status.ErrClient, err, "deserialize")
	}
	return out, nil
}

// Opaque returns v with serialized blobs turned into plain raw bytes, so
// they read back without going through the deserializer
func Opaque(v Value) Value {
	switch t := v.(type) {
	case Bytes:
		if t.Serialized {
			return Bytes{Data: t.Data, Raw: true}
		}
	case List:
		out := make(List, len(t))
		for i, item := range t {
			out[i] = Opaque(item)
		}
		return out
	case *Map:
		out := &Map{Order: t.Order, Entries: make([]MapEntry, len(t.Entries))}
		for i, e := range t.Entries {
			out.Entries[i] = MapEntry{Key: Opaque(e.Key), Value: Opaque(e.Value)}
		}
		return out
	}
	return v
}

// Opaque applies Opaque to every bin
func (b Bins) Opaque() Bins {
	if b == nil {
		return nil
	}
	out := make(Bins, len(b))
	for name, v := range b {
		out[name] = Opaque(v)
	}
	return out
}

package value

import (
	"encoding/json"
	"fmt"
	"math"
)

// encoded is the tagged JSON form of a Value. Floats travel as their IEEE
// bits so NaN and infinities survive the round trip.
type encoded struct {
	T string         `json:"t"`
	I int64          `json:"i,omitempty"`
	B []byte         `json:"b,omitempty"`
	R bool           `json:"r,omitempty"`
	S bool           `json:"s,omitempty"`
	L []encoded      `json:"l,omitempty"`
	M []encodedEntry `json:"m,omitempty"`
	O MapOrder       `json:"o,omitempty"`
}

type encodedEntry struct {
	K encoded `json:"k"`
	V encoded `json:"v"`
}

func encode(v Value) encoded {
	switch t := v.(type) {
	case nil, Null:
		return encoded{T: "n"}
	case Int:
		return encoded{T: "i", I: int64(t)}
	case Float:
		return encoded{T: "f", I: int64(math.Float64bits(float64(t)))}
	case Bytes:
		return encoded{T: "b", B: t.Data, R: t.Raw, S: t.Serialized}
	case GeoJSON:
		return encoded{T: "g", B: []byte(t)}
	case List:
		out := encoded{T: "l", L: make([]encoded, len(t))}
		for i, item := range t {
			out.L[i] = encode(item)
		}
		return out
	case *Map:
		out := encoded{T: "m", O: t.Order, M: make([]encodedEntry, len(t.Entries))}
		for i, e := range t.Entries {
			out.M[i] = encodedEntry{K: encode(e.Key), V: encode(e.Value)}
		}
		return out
	}
	return encoded{T: "n"}
}

func decode(e encoded) (Value, error) {
	switch e.T {
	case "n", "":
		return Null{}, nil
	case "i":
		return Int(e.I), nil
	case "f":
		return Float(math.Float64frombits(uint64(e.I))), nil
	case "b":
		data := e.B
		if data == nil {
			data = []byte{}
		}
		return Bytes{Data: data, Raw: e.R, Serialized: e.S}, nil
	case "g":
		return GeoJSON(e.B), nil
	case "l":
		out := make(List, len(e.L))
		for i, item := range e.L {
			v, err := decode(item)
			if err != nil {
				return nil, err
			}
			out[i] = v
		}
		return out, nil
	case "m":
		m := &Map{Order: e.O, Entries: make([]MapEntry, 0, len(e.M))}
		for _, entry := range e.M {
			k, err := decode(entry.K)
			if err != nil {
				return nil, err
			}
			v, err := decode(entry.V)
			if err != nil {
				return nil, err
			}
			m.Entries = append(m.Entries, MapEntry{Key: k, Value: v})
		}
		return m, nil
	}
	return nil, fmt.Errorf("unknown value tag %q", e.T)
}

// Marshal encodes v as JSON
func Marshal(v Value) ([]byte, error) {
	return json.Marshal(encode(v))
}

// Unmarshal decodes a Value produced by Marshal
func Unmarshal(data []byte) (Value, error) {
	var e encoded
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return decode(e)
}

// Box carries a Value inside JSON documents
type Box struct {
	V Value
}

// MarshalJSON implements json.Marshaler
func (b Box) MarshalJSON() ([]byte, error) {
	return Marshal(b.V)
}

// UnmarshalJSON implements json.Unmarshaler
func (b *Box) UnmarshalJSON(data []byte) error {
	v, err := Unmarshal(data)
	if err != nil {
		return err
	}
	b.V = v
	return nil
}

// Bins maps bin names to values and encodes them through Box
type Bins map[string]Value

// MarshalJSON implements json.Marshaler
func (b Bins) MarshalJSON() ([]byte, error) {
	if b == nil {
		return []byte("null"), nil
	}
	out := make(map[string]encoded, len(b))
	for name, v := range b {
		out[name] = encode(v)
	}
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler
func (b *Bins) UnmarshalJSON(data []byte) error {
	var raw map[string]encoded
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		*b = nil
		return nil
	}
	out := make(Bins, len(raw))
	for name, e := range raw {
		v, err := decode(e)
		if err != nil {
			return fmt.Errorf("bin %q: %w", name, err)
		}
		out[name] = v
	}
	*b = out
	return nil
}

// Clone deep-copies the bins
func (b Bins) Clone() Bins {
	if b == nil {
		return nil
	}
	out := make(Bins, len(b))
	for name, v := range b {
		out[name] = Clone(v)
	}
	return out
}

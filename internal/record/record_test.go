package record

import (
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/status"
	"github.com/dreamware/torua-kv/internal/value"
)

func TestStoredTTL(t *testing.T) {
	now := time.Unix(1_000_000, 0)

	tests := []struct {
		name      string
		expiresAt int64
		ttl       int32
		expired   bool
	}{
		{"never", 0, NeverExpires, false},
		{"future", now.Unix() + 90, 90, false},
		{"now", now.Unix(), 0, true},
		{"past", now.Unix() - 5, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := &Stored{ExpiresAt: tt.expiresAt, Generation: 3}
			assert.Equal(t, tt.ttl, s.TTL(now))
			assert.Equal(t, tt.expired, s.Expired(now))
			assert.Equal(t, Metadata{Generation: 3, TTL: tt.ttl}, s.Metadata(now))
		})
	}
}

func TestStoredSelect(t *testing.T) {
	s := &Stored{Bins: value.Bins{"a": value.Int(1), "b": value.String("x")}}

	assert.Equal(t, value.Bins{"a": value.Int(1), "b": value.String("x")}, s.Select(nil))
	assert.Equal(t, value.Bins{"b": value.String("x"), "c": value.Null{}}, s.Select([]string{"b", "c"}))
}

func TestStoredCloneIsDeep(t *testing.T) {
	uk := key.String("pk")
	s := &Stored{UserKey: &uk, Bins: value.Bins{"l": value.List{value.Int(1)}}}

	c := s.Clone()
	c.Bins["l"] = append(c.Bins["l"].(value.List), value.Int(2))
	c.UserKey.Str = "other"

	assert.Len(t, s.Bins["l"], 1)
	assert.Equal(t, "pk", s.UserKey.Str)
}

func TestEncodeDecode(t *testing.T) {
	uk := key.Int(7)
	s := &Stored{
		UserKey:    &uk,
		Namespace:  "test",
		Set:        "users",
		Generation: 4,
		ExpiresAt:  1234,
		UpdatedAt:  1000,
		Bins: value.Bins{
			"n": value.Int(1),
			"m": value.NewMap(value.MapKeyOrdered, value.MapEntry{Key: value.String("k"), Value: value.Float(1.5)}),
		},
	}

	data, err := s.Encode()
	require.NoError(t, err)

	back, err := Decode(data)
	require.NoError(t, err)
	if diff := cmp.Diff(s, back); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}

	_, err = Decode([]byte("{"))
	assert.Equal(t, status.ErrServer, status.CodeOf(err))
}

func TestStoredKey(t *testing.T) {
	d := key.DigestOf("test", "users", key.Int(7))

	s := &Stored{Namespace: "test", Set: "users"}
	k := s.Key(d)
	assert.False(t, k.HasUserKey())
	assert.Equal(t, d, k.Digest)

	uk := key.Int(7)
	s.UserKey = &uk
	k = s.Key(d)
	require.True(t, k.HasUserKey())
	assert.Equal(t, int64(7), k.UserKey.Int)
}

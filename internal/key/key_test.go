package key

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua-kv/internal/status"
)

func TestDigestOfDeterministic(t *testing.T) {
	properties := gopter.NewProperties(gopter.DefaultTestParameters())

	properties.Property("string keys hash identically", prop.ForAll(
		func(ns, set, pk string) bool {
			a := DigestOf(ns, set, String(pk))
			b := DigestOf(ns, set, String(pk))
			return a == b
		},
		gen.AlphaString(), gen.AlphaString(), gen.AnyString(),
	))

	properties.Property("int keys hash identically", prop.ForAll(
		func(set string, pk int64) bool {
			return DigestOf("test", set, Int(pk)) == DigestOf("test", set, Int(pk))
		},
		gen.AlphaString(), gen.Int64(),
	))

	properties.Property("partition is bounded", prop.ForAll(
		func(set string, pk int64) bool {
			pid := PartitionOf(DigestOf("test", set, Int(pk)))
			return pid < PartitionCount
		},
		gen.AlphaString(), gen.Int64(),
	))

	properties.TestingRun(t)
}

func TestDigestOfDistinguishesInputs(t *testing.T) {
	base := DigestOf("test", "users", String("1"))

	tests := []struct {
		name string
		d    Digest
	}{
		{"int vs string", DigestOf("test", "users", Int(1))},
		{"bytes vs string", DigestOf("test", "users", Bytes([]byte("1")))},
		{"other set", DigestOf("test", "user", String("1"))},
		{"other namespace", DigestOf("prod", "users", String("1"))},
		{"set boundary", DigestOf("test", "user", String("s1"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, base, tt.d)
		})
	}
}

func TestDigestLayout(t *testing.T) {
	// The set length prefix keeps ("ab","c") and ("a","bc") apart.
	assert.NotEqual(t,
		DigestOf("test", "ab", String("c")),
		DigestOf("test", "a", String("bc")))
	assert.Len(t, DigestOf("test", "", Int(0)), DigestSize)
}

func TestPartitionOf(t *testing.T) {
	var d Digest
	d[0], d[1] = 0x01, 0x00
	assert.Equal(t, PartitionID(1), PartitionOf(d))

	d[0], d[1] = 0xff, 0xff
	assert.Equal(t, PartitionID(0xffff%PartitionCount), PartitionOf(d))

	d[0], d[1] = 0x00, 0x10
	assert.Equal(t, PartitionID(0), PartitionOf(d))
}

func TestNew(t *testing.T) {
	k, err := New("test", "demo", "alice")
	require.NoError(t, err)
	assert.True(t, k.HasUserKey())
	assert.Equal(t, "alice", k.UserKey.Value())
	assert.Equal(t, DigestOf("test", "demo", String("alice")), k.Digest)
	assert.Equal(t, PartitionOf(k.Digest), k.Partition())

	k, err = New("test", "demo", 42)
	require.NoError(t, err)
	assert.Equal(t, int64(42), k.UserKey.Value())

	_, err = New("", "demo", 1)
	assert.ErrorIs(t, err, status.ErrParam)

	_, err = New("test", "demo", 1.5)
	assert.ErrorIs(t, err, status.ErrParam)

	_, err = New("test", "demo", uint64(1)<<63)
	assert.ErrorIs(t, err, status.ErrParam)
}

func TestInitDigest(t *testing.T) {
	raw := bytes.Repeat([]byte{7}, DigestSize)

	tests := []struct {
		name    string
		pk      any
		wantErr bool
	}{
		{"exact length", raw, false},
		{"short", raw[:19], true},
		{"long", append(raw, 1), true},
		{"not bytes", 12, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := Init("test", "demo", tt.pk, true)
			if tt.wantErr {
				assert.Equal(t, status.ErrParam, status.CodeOf(err))
				return
			}
			require.NoError(t, err)
			assert.False(t, k.HasUserKey())
			assert.Equal(t, raw, k.Digest[:])
		})
	}
}

func TestDigestText(t *testing.T) {
	d := DigestOf("test", "demo", Int(7))

	out, err := json.Marshal(d)
	require.NoError(t, err)

	var back Digest
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, d, back)

	_, err = ParseDigest("zz")
	assert.ErrorIs(t, err, status.ErrParam)
}

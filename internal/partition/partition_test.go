package partition

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua-kv/internal/key"
	"github.com/dreamware/torua-kv/internal/record"
	"github.com/dreamware/torua-kv/internal/value"
)

func keyIn(t *testing.T, pid key.PartitionID) key.Digest {
	t.Helper()
	for i := int64(0); i < 1_000_000; i++ {
		d := key.DigestOf("test", "p", key.Int(i))
		if key.PartitionOf(d) == pid {
			return d
		}
	}
	t.Fatalf("no key found for partition %d", pid)
	return key.Digest{}
}

func TestNewPartition(t *testing.T) {
	p := New(12, true, nil)

	if p.ID != 12 {
		t.Errorf("Expected ID 12, got %d", p.ID)
	}
	if !p.Primary {
		t.Error("Expected primary partition")
	}
	if p.CurrentState() != StateActive {
		t.Errorf("Expected active state, got %s", p.CurrentState())
	}
	assert.Equal(t, Info{ID: 12, Primary: true, State: StateActive}, p.Info())
}

func TestOwns(t *testing.T) {
	p := New(5, true, nil)
	assert.True(t, p.Owns(keyIn(t, 5)))
	assert.False(t, p.Owns(keyIn(t, 6)))
}

func TestUpdateAndView(t *testing.T) {
	p := New(1, true, nil)
	d := keyIn(t, 1)

	t.Run("view missing record", func(t *testing.T) {
		err := p.View(d, func(cur *record.Stored) error {
			assert.Nil(t, cur)
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("store record", func(t *testing.T) {
		err := p.Update(d, func(cur *record.Stored) (*record.Stored, bool, error) {
			assert.Nil(t, cur)
			return &record.Stored{Namespace: "test", Generation: 1, Bins: value.Bins{"a": value.Int(1)}}, false, nil
		})
		require.NoError(t, err)

		err = p.View(d, func(cur *record.Stored) error {
			require.NotNil(t, cur)
			assert.Equal(t, uint32(1), cur.Generation)
			assert.Equal(t, value.Int(1), cur.Bins["a"])
			return nil
		})
		require.NoError(t, err)
	})

	t.Run("no change", func(t *testing.T) {
		require.NoError(t, p.Update(d, func(cur *record.Stored) (*record.Stored, bool, error) {
			return nil, false, nil
		}))
		assert.Equal(t, 1, p.Info().KeyCount)
	})

	t.Run("failed update keeps record", func(t *testing.T) {
		boom := errors.New("boom")
		err := p.Update(d, func(cur *record.Stored) (*record.Stored, bool, error) {
			return &record.Stored{}, false, boom
		})
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, 1, p.Info().KeyCount)
	})

	t.Run("delete", func(t *testing.T) {
		require.NoError(t, p.Update(d, func(cur *record.Stored) (*record.Stored, bool, error) {
			return nil, true, nil
		}))
		assert.Equal(t, 0, p.Info().KeyCount)
	})

	stats := p.GetStats()
	assert.Equal(t, uint64(1), stats.Ops.Writes)
	assert.Equal(t, uint64(1), stats.Ops.Deletes)
	assert.Equal(t, uint64(2), stats.Ops.Reads)
	assert.Equal(t, uint64(1), stats.Ops.Errors)
}

func TestUpdateSerializes(t *testing.T) {
	p := New(2, true, nil)
	d := keyIn(t, 2)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.Update(d, func(cur *record.Stored) (*record.Stored, bool, error) {
				if cur == nil {
					cur = &record.Stored{Bins: value.Bins{"n": value.Int(0)}}
				}
				cur.Generation++
				cur.Bins["n"] = cur.Bins["n"].(value.Int) + 1
				return cur, false, nil
			})
			if err != nil {
				t.Errorf("update: %v", err)
			}
		}()
	}
	wg.Wait()

	require.NoError(t, p.View(d, func(cur *record.Stored) error {
		assert.Equal(t, uint32(50), cur.Generation)
		assert.Equal(t, value.Int(50), cur.Bins["n"])
		return nil
	}))
}

func TestDigestsAndDrain(t *testing.T) {
	p := New(3, false, nil)
	for i := int64(0); i < 3; i++ {
		d := key.DigestOf("test", "drain", key.Int(i))
		require.NoError(t, p.Update(d, func(*record.Stored) (*record.Stored, bool, error) {
			return &record.Stored{Bins: value.Bins{"a": value.Int(i)}}, false, nil
		}))
	}

	ds, err := p.Digests()
	require.NoError(t, err)
	require.Len(t, ds, 3)
	for i := 1; i < len(ds); i++ {
		assert.Less(t, ds[i-1].String(), ds[i].String())
	}

	n, err := p.Drain()
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 0, p.Info().KeyCount)
}

func TestSetState(t *testing.T) {
	p := New(4, true, nil)
	for _, s := range []State{StateMigrating, StateDropped, StateActive} {
		p.SetState(s)
		assert.Equal(t, s, p.CurrentState())
	}
}

package storage

import (
	"bytes"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dreamware/torua-kv/internal/key"
)

func digest(i int) key.Digest {
	return key.DigestOf("test", "store", key.Int(int64(i)))
}

func openBolt(t *testing.T) *BoltDB {
	t.Helper()
	db, err := OpenBolt(filepath.Join(t.TempDir(), fmt.Sprintf("bolt-%s.db", uuid.NewString())))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

// stores returns every Store implementation under test
func stores(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"bolt":   openBolt(t).Partition(7),
	}
}

func TestStoreContract(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			t.Run("empty", func(t *testing.T) {
				_, err := store.Get(digest(0))
				assert.ErrorIs(t, err, ErrKeyNotFound)

				keys, err := store.List()
				require.NoError(t, err)
				assert.Empty(t, keys)
				assert.Equal(t, StoreStats{}, store.Stats())

				// Deleting from an empty store is not an error
				assert.NoError(t, store.Delete(digest(0)))
			})

			t.Run("put get overwrite delete", func(t *testing.T) {
				require.NoError(t, store.Put(digest(1), []byte("one")))
				got, err := store.Get(digest(1))
				require.NoError(t, err)
				assert.Equal(t, []byte("one"), got)

				require.NoError(t, store.Put(digest(1), []byte("uno!")))
				got, err = store.Get(digest(1))
				require.NoError(t, err)
				assert.Equal(t, []byte("uno!"), got)
				assert.Equal(t, StoreStats{Keys: 1, Bytes: 4}, store.Stats())

				require.NoError(t, store.Delete(digest(1)))
				_, err = store.Get(digest(1))
				assert.ErrorIs(t, err, ErrKeyNotFound)
				assert.Equal(t, StoreStats{}, store.Stats())
			})

			t.Run("values are copied", func(t *testing.T) {
				data := []byte("abc")
				require.NoError(t, store.Put(digest(2), data))
				data[0] = 'x'

				got, err := store.Get(digest(2))
				require.NoError(t, err)
				got[1] = 'y'

				again, err := store.Get(digest(2))
				require.NoError(t, err)
				if !bytes.Equal(again, []byte("abc")) {
					t.Errorf("stored value changed to %q", again)
				}
			})

			t.Run("list", func(t *testing.T) {
				for i := 10; i < 15; i++ {
					require.NoError(t, store.Put(digest(i), []byte{byte(i)}))
				}
				keys, err := store.List()
				require.NoError(t, err)
				for i := 10; i < 15; i++ {
					assert.Contains(t, keys, digest(i))
				}
			})
		})
	}
}

func TestStoreConcurrency(t *testing.T) {
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for w := 0; w < 8; w++ {
				wg.Add(1)
				go func(w int) {
					defer wg.Done()
					for i := 0; i < 20; i++ {
						d := digest(w*100 + i)
						if err := store.Put(d, []byte{byte(i)}); err != nil {
							t.Errorf("put: %v", err)
							return
						}
						if _, err := store.Get(d); err != nil {
							t.Errorf("get: %v", err)
							return
						}
					}
				}(w)
			}
			wg.Wait()
			assert.Equal(t, 160, store.Stats().Keys)
		})
	}
}

func TestBoltPartitionsAreIsolated(t *testing.T) {
	db := openBolt(t)
	p1, p2 := db.Partition(1), db.Partition(2)

	require.NoError(t, p1.Put(digest(1), []byte("a")))
	_, err := p2.Get(digest(1))
	assert.ErrorIs(t, err, ErrKeyNotFound)
	assert.Equal(t, 1, p1.Stats().Keys)
	assert.Equal(t, 0, p2.Stats().Keys)
}

func TestBoltReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")

	db, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, db.Partition(3).Put(digest(1), []byte("persisted")))
	require.NoError(t, db.Close())

	db, err = OpenBolt(path)
	require.NoError(t, err)
	defer db.Remove()

	got, err := db.Partition(3).Get(digest(1))
	require.NoError(t, err)
	assert.Equal(t, []byte("persisted"), got)
}

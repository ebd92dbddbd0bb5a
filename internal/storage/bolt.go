package storage

import (
	"fmt"
	"os"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dreamware/torua-kv/internal/key"
)

// BoltDB is a node's persistent record file. Each partition lives in its own
// bucket named after the partition id.
type BoltDB struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database file at path
func OpenBolt(path string) (*BoltDB, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}
	return &BoltDB{db: db}, nil
}

// Path returns the database file location
func (b *BoltDB) Path() string { return b.db.Path() }

// Close releases the database file
func (b *BoltDB) Close() error { return b.db.Close() }

// Remove closes the database and deletes its file
func (b *BoltDB) Remove() error {
	path := b.db.Path()
	if err := b.Close(); err != nil {
		return fmt.Errorf("close bolt store: %w", err)
	}
	return os.RemoveAll(path)
}

// Partition returns the store backed by the bucket of pid
func (b *BoltDB) Partition(pid key.PartitionID) *BoltStore {
	return &BoltStore{db: b.db, bucket: []byte(fmt.Sprintf("p%04d", pid))}
}

// BoltStore is a Store over one bbolt bucket
type BoltStore struct {
	db     *bolt.DB
	bucket []byte
}

var _ Store = (*BoltStore)(nil)

// Get copies the value out of the read transaction
func (s *BoltStore) Get(d key.Digest) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return ErrKeyNotFound
		}
		v := b.Get(d[:])
		if v == nil {
			return ErrKeyNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	return out, err
}

// Put creates the bucket on first use
func (s *BoltStore) Put(d key.Digest, data []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(s.bucket)
		if err != nil {
			return err
		}
		return b.Put(d[:], data)
	})
}

// Delete removes d if present
func (s *BoltStore) Delete(d key.Digest) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.Delete(d[:])
	})
}

// List returns the stored digests in byte order
func (s *BoltStore) List() ([]key.Digest, error) {
	var out []key.Digest
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, _ []byte) error {
			d, err := key.DigestFromBytes(k)
			if err != nil {
				return err
			}
			out = append(out, d)
			return nil
		})
	})
	return out, err
}

// Stats walks the bucket; it is linear in the number of records
func (s *BoltStore) Stats() StoreStats {
	var st StoreStats
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(s.bucket)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			st.Keys++
			st.Bytes += len(v)
			return nil
		})
	})
	return st
}

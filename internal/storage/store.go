// Package storage provides the record stores behind node partitions.
// This file defines the Store interface and its in-memory implementation.
package storage

import (
	"errors"
	"sync"

	"github.com/dreamware/torua-kv/internal/key"
)

// ErrKeyNotFound is returned when no record is stored under a digest
var ErrKeyNotFound = errors.New("key not found")

// Store holds encoded records of one partition keyed by digest.
// All implementations must be safe for concurrent use.
type Store interface {
	// Get returns the encoded record stored under d
	// Returns ErrKeyNotFound if there is none
	Get(d key.Digest) ([]byte, error)

	// Put stores data under d, replacing any previous record
	Put(d key.Digest, data []byte) error

	// Delete removes the record under d
	// Deleting a missing digest is not an error
	Delete(d key.Digest) error

	// List returns every stored digest in no particular order
	List() ([]key.Digest, error)

	// Stats returns storage statistics
	Stats() StoreStats
}

// StoreStats contains statistics about the store
type StoreStats struct {
	Keys  int `json:"keys"`  // Number of records
	Bytes int `json:"bytes"` // Total size of all encoded records
}

// MemoryStore implements Store with an in-memory map.
// Records are lost when the process exits.
// Thread-safe: Uses sync.RWMutex; reads run concurrently, writes serialize.
type MemoryStore struct {
	mu    sync.RWMutex          // Protects data and bytes
	data  map[key.Digest][]byte // Encoded records by digest
	bytes int                   // Running total of len(data[d])
}

// NewMemoryStore creates an empty in-memory store.
//
// Returns:
//   - *MemoryStore: Store ready for concurrent use
//
// Example:
//
//	p := partition.New(pid, true, storage.NewMemoryStore())
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[key.Digest][]byte)}
}

// Get returns the record stored under d
// Returns a copy so callers cannot modify the stored bytes
func (m *MemoryStore) Get(d key.Digest) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.data[d]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return append([]byte(nil), data...), nil
}

// Put stores data under d
// Makes a copy of data so later changes by the caller are not seen
func (m *MemoryStore) Put(d key.Digest, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bytes += len(data) - len(m.data[d])
	m.data[d] = append([]byte(nil), data...)
	return nil
}

// Delete removes d; it is idempotent
func (m *MemoryStore) Delete(d key.Digest) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.bytes -= len(m.data[d])
	delete(m.data, d)
	return nil
}

// List returns a snapshot of the stored digests
func (m *MemoryStore) List() ([]key.Digest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]key.Digest, 0, len(m.data))
	for d := range m.data {
		out = append(out, d)
	}
	return out, nil
}

// Stats returns storage statistics
func (m *MemoryStore) Stats() StoreStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return StoreStats{Keys: len(m.data), Bytes: m.bytes}
}

// Package storage keeps the encoded records of a partition.
//
// # Overview
//
// Every partition a node holds is backed by one Store. A Store is a plain
// digest to bytes map: record encoding, generations and TTLs are handled
// above it, so implementations only need to be safe for concurrent use.
//
//	┌─────────────────────────────────────┐
//	│   node / partition (record logic)   │
//	└─────────────────┬───────────────────┘
//	                  │ Get / Put / Delete / List
//	        ┌─────────┴──────────┐
//	        ▼                    ▼
//	┌──────────────┐    ┌──────────────────┐
//	│ MemoryStore  │    │    BoltStore     │
//	│ map + RWMutex│    │ bucket per pid   │
//	└──────────────┘    └──────────────────┘
//
// # Implementations
//
// MemoryStore keeps records in a map guarded by a sync.RWMutex. Records are
// lost when the process exits; it is the default and what tests use.
//
// BoltDB is one bbolt file per node. BoltDB.Partition returns the Store for
// a partition, backed by a bucket named after the partition id, so records
// survive restarts.
//
// # Statistics
//
// Stats reports the record count and the encoded size of a store. The node
// exports both per partition as Prometheus gauges.
package storage

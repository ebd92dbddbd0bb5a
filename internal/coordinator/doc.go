// Package coordinator implements the control plane of the cluster: node
// membership, the partition map, health monitoring and distribution of
// partition tables to nodes and clients.
//
// # Overview
//
// Every key belongs to one of 4096 partitions. The coordinator decides which
// nodes hold each partition, master first, and publishes that decision as a
// versioned cluster.PartitionTable. It never sits on the data path: clients
// route requests straight to the owning node using their own RoutingTable.
//
//	┌──────────────┐  register / health   ┌──────────────┐
//	│              │◄─────────────────────│    node-1    │
//	│  Coordinator │── POST /control ────►│              │
//	│              │                      └──────────────┘
//	│ PartitionMap │  GET /partitions     ┌──────────────┐
//	│ HealthMonitor│◄─────────────────────│    client    │
//	└──────────────┘                      │ RoutingTable │
//	                                      └──────────────┘
//
// # Components
//
// PartitionMap holds the authoritative assignment. Rebalance places
// partition p on nodes p, p+1, ... modulo the node count, so masters spread
// evenly and each replica lives on a different node than its master.
//
// HealthMonitor probes each node's /health endpoint. A node becomes
// unhealthy after three consecutive failures and healthy again on its first
// successful probe. Server reacts to both transitions with a rebalance.
//
// Server ties the two together behind an HTTP API:
//
//	POST /register          join the cluster, rebalances on a new node
//	GET  /nodes             registered nodes and their health
//	GET  /partitions        current partition table
//	GET  /partitions/{id}   owners of one partition
//	POST /rebalance         force a rebalance
//	GET  /health            liveness
//
// RoutingTable is the client-side copy of the table. Refresh pulls it once,
// Watch keeps pulling it on an interval, and tables older than the installed
// one are ignored.
//
// # Versioning
//
// Every change to the map bumps its version. Nodes and clients discard tables
// with a lower version than the one they hold, so a delayed push can never
// roll ownership back.
package coordinator

// Package cluster defines what travels between the parts of a torua-kv
// cluster: node identities, the partition table, the record and batch wire
// messages and the transports that carry them.
//
// # Overview
//
// A cluster is one coordinator and any number of storage nodes. The
// coordinator owns the partition table and pushes it to every node; clients
// pull the same table and send each request straight to the node that owns
// the key's partition.
//
//	              ┌───────────────┐
//	              │  Coordinator  │
//	              │ partition map │
//	              └───────┬───────┘
//	     push /control    │     GET /partitions
//	      ┌───────────────┼────────────────┐
//	      ▼               ▼                ▼
//	┌───────────┐   ┌───────────┐    ┌───────────┐
//	│  Node n1  │◀─▶│  Node n2  │    │  Client   │
//	│ masters + │   │ masters + │    │  routing  │
//	│ replicas  │   │ replicas  │    │   table   │
//	└───────────┘   └───────────┘    └─────┬─────┘
//	      ▲               ▲                │
//	      └───────────────┴────────────────┘
//	          POST /v1/record, /v1/batch
//
// # Core Types
//
// NodeInfo identifies a node by ID and the address it serves on.
//
// PartitionTable lists, for each of the 4096 partitions, the IDs of the
// nodes holding it: master first, then replicas. Version grows with every
// change so stale tables can be told apart.
//
// Request and Response carry one record command (get, exists, operate,
// delete or replicate). The outcome of the command is the Response Code;
// a Response exists only when the node was reached.
//
// BatchRequest and BatchResponse carry the keys of one sub-batch and one
// item per key, in request order.
//
// # Transports
//
// Transport is how clients and nodes reach other nodes:
//
//   - HTTPTransport posts JSON to RecordPath and BatchPath
//   - LocalTransport calls in-process Handlers, used by tests and
//     single-process deployments
//
// Both report delivery failures as *status.Error values (ERR_TIMEOUT,
// ERR_CONNECTION, ERR_CLIENT_ABORT) so callers can decide about retries
// without looking at transport details.
//
// Router resolves partition owners; the coordinator's RoutingTable is the
// implementation clients use.
//
// # Helpers
//
// PostJSON and GetJSON wrap net/http for the JSON endpoints. Non-2xx replies
// come back as *HTTPError with the status code and the start of the body.
package cluster

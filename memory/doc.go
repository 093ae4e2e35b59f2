// Package memory provides a trust-weighted semantic memory store.
//
// Plain vector retrieval ranks by similarity alone, so a memory that has
// been corrected keeps resurfacing for as long as it stays semantically
// close to the query. This package keeps a second, independent signal per
// memory: a trust weight that decays under "flag" feedback and recovers
// under "approve" feedback. Queries rank by confidence (relevance x trust)
// and suppress memories whose trust has fallen below a threshold.
// Flagging decays trust, it never deletes.
//
// Architecture:
//   - Index: similarity-only vector backend, unaware of trust
//     (chromem-go implementation in index/chromem)
//   - TrustStore: mutable trust state per memory id with decay/boost policy
//   - ReviewQueue: pending non-privileged feedback awaiting admin disposition
//   - Gate: orchestrates ingestion, gated queries and feedback dispatch
//   - Embedder: text-to-vector conversion (mock for tests, ONNX for local
//     semantic search, ristretto-cached wrapper for production paths)
//
// Feedback is role-gated: admin feedback mutates trust immediately, user
// feedback is queued and takes effect only once an admin accepts it. That
// gate is the core access-control rule of the system: low-privilege
// feedback can never silently and immediately alter ranking.
package memory

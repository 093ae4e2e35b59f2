package memory

import (
	"context"
	"time"
)

// Record is the atomic unit of knowledge held by the store.
//
// The embedding is computed once at ingest time from Content and is
// immutable until a re-ingest changes the content. Trust state is NOT
// part of the record: it lives in the TrustStore, independent of
// semantic relevance.
type Record struct {
	// ID is the caller-assigned, stable memory identifier.
	// Re-ingesting the same ID updates content and metadata in place
	// but does not reset trust.
	ID string

	// Content is the text payload.
	Content string

	// Metadata holds arbitrary scalar values, opaque to the store.
	Metadata map[string]interface{}

	// Embedding is the L2-normalized vector computed from Content.
	Embedding []float32

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Hit is a single similarity-search result from an Index.
type Hit struct {
	// MemoryID identifies the matched record.
	MemoryID string

	// Score is the cosine similarity to the query. Embeddings are
	// pre-normalized, so this is the inner product.
	Score float64
}

// Index is the similarity-search backend.
// It is deliberately similarity-only: it knows nothing about trust.
//
// Implementations: chromem.Index (embedded, chromem-go backed).
type Index interface {
	// Insert stores a record, replacing any existing record with the
	// same ID.
	Insert(ctx context.Context, rec *Record) error

	// Search returns up to k records ranked by similarity to the query
	// embedding, highest first, ties broken by most-recently-inserted
	// first. An empty index returns an empty slice, never an error.
	Search(ctx context.Context, embedding []float32, k int) ([]Hit, error)

	// Get returns the record for id, or ErrNotFound.
	Get(ctx context.Context, id string) (*Record, error)

	// Count returns the number of records in the index.
	Count() int

	// Close releases resources.
	Close() error
}

// Embedder converts text to vector embeddings.
// Implementations: mock.Embedder (testing), onnx.Embedder (local semantic
// search), cached.Embedder (ristretto read-through wrapper).
//
// Embedders must return L2-normalized vectors of a fixed dimension.
type Embedder interface {
	// Embed converts a single text to an embedding vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the embedding vector size.
	Dimensions() int
}

// FeedbackAction is a trust mutation intent.
type FeedbackAction string

const (
	// ActionFlag marks a memory as incorrect, decaying its trust.
	ActionFlag FeedbackAction = "flag"

	// ActionApprove confirms a memory, boosting its trust toward 1.0.
	ActionApprove FeedbackAction = "approve"
)

// Valid reports whether the action is a recognized feedback action.
func (a FeedbackAction) Valid() bool {
	return a == ActionFlag || a == ActionApprove
}

// Role identifies the privilege level of a feedback submitter.
type Role string

const (
	// RoleAdmin feedback applies to trust immediately.
	RoleAdmin Role = "admin"

	// RoleUser feedback is queued for admin review.
	RoleUser Role = "user"

	// RoleUnspecified is treated as privileged: the transport boundary
	// is responsible for authenticating callers that omit a role.
	RoleUnspecified Role = ""
)

// Privileged reports whether feedback from this role applies immediately.
func (r Role) Privileged() bool {
	return r == RoleAdmin || r == RoleUnspecified
}

// FeedbackEvent is one applied trust mutation. Events are append-only:
// a memory's history is never truncated or reordered.
type FeedbackEvent struct {
	Action FeedbackAction
	Role   Role

	// Trust is the trust weight after applying the event.
	Trust float64

	Timestamp time.Time
}

// RequestStatus is the lifecycle state of a queued feedback request.
type RequestStatus string

const (
	StatusQueued   RequestStatus = "queued"
	StatusApplied  RequestStatus = "applied"
	StatusRejected RequestStatus = "rejected"
)

// FeedbackRequest is a pending or resolved feedback intent held by the
// review queue.
type FeedbackRequest struct {
	ID       string
	MemoryID string
	Action   FeedbackAction
	Role     Role
	Status   RequestStatus

	// Trust is the resulting trust weight, set once Status is applied.
	Trust float64

	SubmittedAt time.Time
	ResolvedAt  time.Time
}

package memory

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"
)

// Gate orchestrates the embedding index, trust store and review queue
// into a single trust-filtered memory store.
//
// The index stays similarity-only; the gate combines its scores with
// trust at query time, so trust changes take effect on the next query
// without touching stored vectors. Embedding computation is kept off
// every lock path: text is embedded before any per-memory state is
// touched, so a slow embedder never blocks feedback or other queries.
type Gate struct {
	index    Index
	embedder Embedder
	trust    *TrustStore
	queue    *ReviewQueue
	cfg      *Config

	hookMu sync.RWMutex
	hooks  []func(FeedbackNotice)
}

// Option configures the gate.
type Option func(*Gate)

// WithFeedbackHook registers a hook invoked on every feedback submission
// and resolution. Equivalent to calling OnFeedback after construction.
func WithFeedbackHook(fn func(FeedbackNotice)) Option {
	return func(g *Gate) {
		g.hooks = append(g.hooks, fn)
	}
}

// New creates a gate over the given index and embedder. A nil config uses
// DefaultConfig. The gate owns its trust store and review queue.
func New(index Index, embedder Embedder, cfg *Config, opts ...Option) *Gate {
	if cfg == nil {
		cfg = DefaultConfig
	}
	g := &Gate{
		index:    index,
		embedder: embedder,
		trust:    NewTrustStore(cfg),
		queue:    NewReviewQueue(),
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Trust exposes the gate's trust store for direct inspection.
func (g *Gate) Trust() *TrustStore {
	return g.trust
}

// OnFeedback registers a hook invoked synchronously on every feedback
// submission and resolution. Hooks must not block.
func (g *Gate) OnFeedback(fn func(FeedbackNotice)) {
	g.hookMu.Lock()
	g.hooks = append(g.hooks, fn)
	g.hookMu.Unlock()
}

func (g *Gate) notify(n FeedbackNotice) {
	g.hookMu.RLock()
	hooks := g.hooks
	g.hookMu.RUnlock()
	for _, fn := range hooks {
		fn(n)
	}
}

// FeedbackNotice describes a feedback submission or resolution, for
// observers such as the websocket event feed.
type FeedbackNotice struct {
	MemoryID  string
	Action    FeedbackAction
	Role      Role
	Status    RequestStatus
	Trust     float64
	RequestID string
	Timestamp time.Time
}

// IngestRequest carries one memory into the store.
type IngestRequest struct {
	MemoryID string
	Content  string
	Metadata map[string]interface{}

	// InitialTrust seeds the trust weight on first ingest, clamped to
	// [0,1]. Nil defaults to Config.DefaultTrust. Ignored when the
	// memory id already exists: re-ingestion never resets trust.
	InitialTrust *float64
}

// Ingest validates and inserts a memory into the index and trust store.
//
// Re-ingesting an existing id updates content and metadata in place;
// the embedding is recomputed only when the content actually changed.
// Failures are all-or-nothing: a failed embed or insert leaves no
// partial state behind.
func (g *Gate) Ingest(ctx context.Context, req IngestRequest) error {
	if req.MemoryID == "" {
		return &ValidationError{Field: "memory_id", Reason: "required"}
	}
	if req.Content == "" {
		return &ValidationError{Field: "content", Reason: "required"}
	}

	now := time.Now()
	rec := &Record{
		ID:        req.MemoryID,
		Content:   req.Content,
		Metadata:  req.Metadata,
		CreatedAt: now,
		UpdatedAt: now,
	}

	// Reuse the existing embedding when content is unchanged; the
	// embedding is immutable once computed for a given content.
	if prev, err := g.index.Get(ctx, req.MemoryID); err == nil {
		rec.CreatedAt = prev.CreatedAt
		if prev.Content == req.Content {
			rec.Embedding = prev.Embedding
		}
	}

	if rec.Embedding == nil {
		embedding, err := g.embedder.Embed(ctx, req.Content)
		if err != nil {
			return fmt.Errorf("embed content: %w", err)
		}
		if len(embedding) != g.embedder.Dimensions() {
			return &ValidationError{
				Field:  "embedding",
				Reason: fmt.Sprintf("expected %d dimensions, got %d", g.embedder.Dimensions(), len(embedding)),
			}
		}
		rec.Embedding = embedding
	}

	if err := g.index.Insert(ctx, rec); err != nil {
		return fmt.Errorf("index insert: %w", err)
	}

	initial := g.cfg.DefaultTrust
	if req.InitialTrust != nil {
		initial = clamp(*req.InitialTrust)
	}
	g.trust.Register(req.MemoryID, initial)

	log.Printf("[GATE] Ingested memory %s (trust %.2f)", req.MemoryID, g.trust.Get(req.MemoryID))
	return nil
}

// ScoredMemory is one query result with its trust-filtered scores.
type ScoredMemory struct {
	MemoryID string
	Content  string
	Metadata map[string]interface{}

	// Relevance is the cosine similarity between query and memory.
	Relevance float64

	// Reliability is the memory's trust weight, independent of relevance.
	Reliability float64

	// Confidence is relevance * reliability, the final ranking signal.
	Confidence float64

	// LowConfidence marks a borderline result: still returned, but its
	// confidence fell below the low-confidence threshold.
	LowConfidence bool

	// Suppressed marks a result whose trust fell below the suppression
	// threshold. Suppressed memories are excluded from Results, so this
	// is always false on returned entries; it exists for boundary
	// serialization symmetry.
	Suppressed bool
}

// QueryResult is a classified, ranked result set.
type QueryResult struct {
	// Results holds non-suppressed candidates ranked by confidence
	// descending, truncated to the query limit. Low-confidence entries
	// are included but marked.
	Results []ScoredMemory

	// ActiveCount is the number of returned results that are neither
	// suppressed nor low-confidence.
	ActiveCount int

	// SuppressedCount is the number of candidates in the full pool
	// whose trust fell below the suppression threshold.
	SuppressedCount int
}

// Query embeds the query text and runs a trust-filtered search with the
// configured thresholds.
func (g *Gate) Query(ctx context.Context, queryText string, limit int) (*QueryResult, error) {
	embedding, err := g.embedder.Embed(ctx, queryText)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return g.QueryEmbedding(ctx, embedding, limit, g.cfg.LowConfidenceThreshold, g.cfg.SuppressionThreshold)
}

// QueryEmbedding runs a trust-filtered search for a pre-computed query
// embedding with explicit classification thresholds.
//
// The full index is scanned and ranked by confidence rather than raw
// similarity, so suppressed items never crowd out lower-similarity but
// valid results. Each candidate observes a consistent per-memory trust
// snapshot; cross-memory snapshot consistency is not required.
func (g *Gate) QueryEmbedding(ctx context.Context, embedding []float32, limit int, lowConfidenceThreshold, suppressionThreshold float64) (*QueryResult, error) {
	if limit <= 0 {
		return nil, &ValidationError{Field: "limit", Reason: "must be positive"}
	}

	result := &QueryResult{}
	n := g.index.Count()
	if n == 0 {
		return result, nil
	}

	hits, err := g.index.Search(ctx, embedding, n)
	if err != nil {
		return nil, fmt.Errorf("index search: %w", err)
	}

	var candidates []ScoredMemory
	for _, hit := range hits {
		rec, err := g.index.Get(ctx, hit.MemoryID)
		if err != nil {
			// Raced with a concurrent replace; skip rather than fail
			// the whole query.
			continue
		}

		trust := g.trust.Get(hit.MemoryID)
		if trust < suppressionThreshold {
			result.SuppressedCount++
			continue
		}

		confidence := hit.Score * trust
		candidates = append(candidates, ScoredMemory{
			MemoryID:      rec.ID,
			Content:       rec.Content,
			Metadata:      rec.Metadata,
			Relevance:     hit.Score,
			Reliability:   trust,
			Confidence:    confidence,
			LowConfidence: confidence < lowConfidenceThreshold,
		})
	}

	// Stable sort keeps the index's recency tie-break for equal
	// confidence.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Confidence > candidates[j].Confidence
	})

	if len(candidates) > limit {
		candidates = candidates[:limit]
	}
	result.Results = candidates
	for _, c := range candidates {
		if !c.LowConfidence {
			result.ActiveCount++
		}
	}

	log.Printf("[GATE] Query returned %d results (%d active, %d suppressed)",
		len(result.Results), result.ActiveCount, result.SuppressedCount)
	return result, nil
}

// Outcome is the tagged result of a feedback submission or resolution.
// Exactly one of Applied, Queued or Rejected; callers type-switch to
// handle all three.
type Outcome interface {
	feedbackOutcome()
}

// Applied means the feedback mutated trust immediately.
type Applied struct {
	// Trust is the resulting trust weight.
	Trust float64
}

// Queued means the feedback awaits admin disposition; no trust mutation
// has happened.
type Queued struct {
	RequestID string
}

// Rejected means an admin discarded the request with no trust mutation.
type Rejected struct {
	Reason string
}

func (Applied) feedbackOutcome()  {}
func (Queued) feedbackOutcome()   {}
func (Rejected) feedbackOutcome() {}

// SubmitFeedback routes a feedback request by role: privileged roles
// apply immediately via the trust store, everything else is enqueued for
// admin review. This is the core access-control rule of the store.
func (g *Gate) SubmitFeedback(ctx context.Context, memoryID string, action FeedbackAction, role Role) (Outcome, error) {
	if !action.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}
	if _, err := g.index.Get(ctx, memoryID); err != nil {
		return nil, fmt.Errorf("feedback target %s: %w", memoryID, ErrNotFound)
	}

	if role.Privileged() {
		trust, err := g.trust.Apply(memoryID, action, role)
		if err != nil {
			return nil, err
		}
		g.notify(FeedbackNotice{
			MemoryID:  memoryID,
			Action:    action,
			Role:      role,
			Status:    StatusApplied,
			Trust:     trust,
			Timestamp: time.Now(),
		})
		return Applied{Trust: trust}, nil
	}

	req := g.queue.Enqueue(memoryID, action, role)
	g.notify(FeedbackNotice{
		MemoryID:  memoryID,
		Action:    action,
		Role:      role,
		Status:    StatusQueued,
		RequestID: req.ID,
		Timestamp: time.Now(),
	})
	return Queued{RequestID: req.ID}, nil
}

// PendingFeedback lists queued requests in submission order.
func (g *Gate) PendingFeedback() []FeedbackRequest {
	return g.queue.Pending()
}

// ResolveFeedback disposes of a queued request. Accepting applies the
// request to the trust store exactly once; rejecting discards it.
// Duplicate resolutions with the same decision return the prior outcome.
func (g *Gate) ResolveFeedback(ctx context.Context, requestID string, decision Decision) (Outcome, error) {
	req, err := g.queue.Resolve(requestID, decision, g.trust.Apply)
	if err != nil {
		return nil, err
	}

	switch req.Status {
	case StatusApplied:
		g.notify(FeedbackNotice{
			MemoryID:  req.MemoryID,
			Action:    req.Action,
			Role:      req.Role,
			Status:    StatusApplied,
			Trust:     req.Trust,
			RequestID: req.ID,
			Timestamp: time.Now(),
		})
		return Applied{Trust: req.Trust}, nil
	default:
		g.notify(FeedbackNotice{
			MemoryID:  req.MemoryID,
			Action:    req.Action,
			Role:      req.Role,
			Status:    StatusRejected,
			RequestID: req.ID,
			Timestamp: time.Now(),
		})
		return Rejected{Reason: "rejected by admin"}, nil
	}
}

// GetMemory returns a memory record together with its trust state, for
// audit views. The trust snapshot includes the full feedback history.
func (g *Gate) GetMemory(ctx context.Context, memoryID string) (*Record, TrustState, error) {
	rec, err := g.index.Get(ctx, memoryID)
	if err != nil {
		return nil, TrustState{}, err
	}
	return rec, g.trust.State(memoryID), nil
}

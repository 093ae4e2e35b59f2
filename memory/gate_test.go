package memory_test

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/memorygate/memorygate-go/memory"
	"github.com/memorygate/memorygate-go/memory/embedder/mock"
	"github.com/memorygate/memorygate-go/memory/index/chromem"
)

func newTestGate(t *testing.T) (*memory.Gate, *chromem.Index) {
	t.Helper()
	index, err := chromem.New()
	if err != nil {
		t.Fatalf("create index: %v", err)
	}
	return memory.New(index, mock.New(), nil), index
}

func ingest(t *testing.T, gate *memory.Gate, id, content string) {
	t.Helper()
	if err := gate.Ingest(context.Background(), memory.IngestRequest{
		MemoryID: id,
		Content:  content,
	}); err != nil {
		t.Fatalf("ingest %s: %v", id, err)
	}
}

func unit(values ...float32) []float32 {
	var norm float64
	for _, v := range values {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	out := make([]float32, len(values))
	for i, v := range values {
		out[i] = float32(float64(v) / norm)
	}
	return out
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-4
}

func TestGate_IngestAndQuery(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	ingest(t, gate, "doc1", "Office is in NYC")

	// The mock embedder is deterministic, so querying with the exact
	// content scores similarity 1.0.
	result, err := gate.Query(ctx, "Office is in NYC", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(result.Results))
	}

	got := result.Results[0]
	if got.MemoryID != "doc1" {
		t.Errorf("expected doc1, got %s", got.MemoryID)
	}
	if !approx(got.Relevance, 1.0) {
		t.Errorf("expected relevance ~1.0, got %v", got.Relevance)
	}
	if got.Reliability != 1.0 {
		t.Errorf("expected reliability 1.0 before any feedback, got %v", got.Reliability)
	}
	if !approx(got.Confidence, got.Relevance*got.Reliability) {
		t.Errorf("confidence %v != relevance*reliability %v", got.Confidence, got.Relevance*got.Reliability)
	}
	if got.Suppressed || got.LowConfidence {
		t.Errorf("fresh memory must be active, got suppressed=%v low=%v", got.Suppressed, got.LowConfidence)
	}
	if result.ActiveCount != 1 || result.SuppressedCount != 0 {
		t.Errorf("expected active=1 suppressed=0, got active=%d suppressed=%d",
			result.ActiveCount, result.SuppressedCount)
	}
}

func TestGate_AdminFlagSuppresses(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	ingest(t, gate, "doc1", "Office is in NYC")

	outcome, err := gate.SubmitFeedback(ctx, "doc1", memory.ActionFlag, memory.RoleAdmin)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	applied, ok := outcome.(memory.Applied)
	if !ok {
		t.Fatalf("expected Applied outcome, got %T", outcome)
	}
	if applied.Trust != 0.1 {
		t.Errorf("expected trust 0.1 after flag, got %v", applied.Trust)
	}

	// Trust 0.1 is below the default suppression threshold 0.2
	result, err := gate.Query(ctx, "Office is in NYC", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Results) != 0 {
		t.Errorf("suppressed memory must not appear in results, got %d", len(result.Results))
	}
	if result.SuppressedCount != 1 {
		t.Errorf("expected suppressed_count 1, got %d", result.SuppressedCount)
	}
	if result.ActiveCount != 0 {
		t.Errorf("expected active_count 0, got %d", result.ActiveCount)
	}
}

func TestGate_UserFeedbackIsQueued(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	ingest(t, gate, "doc1", "Office is in NYC")

	outcome, err := gate.SubmitFeedback(ctx, "doc1", memory.ActionFlag, memory.RoleUser)
	if err != nil {
		t.Fatalf("feedback: %v", err)
	}
	queued, ok := outcome.(memory.Queued)
	if !ok {
		t.Fatalf("expected Queued outcome, got %T", outcome)
	}

	// No synchronous trust mutation
	if got := gate.Trust().Get("doc1"); got != 1.0 {
		t.Errorf("user feedback must not change trust synchronously, got %v", got)
	}
	result, _ := gate.Query(ctx, "Office is in NYC", 5)
	if len(result.Results) != 1 || result.Results[0].Reliability != 1.0 {
		t.Fatalf("expected reliability unchanged at 1.0, got %+v", result.Results)
	}

	pending := gate.PendingFeedback()
	if len(pending) != 1 || pending[0].ID != queued.RequestID {
		t.Fatalf("expected the request pending, got %+v", pending)
	}

	// Only an explicit admin resolution applies it
	resolved, err := gate.ResolveFeedback(ctx, queued.RequestID, memory.DecisionAccept)
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	applied, ok := resolved.(memory.Applied)
	if !ok {
		t.Fatalf("expected Applied outcome, got %T", resolved)
	}
	if applied.Trust != 0.1 {
		t.Errorf("expected trust 0.1 after accepted flag, got %v", applied.Trust)
	}

	// Resolving twice produces the same final state as resolving once
	again, err := gate.ResolveFeedback(ctx, queued.RequestID, memory.DecisionAccept)
	if err != nil {
		t.Fatalf("duplicate resolve: %v", err)
	}
	if a, ok := again.(memory.Applied); !ok || a.Trust != applied.Trust {
		t.Errorf("duplicate resolve changed outcome: %+v", again)
	}
	if got := gate.Trust().Get("doc1"); got != 0.1 {
		t.Errorf("expected trust 0.1 after duplicate resolve, got %v", got)
	}

	if _, err := gate.ResolveFeedback(ctx, queued.RequestID, memory.DecisionReject); !errors.Is(err, memory.ErrConflict) {
		t.Errorf("expected ErrConflict for conflicting decision, got %v", err)
	}
}

func TestGate_RanksByConfidenceNotSimilarity(t *testing.T) {
	gate, index := newTestGate(t)
	ctx := context.Background()

	// Seed the index directly with controlled vectors: docA matches the
	// query exactly, docB less so.
	recA := &memory.Record{ID: "docA", Content: "a", Embedding: unit(1, 0, 0, 0)}
	recB := &memory.Record{ID: "docB", Content: "b", Embedding: unit(0.6, 0.8, 0, 0)}
	if err := index.Insert(ctx, recA); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := index.Insert(ctx, recB); err != nil {
		t.Fatalf("insert: %v", err)
	}

	// docA is barely trusted; docB fully
	gate.Trust().Register("docA", 0.3)
	gate.Trust().Register("docB", 1.0)

	result, err := gate.QueryEmbedding(ctx, unit(1, 0, 0, 0), 5, 0.5, 0.0)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(result.Results))
	}

	// docB wins on confidence (0.6) despite docA's higher similarity
	if result.Results[0].MemoryID != "docB" {
		t.Errorf("expected docB ranked first by confidence, got %s", result.Results[0].MemoryID)
	}
	for _, m := range result.Results {
		if !approx(m.Confidence, m.Relevance*m.Reliability) {
			t.Errorf("%s: confidence %v != relevance*reliability %v",
				m.MemoryID, m.Confidence, m.Relevance*m.Reliability)
		}
	}

	// docA (confidence 0.3) falls under the 0.5 low-confidence
	// threshold: returned, but marked, and not counted active.
	if !result.Results[1].LowConfidence {
		t.Error("expected docA marked low-confidence")
	}
	if result.Results[0].LowConfidence {
		t.Error("expected docB active")
	}
	if result.ActiveCount != 1 {
		t.Errorf("expected active_count 1, got %d", result.ActiveCount)
	}
}

func TestGate_LowConfidenceStillReturned(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	initial := 0.25
	if err := gate.Ingest(ctx, memory.IngestRequest{
		MemoryID:     "doc1",
		Content:      "Office is in NYC",
		InitialTrust: &initial,
	}); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	// Trust 0.25 clears the suppression threshold (0.2) but confidence
	// ~0.25 falls under the low-confidence threshold (0.3).
	result, err := gate.Query(ctx, "Office is in NYC", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(result.Results))
	}
	got := result.Results[0]
	if got.Suppressed {
		t.Error("memory above suppression threshold must not be suppressed")
	}
	if !got.LowConfidence {
		t.Error("expected low-confidence marking")
	}
	if result.ActiveCount != 0 || result.SuppressedCount != 0 {
		t.Errorf("expected active=0 suppressed=0, got active=%d suppressed=%d",
			result.ActiveCount, result.SuppressedCount)
	}
}

func TestGate_EmptyIndex(t *testing.T) {
	gate, _ := newTestGate(t)

	result, err := gate.Query(context.Background(), "anything", 5)
	if err != nil {
		t.Fatalf("query on empty index: %v", err)
	}
	if len(result.Results) != 0 || result.ActiveCount != 0 || result.SuppressedCount != 0 {
		t.Errorf("expected empty result, got %+v", result)
	}
}

func TestGate_AllSuppressed(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	ingest(t, gate, "doc1", "first fact")
	ingest(t, gate, "doc2", "second fact")
	for _, id := range []string{"doc1", "doc2"} {
		if _, err := gate.SubmitFeedback(ctx, id, memory.ActionFlag, memory.RoleAdmin); err != nil {
			t.Fatalf("flag %s: %v", id, err)
		}
	}

	result, err := gate.Query(ctx, "first fact", 5)
	if err != nil {
		t.Fatalf("query must not error when all candidates are suppressed: %v", err)
	}
	if len(result.Results) != 0 {
		t.Errorf("expected no results, got %d", len(result.Results))
	}
	if result.SuppressedCount != 2 {
		t.Errorf("expected suppressed_count 2, got %d", result.SuppressedCount)
	}
}

func TestGate_FeedbackErrors(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	ingest(t, gate, "doc1", "Office is in NYC")

	if _, err := gate.SubmitFeedback(ctx, "missing", memory.ActionFlag, memory.RoleAdmin); !errors.Is(err, memory.ErrNotFound) {
		t.Errorf("expected ErrNotFound for unknown memory, got %v", err)
	}
	if _, err := gate.SubmitFeedback(ctx, "doc1", "destroy", memory.RoleAdmin); !errors.Is(err, memory.ErrInvalidAction) {
		t.Errorf("expected ErrInvalidAction, got %v", err)
	}
}

func TestGate_IngestValidation(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	var verr *memory.ValidationError
	if err := gate.Ingest(ctx, memory.IngestRequest{Content: "no id"}); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for missing memory_id, got %v", err)
	}
	if err := gate.Ingest(ctx, memory.IngestRequest{MemoryID: "doc1"}); !errors.As(err, &verr) {
		t.Errorf("expected ValidationError for missing content, got %v", err)
	}
}

// shortEmbedder reports one dimension count but emits another.
type shortEmbedder struct{}

func (shortEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (shortEmbedder) Dimensions() int { return 4 }

func TestGate_IngestRejectsWrongDimensions(t *testing.T) {
	index, err := chromem.New()
	if err != nil {
		t.Fatalf("create index: %v", err)
	}
	gate := memory.New(index, shortEmbedder{}, nil)

	err = gate.Ingest(context.Background(), memory.IngestRequest{
		MemoryID: "doc1",
		Content:  "Office is in NYC",
	})
	var verr *memory.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError for mismatched dimensions, got %v", err)
	}
	if verr.Field != "embedding" {
		t.Errorf("expected embedding field, got %q", verr.Field)
	}

	// All-or-nothing: the failed ingest left no partial state
	if got := index.Count(); got != 0 {
		t.Errorf("expected empty index after rejected ingest, got %d records", got)
	}
}

func TestGate_ReingestPreservesTrust(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	ingest(t, gate, "doc1", "Office is in NYC")
	if _, err := gate.SubmitFeedback(ctx, "doc1", memory.ActionFlag, memory.RoleAdmin); err != nil {
		t.Fatalf("flag: %v", err)
	}

	rec, _, err := gate.GetMemory(ctx, "doc1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	createdAt := rec.CreatedAt

	// Re-ingesting, even with an explicit initial trust, never resets
	// the decayed weight.
	initial := 1.0
	if err := gate.Ingest(ctx, memory.IngestRequest{
		MemoryID:     "doc1",
		Content:      "Office is in San Francisco",
		InitialTrust: &initial,
	}); err != nil {
		t.Fatalf("re-ingest: %v", err)
	}

	rec, trust, err := gate.GetMemory(ctx, "doc1")
	if err != nil {
		t.Fatalf("get after re-ingest: %v", err)
	}
	if rec.Content != "Office is in San Francisco" {
		t.Errorf("expected content updated, got %q", rec.Content)
	}
	if !rec.CreatedAt.Equal(createdAt) {
		t.Error("expected created_at preserved across re-ingest")
	}
	if trust.Weight != 0.1 {
		t.Errorf("re-ingest must not reset trust, got %v", trust.Weight)
	}
	if !trust.Flagged {
		t.Error("expected flagged to survive re-ingest")
	}

	// The embedding was recomputed for the new content: the new text
	// now matches exactly.
	result, err := gate.Query(ctx, "Office is in San Francisco", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if result.SuppressedCount != 1 {
		t.Errorf("expected the re-ingested memory suppressed by its old trust, got %+v", result)
	}
}

func TestGate_RecencyTieBreak(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	// Identical content embeds identically, so similarity ties exactly.
	ingest(t, gate, "doc_old", "Office is in NYC")
	ingest(t, gate, "doc_new", "Office is in NYC")

	result, err := gate.Query(ctx, "Office is in NYC", 5)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(result.Results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(result.Results))
	}
	if result.Results[0].MemoryID != "doc_new" {
		t.Errorf("expected most-recently-inserted first on tie, got %s", result.Results[0].MemoryID)
	}
}

func TestGate_FeedbackHook(t *testing.T) {
	gate, _ := newTestGate(t)
	ctx := context.Background()

	var notices []memory.FeedbackNotice
	gate.OnFeedback(func(n memory.FeedbackNotice) {
		notices = append(notices, n)
	})

	ingest(t, gate, "doc1", "Office is in NYC")
	gate.SubmitFeedback(ctx, "doc1", memory.ActionFlag, memory.RoleAdmin)
	outcome, _ := gate.SubmitFeedback(ctx, "doc1", memory.ActionApprove, memory.RoleUser)
	gate.ResolveFeedback(ctx, outcome.(memory.Queued).RequestID, memory.DecisionReject)

	if len(notices) != 3 {
		t.Fatalf("expected 3 notices, got %d", len(notices))
	}
	wantStatus := []memory.RequestStatus{memory.StatusApplied, memory.StatusQueued, memory.StatusRejected}
	for i, n := range notices {
		if n.Status != wantStatus[i] {
			t.Errorf("notice #%d: expected %s, got %s", i, wantStatus[i], n.Status)
		}
	}
}

package memory

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Decision is an admin disposition for a queued feedback request.
type Decision string

const (
	// DecisionAccept forwards the request to the trust store.
	DecisionAccept Decision = "accept"

	// DecisionReject discards the request with no trust mutation.
	DecisionReject Decision = "reject"
)

// ReviewQueue holds pending non-privileged feedback requests awaiting
// admin disposition. Requests are listed in submission order and applied
// at most once: the status transition is compare-and-set under the queue
// lock, so concurrent resolutions of the same request cannot double-apply.
type ReviewQueue struct {
	mu    sync.Mutex
	order []string
	byID  map[string]*FeedbackRequest
}

// NewReviewQueue creates an empty review queue.
func NewReviewQueue() *ReviewQueue {
	return &ReviewQueue{
		byID: make(map[string]*FeedbackRequest),
	}
}

// Enqueue appends a feedback request with status queued and returns a
// copy of the stored request.
func (q *ReviewQueue) Enqueue(memoryID string, action FeedbackAction, role Role) FeedbackRequest {
	req := &FeedbackRequest{
		ID:          uuid.New().String(),
		MemoryID:    memoryID,
		Action:      action,
		Role:        role,
		Status:      StatusQueued,
		SubmittedAt: time.Now(),
	}

	q.mu.Lock()
	q.order = append(q.order, req.ID)
	q.byID[req.ID] = req
	q.mu.Unlock()

	log.Printf("[QUEUE] Queued %s on %s for review (request %s)", action, memoryID, req.ID)
	return *req
}

// Pending returns copies of all queued requests in submission order.
func (q *ReviewQueue) Pending() []FeedbackRequest {
	q.mu.Lock()
	defer q.mu.Unlock()

	var pending []FeedbackRequest
	for _, id := range q.order {
		if req := q.byID[id]; req.Status == StatusQueued {
			pending = append(pending, *req)
		}
	}
	return pending
}

// Get returns a copy of the request with the given id.
func (q *ReviewQueue) Get(requestID string) (FeedbackRequest, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.byID[requestID]
	if !ok {
		return FeedbackRequest{}, false
	}
	return *req, true
}

// Resolve disposes of a queued request exactly once. Accepting invokes
// apply (the trust store mutation) and records the resulting trust;
// rejecting marks the request rejected with no trust mutation.
//
// Resolve is idempotent against duplicates: resolving an already-resolved
// request with the same decision is a no-op returning the prior outcome,
// while a conflicting decision returns ErrConflict. If apply fails the
// request stays queued, so nothing is half-applied.
func (q *ReviewQueue) Resolve(requestID string, decision Decision, apply func(memoryID string, action FeedbackAction, role Role) (float64, error)) (FeedbackRequest, error) {
	if decision != DecisionAccept && decision != DecisionReject {
		return FeedbackRequest{}, &ValidationError{Field: "decision", Reason: "must be accept or reject"}
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	req, ok := q.byID[requestID]
	if !ok {
		return FeedbackRequest{}, ErrNotFound
	}

	if req.Status != StatusQueued {
		prior := DecisionReject
		if req.Status == StatusApplied {
			prior = DecisionAccept
		}
		if prior == decision {
			return *req, nil
		}
		return FeedbackRequest{}, ErrConflict
	}

	switch decision {
	case DecisionAccept:
		trust, err := apply(req.MemoryID, req.Action, req.Role)
		if err != nil {
			return FeedbackRequest{}, err
		}
		req.Status = StatusApplied
		req.Trust = trust
	case DecisionReject:
		req.Status = StatusRejected
	}

	req.ResolvedAt = time.Now()
	log.Printf("[QUEUE] Resolved request %s: %s", requestID, req.Status)
	return *req, nil
}

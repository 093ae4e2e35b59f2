package memory

import (
	"log"
	"sync"
	"time"
)

// TrustState is a point-in-time snapshot of a memory's trust.
type TrustState struct {
	// Weight is the current trust weight in [0,1].
	Weight float64

	// Flagged is true once any flag has ever been applied. It is a
	// sticky audit marker: a later approve can raise Weight again but
	// never clears Flagged.
	Flagged bool

	// History is the append-only sequence of applied feedback events,
	// oldest first.
	History []FeedbackEvent
}

// TrustStore holds mutable trust state per memory id, independent of the
// embedding index. Each apply is an atomic read-modify-append-write on the
// entry; concurrent feedback on the same id cannot interleave into a
// corrupted weight. Entries are created lazily at DefaultTrust, so a
// memory that exists but has no feedback reads as fully trusted.
type TrustStore struct {
	cfg *Config

	mu      sync.RWMutex
	entries map[string]*trustEntry
}

type trustEntry struct {
	mu      sync.Mutex
	weight  float64
	flagged bool
	history []FeedbackEvent
}

// NewTrustStore creates a trust store with the given policy.
func NewTrustStore(cfg *Config) *TrustStore {
	if cfg == nil {
		cfg = DefaultConfig
	}
	return &TrustStore{
		cfg:     cfg,
		entries: make(map[string]*trustEntry),
	}
}

// entry returns the trust entry for id, creating it at initial if absent.
func (s *TrustStore) entry(id string, initial float64) *trustEntry {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if ok {
		return e
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Double-check after acquiring write lock
	if e, ok := s.entries[id]; ok {
		return e
	}
	e = &trustEntry{weight: clamp(initial)}
	s.entries[id] = e
	return e
}

// Register seeds the trust entry for a newly ingested memory. If the id
// is already known the call is a no-op: re-ingestion never resets trust.
func (s *TrustStore) Register(id string, initial float64) {
	s.entry(id, initial)
}

// Get returns the current trust weight for id. Memories without an entry
// default to DefaultTrust.
func (s *TrustStore) Get(id string) float64 {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return s.cfg.DefaultTrust
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.weight
}

// State returns a consistent snapshot of id's trust state. The history
// slice is a copy; callers may retain it.
func (s *TrustStore) State(id string) TrustState {
	s.mu.RLock()
	e, ok := s.entries[id]
	s.mu.RUnlock()
	if !ok {
		return TrustState{Weight: s.cfg.DefaultTrust}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	history := make([]FeedbackEvent, len(e.history))
	copy(history, e.history)
	return TrustState{
		Weight:  e.weight,
		Flagged: e.flagged,
		History: history,
	}
}

// Apply mutates trust for id according to action and appends the event to
// the memory's history.
//
// Flag multiplies trust by DecayFactor, floored at TrustFloor: repeated
// corrections compound, and decay never deletes. Approve moves trust
// toward 1.0 by BoostFraction of the remaining headroom, never
// overshooting. Callers are responsible for checking that the memory
// exists; unknown ids are seeded at DefaultTrust.
func (s *TrustStore) Apply(id string, action FeedbackAction, role Role) (float64, error) {
	if !action.Valid() {
		return 0, ErrInvalidAction
	}

	e := s.entry(id, s.cfg.DefaultTrust)

	e.mu.Lock()
	defer e.mu.Unlock()

	prev := e.weight
	switch action {
	case ActionFlag:
		w := e.weight * s.cfg.DecayFactor
		if w < s.cfg.TrustFloor {
			w = s.cfg.TrustFloor
		}
		e.weight = clamp(w)
		e.flagged = true
	case ActionApprove:
		e.weight = clamp(e.weight + s.cfg.BoostFraction*(1-e.weight))
	}

	e.history = append(e.history, FeedbackEvent{
		Action:    action,
		Role:      role,
		Trust:     e.weight,
		Timestamp: time.Now(),
	})

	log.Printf("[TRUST] Applied %s on %s: %.4f -> %.4f", action, id, prev, e.weight)
	return e.weight, nil
}

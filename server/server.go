// Package server exposes the gate's boundary contract over JSON/HTTP:
// ingest, query and feedback endpoints plus admin review routes and a
// websocket feed of feedback events. Transport concerns (API key check,
// status codes) live here as glue; the gate itself knows nothing about
// HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/memorygate/memorygate-go/memory"
)

// Server serves the memory store's HTTP boundary.
type Server struct {
	gate   *memory.Gate
	apiKey string
	hub    *hub
	mux    *http.ServeMux
}

// Option configures the server.
type Option func(*Server)

// WithAPIKey requires the X-API-Key header to match key on every route.
// An empty key disables the check.
func WithAPIKey(key string) Option {
	return func(s *Server) {
		s.apiKey = key
	}
}

// New creates a server over the given gate and subscribes its event feed
// to the gate's feedback notifications.
func New(gate *memory.Gate, opts ...Option) *Server {
	s := &Server{
		gate: gate,
		hub:  newHub(),
		mux:  http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	gate.OnFeedback(s.hub.broadcast)

	s.mux.HandleFunc("POST /v1/ingest", s.handleIngest)
	s.mux.HandleFunc("POST /v1/query", s.handleQuery)
	s.mux.HandleFunc("POST /v1/feedback", s.handleFeedback)
	s.mux.HandleFunc("GET /v1/review", s.handleReviewList)
	s.mux.HandleFunc("POST /v1/review/{id}", s.handleReviewResolve)
	s.mux.HandleFunc("GET /v1/memories/{id}", s.handleGetMemory)
	s.mux.HandleFunc("GET /v1/events", s.handleEvents)

	return s
}

// Handler returns the server's HTTP handler with the API key check
// applied.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.apiKey != "" && r.Header.Get("X-API-Key") != s.apiKey {
			writeError(w, http.StatusUnauthorized, "invalid or missing API key")
			return
		}
		s.mux.ServeHTTP(w, r)
	})
}

type ingestDocument struct {
	MemoryID     string                 `json:"memory_id"`
	Content      string                 `json:"content"`
	Metadata     map[string]interface{} `json:"metadata"`
	InitialTrust *float64               `json:"initial_trust"`
}

type ingestRequest struct {
	ingestDocument

	// Documents enables batch ingest; per-item outcomes are reported
	// and one failing document never aborts the batch.
	Documents []ingestDocument `json:"documents"`
}

type ingestItemResult struct {
	Status   string `json:"status"`
	MemoryID string `json:"memory_id"`
	Error    string `json:"error,omitempty"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	if len(req.Documents) > 0 {
		results := make([]ingestItemResult, 0, len(req.Documents))
		failed := 0
		for _, doc := range req.Documents {
			item := ingestItemResult{Status: "success", MemoryID: doc.MemoryID}
			if err := s.ingestOne(r, doc); err != nil {
				item.Status = "error"
				item.Error = err.Error()
				failed++
			}
			results = append(results, item)
		}
		status := "success"
		if failed > 0 {
			status = "partial"
			if failed == len(req.Documents) {
				status = "error"
			}
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":  status,
			"results": results,
		})
		return
	}

	if err := s.ingestOne(r, req.ingestDocument); err != nil {
		var verr *memory.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "success",
		"memory_id": req.MemoryID,
	})
}

func (s *Server) ingestOne(r *http.Request, doc ingestDocument) error {
	return s.gate.Ingest(r.Context(), memory.IngestRequest{
		MemoryID:     doc.MemoryID,
		Content:      doc.Content,
		Metadata:     doc.Metadata,
		InitialTrust: doc.InitialTrust,
	})
}

type queryRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type queryResultItem struct {
	MemoryID      string                 `json:"memory_id"`
	Content       string                 `json:"content"`
	Metadata      map[string]interface{} `json:"metadata"`
	Relevance     float64                `json:"relevance"`
	Reliability   float64                `json:"reliability"`
	Confidence    float64                `json:"confidence"`
	LowConfidence bool                   `json:"low_confidence"`
	IsSuppressed  bool                   `json:"is_suppressed"`
}

type queryResponse struct {
	Results         []queryResultItem `json:"results"`
	ActiveCount     int               `json:"active_count"`
	SuppressedCount int               `json:"suppressed_count"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query is required")
		return
	}
	if req.Limit <= 0 {
		req.Limit = 5
	}

	result, err := s.gate.Query(r.Context(), req.Query, req.Limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := queryResponse{
		Results:         make([]queryResultItem, 0, len(result.Results)),
		ActiveCount:     result.ActiveCount,
		SuppressedCount: result.SuppressedCount,
	}
	for _, m := range result.Results {
		resp.Results = append(resp.Results, queryResultItem{
			MemoryID:      m.MemoryID,
			Content:       m.Content,
			Metadata:      m.Metadata,
			Relevance:     m.Relevance,
			Reliability:   m.Reliability,
			Confidence:    m.Confidence,
			LowConfidence: m.LowConfidence,
			IsSuppressed:  m.Suppressed,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

type feedbackRequest struct {
	MemoryID string `json:"memory_id"`
	Action   string `json:"action"`
	Role     string `json:"role"`
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	outcome, err := s.gate.SubmitFeedback(r.Context(), req.MemoryID,
		memory.FeedbackAction(req.Action), memory.Role(req.Role))
	if err != nil {
		switch {
		case errors.Is(err, memory.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, memory.ErrInvalidAction):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	switch o := outcome.(type) {
	case memory.Applied:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":       "success",
			"trust_weight": o.Trust,
		})
	case memory.Queued:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":     "queued",
			"request_id": o.RequestID,
		})
	case memory.Rejected:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "rejected",
			"reason": o.Reason,
		})
	}
}

type reviewItem struct {
	RequestID   string    `json:"request_id"`
	MemoryID    string    `json:"memory_id"`
	Action      string    `json:"action"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

func (s *Server) handleReviewList(w http.ResponseWriter, r *http.Request) {
	pending := s.gate.PendingFeedback()
	items := make([]reviewItem, 0, len(pending))
	for _, req := range pending {
		items = append(items, reviewItem{
			RequestID:   req.ID,
			MemoryID:    req.MemoryID,
			Action:      string(req.Action),
			Role:        string(req.Role),
			Status:      string(req.Status),
			SubmittedAt: req.SubmittedAt,
		})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"pending": items})
}

type resolveRequest struct {
	Decision string `json:"decision"`
}

func (s *Server) handleReviewResolve(w http.ResponseWriter, r *http.Request) {
	requestID := r.PathValue("id")

	var req resolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}

	outcome, err := s.gate.ResolveFeedback(r.Context(), requestID, memory.Decision(req.Decision))
	if err != nil {
		switch {
		case errors.Is(err, memory.ErrNotFound):
			writeError(w, http.StatusNotFound, err.Error())
		case errors.Is(err, memory.ErrConflict):
			writeError(w, http.StatusConflict, err.Error())
		default:
			var verr *memory.ValidationError
			if errors.As(err, &verr) {
				writeError(w, http.StatusBadRequest, verr.Error())
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	switch o := outcome.(type) {
	case memory.Applied:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":       "success",
			"trust_weight": o.Trust,
		})
	case memory.Rejected:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "rejected",
			"reason": o.Reason,
		})
	}
}

type feedbackHistoryItem struct {
	Action      string    `json:"action"`
	Role        string    `json:"role"`
	TrustWeight float64   `json:"trust_weight"`
	Timestamp   time.Time `json:"timestamp"`
}

func (s *Server) handleGetMemory(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	rec, trust, err := s.gate.GetMemory(r.Context(), id)
	if err != nil {
		if errors.Is(err, memory.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	history := make([]feedbackHistoryItem, 0, len(trust.History))
	for _, ev := range trust.History {
		history = append(history, feedbackHistoryItem{
			Action:      string(ev.Action),
			Role:        string(ev.Role),
			TrustWeight: ev.Trust,
			Timestamp:   ev.Timestamp,
		})
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memory_id":        rec.ID,
		"content":          rec.Content,
		"metadata":         rec.Metadata,
		"trust_weight":     trust.Weight,
		"flagged":          trust.Flagged,
		"created_at":       rec.CreatedAt,
		"updated_at":       rec.UpdatedAt,
		"feedback_history": history,
	})
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[SERVER] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]interface{}{
		"status": "error",
		"error":  msg,
	})
}

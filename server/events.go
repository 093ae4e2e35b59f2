package server

import (
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/memorygate/memorygate-go/memory"
)

// feedbackEvent is the wire form of a feedback notification pushed to
// websocket subscribers.
type feedbackEvent struct {
	MemoryID    string    `json:"memory_id"`
	Action      string    `json:"action"`
	Role        string    `json:"role"`
	Status      string    `json:"status"`
	TrustWeight float64   `json:"trust_weight,omitempty"`
	RequestID   string    `json:"request_id,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

var upgrader = websocket.Upgrader{
	// The API key check already ran; the feed carries no secrets.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// subscriber is one websocket client with its own buffered send queue,
// drained by a dedicated writer goroutine.
type subscriber struct {
	conn *websocket.Conn
	send chan feedbackEvent
}

// writeLoop drains the send queue onto the socket. It owns the
// connection: closing the queue closes the connection.
func (s *subscriber) writeLoop(h *hub) {
	defer s.conn.Close()
	for event := range s.send {
		s.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := s.conn.WriteJSON(event); err != nil {
			log.Printf("[SERVER] Dropping event subscriber: %v", err)
			h.remove(s)
			return
		}
	}
}

// hub fans feedback notifications out to connected websocket clients.
// Broadcast runs synchronously inside feedback handling, so it only ever
// enqueues: socket writes happen on each subscriber's writer goroutine
// and a stalled client never delays a feedback response.
type hub struct {
	mu   sync.Mutex
	subs map[*subscriber]bool
}

func newHub() *hub {
	return &hub{subs: make(map[*subscriber]bool)}
}

func (h *hub) add(conn *websocket.Conn) *subscriber {
	sub := &subscriber{conn: conn, send: make(chan feedbackEvent, 16)}
	h.mu.Lock()
	h.subs[sub] = true
	h.mu.Unlock()
	go sub.writeLoop(h)
	return sub
}

// remove drops a subscriber and closes its queue, ending its writer
// loop. Safe to call more than once.
func (h *hub) remove(sub *subscriber) {
	h.mu.Lock()
	if _, ok := h.subs[sub]; ok {
		delete(h.subs, sub)
		close(sub.send)
	}
	h.mu.Unlock()
}

// broadcast enqueues a notice for every subscriber without blocking.
// A subscriber whose queue is full is dropped as a slow consumer.
func (h *hub) broadcast(n memory.FeedbackNotice) {
	event := feedbackEvent{
		MemoryID:    n.MemoryID,
		Action:      string(n.Action),
		Role:        string(n.Role),
		Status:      string(n.Status),
		TrustWeight: n.Trust,
		RequestID:   n.RequestID,
		Timestamp:   n.Timestamp,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for sub := range h.subs {
		select {
		case sub.send <- event:
		default:
			log.Printf("[SERVER] Dropping slow event subscriber")
			delete(h.subs, sub)
			close(sub.send)
		}
	}
}

// handleEvents upgrades the connection and streams feedback events until
// the client disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[SERVER] Websocket upgrade failed: %v", err)
		return
	}
	sub := s.hub.add(conn)
	log.Printf("[SERVER] Event subscriber connected")

	// Reader loop only detects disconnect; the feed is write-only.
	go func() {
		defer s.hub.remove(sub)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

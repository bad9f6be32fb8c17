package session

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/ry-ops/cortexd/pkg/bus"
	"github.com/ry-ops/cortexd/pkg/log"
	"github.com/ry-ops/cortexd/pkg/metrics"
	"github.com/ry-ops/cortexd/pkg/scheduler"
	"github.com/ry-ops/cortexd/pkg/store"
)

// Hub owns all live worker sessions. Each worker holds at most one
// open session; a second register for the same worker id replaces the
// binding and closes the previous channel.
type Hub struct {
	store     *store.Store
	scheduler *scheduler.Scheduler
	bus       *bus.Bus
	logger    zerolog.Logger
	upgrader  websocket.Upgrader

	// frameDeadline is the soft budget for handling one inbound frame
	frameDeadline time.Duration

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool

	unsubscribe func()
}

// NewHub creates the session hub and wires it to store change events
func NewHub(s *store.Store, sched *scheduler.Scheduler, b *bus.Bus, frameDeadline time.Duration) *Hub {
	h := &Hub{
		store:         s,
		scheduler:     sched,
		bus:           b,
		logger:        log.Component("session"),
		frameDeadline: frameDeadline,
		sessions:      make(map[string]*Session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	h.unsubscribe = s.Subscribe(h.onStateChange)
	return h
}

// ServeHTTP upgrades an incoming connection into a worker session
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	h.mu.Unlock()

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("remote", r.RemoteAddr).Msg("Upgrade failed")
		return
	}
	sess := newSession(h, conn)
	metrics.SessionsActive.Inc()
	go sess.writeLoop()
	go sess.readLoop()
}

// bind attaches a registered session to its worker id, displacing any
// previous session for the same worker.
func (h *Hub) bind(workerID string, sess *Session) {
	h.mu.Lock()
	prev := h.sessions[workerID]
	h.sessions[workerID] = sess
	h.mu.Unlock()

	if prev != nil && prev != sess {
		h.logger.Info().Str("worker_id", workerID).Msg("Replacing existing session")
		prev.close()
	}
}

// unbind detaches a session if it is still the current binding.
// Returns false when the session was already displaced by a newer one.
func (h *Hub) unbind(workerID string, sess *Session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sessions[workerID] != sess {
		return false
	}
	delete(h.sessions, workerID)
	return true
}

// Session returns the live session for a worker id, if any
func (h *Hub) Session(workerID string) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess, ok := h.sessions[workerID]
	return sess, ok
}

// Count returns the number of open sessions
func (h *Hub) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close stops accepting new sessions and closes every open one
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	open := make([]*Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		open = append(open, sess)
	}
	h.sessions = make(map[string]*Session)
	h.mu.Unlock()

	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	for _, sess := range open {
		sess.close()
	}
}

// onStateChange fans a committed store change out to every session
// whose subscription set matches the change topic. Called
// synchronously from the store's write path, so it only enqueues.
func (h *Hub) onStateChange(change store.Change) {
	frame := &Frame{
		Type: FrameStateChange,
		Change: &ChangeFrame{
			Collection: change.Collection,
			Key:        change.Key,
			Operation:  string(change.Op),
			Value:      change.Value,
			Timestamp:  change.Timestamp,
		},
	}
	topic := change.Topic()

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, sess := range h.sessions {
		if sess.subscribedTo(topic) {
			sess.trySend(frame)
		}
	}
}

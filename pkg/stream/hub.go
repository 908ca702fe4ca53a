package stream

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
)

const (
	// defaultBufferSize is the channel buffer for each subscriber.
	defaultBufferSize = 64
)

// Hub holds the sinks of all sessions. It is shared by the registry (publisher)
// and the transports (subscribers).
type Hub struct {
	mu     sync.Mutex
	sinks  map[string]*Sink
	buffer int
	limit  int
	logger *slog.Logger
	onDrop func(sessionID string)
}

// Option configures the Hub.
type Option func(*Hub)

// WithBufferSize sets the live-event buffer of each subscriber channel.
func WithBufferSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.buffer = n
		}
	}
}

// WithHistoryLimit caps how many published messages a sink keeps for replay.
// Zero keeps all of them.
func WithHistoryLimit(n int) Option {
	return func(h *Hub) {
		h.limit = n
	}
}

// WithLogger sets a structured logger for the hub and its sinks.
func WithLogger(logger *slog.Logger) Option {
	return func(h *Hub) {
		h.logger = logger
	}
}

// WithDropHook registers a callback fired whenever an event is dropped for a slow subscriber.
func WithDropHook(fn func(sessionID string)) Option {
	return func(h *Hub) {
		h.onDrop = fn
	}
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		sinks:  make(map[string]*Sink),
		buffer: defaultBufferSize,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.logger = h.logger.With("component", "stream")
	return h
}

// Sink returns the sink for a session, creating it on first use.
// A sink that was released is reclaimed.
func (h *Hub) Sink(sessionID string) *Sink {
	h.mu.Lock()
	defer h.mu.Unlock()

	if s, ok := h.sinks[sessionID]; ok {
		s.mu.Lock()
		s.released = false
		s.mu.Unlock()
		return s
	}

	s := &Sink{
		sessionID: sessionID,
		buffer:    h.buffer,
		limit:     h.limit,
		logger:    h.logger,
		onDrop:    h.onDrop,
		onIdle:    h.drop,
		subs:      make(map[string]chan domain.OutboundEvent),
	}
	h.sinks[sessionID] = s
	return s
}

// Lookup returns the sink for a session without creating it.
func (h *Hub) Lookup(sessionID string) (*Sink, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sinks[sessionID]
	return s, ok
}

// Release marks a session's sink as no longer needed by its publisher. It is removed
// now if nobody is subscribed, or when the last subscriber leaves.
func (h *Hub) Release(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sinks[sessionID]
	if !ok {
		return
	}
	s.mu.Lock()
	s.released = true
	idle := len(s.subs) == 0
	s.mu.Unlock()
	if idle {
		delete(h.sinks, sessionID)
	}
}

// Sessions returns the ids with a live sink, sorted.
func (h *Hub) Sessions() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	ids := make([]string, 0, len(h.sinks))
	for id := range h.sinks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes every sink and subscriber channel.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, s := range h.sinks {
		s.Close()
		delete(h.sinks, id)
	}
}

func (h *Hub) drop(s *Sink) {
	h.mu.Lock()
	defer h.mu.Unlock()
	cur, ok := h.sinks[s.sessionID]
	if !ok || cur != s {
		return
	}
	s.mu.Lock()
	idle := s.released && len(s.subs) == 0
	s.mu.Unlock()
	if idle {
		delete(h.sinks, s.sessionID)
	}
}

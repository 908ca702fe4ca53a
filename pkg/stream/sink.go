package stream

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/google/uuid"
)

// Sink is the outbound stream of one session.
type Sink struct {
	sessionID string
	buffer    int
	limit     int
	logger    *slog.Logger
	onDrop    func(sessionID string)
	onIdle    func(*Sink)

	mu        sync.Mutex
	subs      map[string]chan domain.OutboundEvent
	lastCount int
	state     *domain.OutboundEvent
	history   []domain.OutboundEvent
	released  bool
	closed    bool
}

// SessionID returns the session this sink belongs to.
func (s *Sink) SessionID() string {
	return s.sessionID
}

// Subscribe registers a subscriber. The channel first receives the current state and
// every message already published, then live events. The subscription ends when ctx
// is done or the sink is closed; the channel is closed then.
func (s *Sink) Subscribe(ctx context.Context) (<-chan domain.OutboundEvent, string) {
	subID := uuid.NewString()

	s.mu.Lock()
	replay := len(s.history)
	if s.state != nil {
		replay++
	}
	ch := make(chan domain.OutboundEvent, s.buffer+replay)
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch, subID
	}
	if s.state != nil {
		ch <- *s.state
	}
	for _, ev := range s.history {
		ch <- ev
	}
	s.subs[subID] = ch
	s.mu.Unlock()

	s.logger.Debug("subscriber added", "session_id", s.sessionID, "sub_id", subID, "replayed", replay)

	go func() {
		<-ctx.Done()
		s.Unsubscribe(subID)
	}()

	return ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (s *Sink) Unsubscribe(subID string) {
	s.mu.Lock()
	ch, ok := s.subs[subID]
	if !ok {
		s.mu.Unlock()
		return
	}
	delete(s.subs, subID)
	close(ch)
	idle := s.released && len(s.subs) == 0
	s.mu.Unlock()

	s.logger.Debug("subscriber removed", "session_id", s.sessionID, "sub_id", subID)

	if idle && s.onIdle != nil {
		s.onIdle(s)
	}
}

// Subscribers returns the number of live subscriptions.
func (s *Sink) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}

// PublishSnapshot publishes the state event for a transition, then every non-user
// message appended since the previous call, in list order.
func (s *Sink) PublishSnapshot(status domain.StateValue, ctx *domain.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := domain.NewStateEvent(status, ctx)
	s.state = &state
	s.broadcast(state)

	if ctx == nil {
		return
	}
	if len(ctx.Messages) < s.lastCount {
		// The published count never goes back within an actor's lifetime.
		s.logger.Warn("context shrank below published count",
			"session_id", s.sessionID,
			"published", s.lastCount,
			"messages", len(ctx.Messages))
		return
	}

	for _, m := range ctx.MessagesSince(s.lastCount) {
		if m.Role == domain.RoleUser {
			continue
		}
		ev := domain.NewMessageEvent(m)
		s.remember(ev)
		s.broadcast(ev)
	}
	s.lastCount = len(ctx.Messages)
}

// PublishState re-publishes only the state event (used to resync a reconnecting client).
func (s *Sink) PublishState(status domain.StateValue, ctx *domain.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := domain.NewStateEvent(status, ctx)
	s.state = &state
	s.broadcast(state)
}

// PublishedCount returns how many context messages have been accounted for.
func (s *Sink) PublishedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCount
}

// Reset forgets the published count and replay history. Called when a fresh actor
// binds to the sink; live subscribers are kept.
func (s *Sink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastCount = 0
	s.state = nil
	s.history = nil
	s.released = false
}

// Close ends every subscription.
func (s *Sink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.closed = true
}

func (s *Sink) remember(ev domain.OutboundEvent) {
	s.history = append(s.history, ev)
	if s.limit > 0 && len(s.history) > s.limit {
		s.history = s.history[len(s.history)-s.limit:]
	}
}

// broadcast must be called with s.mu held. Sends never block: a full
// subscriber buffer drops the event for that subscriber only.
func (s *Sink) broadcast(ev domain.OutboundEvent) {
	for id, ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.logger.Warn("dropped event for slow subscriber",
				"session_id", s.sessionID,
				"sub_id", id,
				"kind", ev.Kind)
			if s.onDrop != nil {
				s.onDrop(s.sessionID)
			}
		}
	}
}

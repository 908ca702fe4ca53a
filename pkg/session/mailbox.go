package session

import (
	"context"
	"sync"

	"github.com/aretw0/parley/pkg/domain"
)

// slot is one position in an actor's queue. A slot whose events come from a
// backend round trip is queued on arrival and filled later; the consumer waits
// for it before moving on, so arrival order is preserved.
type slot struct {
	events  []domain.Event
	ready   chan struct{}
	// inbound marks slots queued by Dispatch, as opposed to completions.
	inbound bool
}

func readySlot(events []domain.Event) *slot {
	s := &slot{events: events, ready: make(chan struct{})}
	close(s.ready)
	return s
}

func pendingSlot() *slot {
	return &slot{ready: make(chan struct{})}
}

func (s *slot) fill(events []domain.Event) {
	s.events = events
	close(s.ready)
}

// mailbox is an unbounded FIFO of slots with a single consumer.
type mailbox struct {
	mu     sync.Mutex
	items  []*slot
	notify chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{notify: make(chan struct{}, 1)}
}

// push appends a slot. It reports false once the mailbox is closed.
func (m *mailbox) push(s *slot) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, s)
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return true
}

// pop blocks until a slot is available, the mailbox closes or ctx is done.
func (m *mailbox) pop(ctx context.Context) (*slot, bool) {
	for {
		m.mu.Lock()
		if len(m.items) > 0 {
			s := m.items[0]
			m.items[0] = nil
			m.items = m.items[1:]
			m.mu.Unlock()
			return s, true
		}
		if m.closed {
			m.mu.Unlock()
			return nil, false
		}
		m.mu.Unlock()

		select {
		case <-m.notify:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
}

// drain closes the mailbox and returns the slots nobody popped.
func (m *mailbox) drain() []*slot {
	m.mu.Lock()
	m.closed = true
	items := m.items
	m.items = nil
	m.mu.Unlock()

	select {
	case m.notify <- struct{}{}:
	default:
	}
	return items
}

func (m *mailbox) len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

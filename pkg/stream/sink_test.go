package stream_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/stream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ctxWith(msgs ...domain.Message) *domain.Context {
	c := domain.NewContext("s1", "")
	c.Messages = append(c.Messages, msgs...)
	return c
}

func msg(id string, role domain.Role, text string) domain.Message {
	return domain.Message{ID: id, Role: role, Content: text, Timestamp: time.Now()}
}

func drain(t *testing.T, ch <-chan domain.OutboundEvent, n int) []domain.OutboundEvent {
	t.Helper()
	out := make([]domain.OutboundEvent, 0, n)
	for len(out) < n {
		select {
		case ev, ok := <-ch:
			if !ok {
				t.Fatalf("channel closed after %d of %d events", len(out), n)
			}
			out = append(out, ev)
		case <-time.After(time.Second):
			t.Fatalf("timed out after %d of %d events", len(out), n)
		}
	}
	return out
}

func TestSink_PublishesStateThenNewNonUserMessages(t *testing.T) {
	hub := stream.NewHub()
	sink := hub.Sink("s1")
	ch, _ := sink.Subscribe(context.Background())

	c := ctxWith(msg("1", domain.RoleUser, "hi"), msg("2", domain.RoleBot, "hello"))
	sink.PublishSnapshot(domain.StateInputReceived, c)

	evs := drain(t, ch, 2)
	assert.Equal(t, domain.OutboundState, evs[0].Kind)
	assert.Equal(t, domain.StateInputReceived, evs[0].Status)
	assert.NotNil(t, evs[0].Meta)
	assert.Equal(t, domain.OutboundMessage, evs[1].Kind)
	assert.Equal(t, "2", evs[1].MessageID)
	assert.Equal(t, domain.RoleBot, evs[1].Participant)
	assert.Equal(t, 2, sink.PublishedCount())

	// The same context again yields only a state event.
	sink.PublishSnapshot(domain.StateInputReceived, c)
	evs = drain(t, ch, 1)
	assert.Equal(t, domain.OutboundState, evs[0].Kind)
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSink_PublishedCountMonotonic(t *testing.T) {
	sink := stream.NewHub().Sink("s1")

	var msgs []domain.Message
	last := 0
	for i := 0; i < 10; i++ {
		msgs = append(msgs, msg(fmt.Sprint(i), domain.RoleBot, "x"))
		sink.PublishSnapshot(domain.StateIdle, ctxWith(msgs...))
		require.GreaterOrEqual(t, sink.PublishedCount(), last)
		last = sink.PublishedCount()
	}

	// A shorter context never lowers the count.
	sink.PublishSnapshot(domain.StateIdle, ctxWith(msgs[:3]...))
	assert.Equal(t, 10, sink.PublishedCount())
}

func TestSink_ReplayOnSubscribe(t *testing.T) {
	sink := stream.NewHub().Sink("s1")
	sink.PublishSnapshot(domain.StateInputReceived, ctxWith(
		msg("1", domain.RoleUser, "hi"),
		msg("2", domain.RoleBot, "hello"),
		msg("3", domain.RoleBot, "anything else?"),
	))

	ch, _ := sink.Subscribe(context.Background())
	evs := drain(t, ch, 3)

	assert.Equal(t, domain.OutboundState, evs[0].Kind)
	assert.Equal(t, "2", evs[1].MessageID)
	assert.Equal(t, "3", evs[2].MessageID)
}

func TestSink_ResetStartsOver(t *testing.T) {
	sink := stream.NewHub().Sink("s1")
	sink.PublishSnapshot(domain.StateIdle, ctxWith(msg("1", domain.RoleBot, "old")))
	require.Equal(t, 1, sink.PublishedCount())

	sink.Reset()
	assert.Equal(t, 0, sink.PublishedCount())

	ch, _ := sink.Subscribe(context.Background())
	sink.PublishSnapshot(domain.StateIdle, ctxWith(msg("9", domain.RoleBot, "new")))
	evs := drain(t, ch, 2)
	assert.Equal(t, "9", evs[1].MessageID)
}

func TestSink_SlowSubscriberDrops(t *testing.T) {
	dropped := 0
	hub := stream.NewHub(stream.WithBufferSize(1), stream.WithDropHook(func(string) { dropped++ }))
	sink := hub.Sink("s1")
	_, _ = sink.Subscribe(context.Background())

	for i := 0; i < 5; i++ {
		sink.PublishState(domain.StateIdle, nil)
	}
	assert.Equal(t, 4, dropped)
}

func TestSink_ContextCancelUnsubscribes(t *testing.T) {
	sink := stream.NewHub().Sink("s1")
	ctx, cancel := context.WithCancel(context.Background())
	ch, _ := sink.Subscribe(ctx)
	require.Equal(t, 1, sink.Subscribers())

	cancel()

	assert.Eventually(t, func() bool { return sink.Subscribers() == 0 }, time.Second, 10*time.Millisecond)
	_, ok := <-ch
	assert.False(t, ok)
}

func TestSink_SplashMessageLiftsTitleAndButtons(t *testing.T) {
	sink := stream.NewHub().Sink("s1")
	ch, _ := sink.Subscribe(context.Background())

	m := msg("1", domain.RoleBot, "Welcome")
	m.Metadata = map[string]any{domain.MetaTitle: "Hi", domain.MetaButtons: []any{"Chat"}}
	sink.PublishSnapshot(domain.StateIdle, ctxWith(m))

	evs := drain(t, ch, 2)
	assert.Equal(t, "Hi", evs[1].Title)
	assert.Equal(t, []any{"Chat"}, evs[1].Buttons)
}

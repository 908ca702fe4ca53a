package session_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/adapters/memory"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = 5 * time.Millisecond
)

// fakeActors scripts the external actors. Unset funcs succeed with zero values.
type fakeActors struct {
	dialogue   func(ctx context.Context, sessionID, message string) (domain.DialogueOutput, error)
	handover   func(ctx context.Context, sessionID string) (domain.HandoverOutput, error)
	transcript func(ctx context.Context, sessionID, email string) error

	mu        sync.Mutex
	dialogues []string
	relayed   []string
	emails    []string
}

func (f *fakeActors) RunDialogueTurn(ctx context.Context, sessionID, message string) (domain.DialogueOutput, error) {
	f.mu.Lock()
	f.dialogues = append(f.dialogues, message)
	f.mu.Unlock()
	if f.dialogue == nil {
		return domain.DialogueOutput{Content: "ok: " + message}, nil
	}
	return f.dialogue(ctx, sessionID, message)
}

func (f *fakeActors) ConnectLiveAgent(ctx context.Context, sessionID string) (domain.HandoverOutput, error) {
	if f.handover == nil {
		return domain.HandoverOutput{AgentID: "agent-1"}, nil
	}
	return f.handover(ctx, sessionID)
}

func (f *fakeActors) RelayToLiveAgent(ctx context.Context, sessionID, agentID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.relayed = append(f.relayed, agentID+":"+message)
	return nil
}

func (f *fakeActors) SendTranscript(ctx context.Context, sessionID, email string) error {
	f.mu.Lock()
	f.emails = append(f.emails, email)
	f.mu.Unlock()
	if f.transcript == nil {
		return nil
	}
	return f.transcript(ctx, sessionID, email)
}

func (f *fakeActors) dialogueCalls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.dialogues...)
}

func newRegistry(t *testing.T, actors ports.Actors, wf ports.Workflow, opts ...session.Option) *session.Registry {
	t.Helper()
	if wf == nil {
		wf = stubWorkflow(nil, nil)
	}
	reg := session.NewRegistry(actors, wf, opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = reg.Close(ctx)
	})
	return reg
}

func dispatch(t *testing.T, reg *session.Registry, trig domain.Trigger) session.Receipt {
	t.Helper()
	rec, err := reg.Dispatch(context.Background(), trig)
	require.NoError(t, err)
	return rec
}

func waitState(t *testing.T, reg *session.Registry, id string, want domain.StateValue) {
	t.Helper()
	require.Eventually(t, func() bool {
		a, ok := reg.Get(id)
		return ok && a.State() == want
	}, waitFor, tick, "session %s never reached %s", id, want)
}

func waitGone(t *testing.T, reg *session.Registry, id string) {
	t.Helper()
	require.Eventually(t, func() bool {
		_, ok := reg.Get(id)
		return !ok && reg.Len() == 0
	}, waitFor, tick)
}

func contextOf(t *testing.T, reg *session.Registry, id string) *domain.Context {
	t.Helper()
	info, err := reg.Inspect(id)
	require.NoError(t, err)
	return info.Context
}

// collect reads message events from ch until n arrived.
func collect(t *testing.T, ch <-chan domain.OutboundEvent, n int) []domain.OutboundEvent {
	t.Helper()
	var msgs []domain.OutboundEvent
	deadline := time.After(waitFor)
	for len(msgs) < n {
		select {
		case ev, ok := <-ch:
			require.True(t, ok, "stream closed early")
			if ev.Kind == domain.OutboundMessage {
				msgs = append(msgs, ev)
			}
		case <-deadline:
			require.FailNow(t, "timed out waiting for messages", "got %d of %d", len(msgs), n)
		}
	}
	return msgs
}

func TestRegistry_FirstMessageDispatchesDialogue(t *testing.T) {
	release := make(chan struct{})
	got := make(chan [2]string, 1)
	actors := &fakeActors{
		dialogue: func(ctx context.Context, sessionID, message string) (domain.DialogueOutput, error) {
			got <- [2]string{sessionID, message}
			<-release
			return domain.DialogueOutput{Content: "hi"}, nil
		},
	}
	reg := newRegistry(t, actors, nil)
	defer close(release)

	rec := dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "hello"})
	assert.True(t, rec.Created)
	assert.Equal(t, domain.TriggerMessage, rec.Kind)

	select {
	case call := <-got:
		assert.Equal(t, [2]string{"s1", "hello"}, call)
	case <-time.After(waitFor):
		t.Fatal("dialogue actor was not invoked")
	}
	waitState(t, reg, "s1", domain.StateProcessing)
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_ReplyIsPublished(t *testing.T) {
	reg := newRegistry(t, &fakeActors{}, nil)
	ch, _ := reg.Hub().Sink("s1").Subscribe(context.Background())

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "hello"})

	msgs := collect(t, ch, 1)
	assert.Equal(t, "ok: hello", msgs[0].Text)
	assert.Equal(t, domain.RoleBot, msgs[0].Participant)
	assert.NotEmpty(t, msgs[0].MessageID)

	waitState(t, reg, "s1", domain.StateInputReceived)
	c := contextOf(t, reg, "s1")
	require.Len(t, c.Messages, 2)
	assert.Equal(t, domain.RoleUser, c.Messages[0].Role)
	assert.NotEqual(t, c.Messages[0].ID, c.Messages[1].ID)
}

func TestRegistry_EscalationReachesAgent(t *testing.T) {
	actors := &fakeActors{
		dialogue: func(ctx context.Context, sessionID, message string) (domain.DialogueOutput, error) {
			return domain.DialogueOutput{
				Content:  "Let me get a human",
				Metadata: map[string]any{domain.FlagLiveAgentRequested: true},
			}, nil
		},
	}
	reg := newRegistry(t, actors, nil)

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "human please"})
	waitState(t, reg, "s1", domain.StateAgentConnected)
	assert.Equal(t, "agent-1", contextOf(t, reg, "s1").AgentID)

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "are you there?"})
	require.Eventually(t, func() bool {
		actors.mu.Lock()
		defer actors.mu.Unlock()
		return len(actors.relayed) == 1
	}, waitFor, tick)
	assert.Equal(t, "agent-1:are you there?", actors.relayed[0])
	assert.Equal(t, []string{"human please"}, actors.dialogueCalls())

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Type: "agentEnded"})
	waitState(t, reg, "s1", domain.StateSurvey)

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Type: "survey", Data: map[string]any{"score": 5}})
	waitGone(t, reg, "s1")
}

func TestRegistry_EndChatWithSurveyFlagKeepsSession(t *testing.T) {
	wf := stubWorkflow(map[string][]domain.Descriptor{
		"endchat": {{Content: "Before you go, rate us?", Metadata: map[string]any{domain.FlagStartSurvey: true}}},
	}, nil)
	reg := newRegistry(t, &fakeActors{}, wf)

	rec := dispatch(t, reg, domain.Trigger{SessionID: "s2", Message: "__endchat__"})
	assert.Equal(t, domain.TriggerNamed, rec.Kind)
	assert.Equal(t, session.TriggerEndChat, rec.Name)

	waitState(t, reg, "s2", domain.StateSurvey)
	c := contextOf(t, reg, "s2")
	require.Len(t, c.Messages, 1)
	assert.Equal(t, "Before you go, rate us?", c.Messages[0].Content)
}

func TestRegistry_EndChatCloses(t *testing.T) {
	var ended atomic.Int32
	wf := stubWorkflow(map[string][]domain.Descriptor{"endChat": {{Content: "Bye!"}}}, nil)
	reg := newRegistry(t, &fakeActors{}, wf, session.WithHooks(domain.LifecycleHooks{
		OnSessionEnd: func(ctx context.Context, sessionID string) { ended.Add(1) },
	}))
	ch, _ := reg.Hub().Sink("s3").Subscribe(context.Background())

	dispatch(t, reg, domain.Trigger{SessionID: "s3", Message: "hi"})
	waitState(t, reg, "s3", domain.StateInputReceived)
	dispatch(t, reg, domain.Trigger{SessionID: "s3", Message: "__endChat__"})

	waitGone(t, reg, "s3")
	assert.Equal(t, int32(1), ended.Load())

	var last domain.OutboundEvent
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-ch:
				if ev.Kind == domain.OutboundState {
					last = ev
				}
			default:
				return last.Status == domain.StateClosed
			}
		}
	}, waitFor, tick)
}

func TestRegistry_SlowDialogueNotice(t *testing.T) {
	release := make(chan struct{})
	actors := &fakeActors{
		dialogue: func(ctx context.Context, sessionID, message string) (domain.DialogueOutput, error) {
			<-release
			return domain.DialogueOutput{Content: "late answer"}, nil
		},
	}
	reg := newRegistry(t, actors, nil, session.WithSlowNotice(20*time.Millisecond))
	ch, _ := reg.Hub().Sink("s1").Subscribe(context.Background())

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "hard question"})

	notice := collect(t, ch, 1)[0]
	assert.Equal(t, runtime.DefaultSlowNotice, notice.Text)
	assert.Equal(t, true, notice.Meta[domain.MetaNotice])

	// Long enough for a second notice if the timer were periodic.
	time.Sleep(60 * time.Millisecond)
	close(release)

	late := collect(t, ch, 1)[0]
	assert.Equal(t, "late answer", late.Text)
	waitState(t, reg, "s1", domain.StateInputReceived)

	var notices int
	for _, m := range contextOf(t, reg, "s1").Messages {
		if m.Content == runtime.DefaultSlowNotice {
			notices++
		}
	}
	assert.Equal(t, 1, notices)
}

func TestRegistry_DialogueFailure(t *testing.T) {
	calls := 0
	actors := &fakeActors{
		dialogue: func(ctx context.Context, sessionID, message string) (domain.DialogueOutput, error) {
			calls++
			if calls == 1 {
				return domain.DialogueOutput{}, errors.New("backend down")
			}
			return domain.DialogueOutput{Content: "back online"}, nil
		},
	}
	reg := newRegistry(t, actors, nil)

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "hello"})
	waitState(t, reg, "s1", domain.StateFailure)
	c := contextOf(t, reg, "s1")
	assert.Contains(t, c.Error, "backend down")
	assert.Equal(t, runtime.DefaultFallback, c.Messages[len(c.Messages)-1].Content)

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "again"})
	waitState(t, reg, "s1", domain.StateInputReceived)
}

func TestRegistry_DefersMessagesDuringDispatch(t *testing.T) {
	release := make(chan struct{})
	actors := &fakeActors{
		dialogue: func(ctx context.Context, sessionID, message string) (domain.DialogueOutput, error) {
			if message == "one" {
				<-release
			}
			return domain.DialogueOutput{Content: "re: " + message}, nil
		},
	}
	reg := newRegistry(t, actors, nil)

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "one"})
	waitState(t, reg, "s1", domain.StateProcessing)
	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "two"})

	require.Eventually(t, func() bool {
		info, err := reg.Inspect("s1")
		return err == nil && info.Deferred == 1
	}, waitFor, tick)
	close(release)

	require.Eventually(t, func() bool {
		a, ok := reg.Get("s1")
		return ok && a.State() == domain.StateInputReceived && len(a.Snapshot().Context.Messages) == 4
	}, waitFor, tick)

	var got []string
	for _, m := range contextOf(t, reg, "s1").Messages {
		got = append(got, m.Content)
	}
	assert.Equal(t, []string{"one", "re: one", "two", "re: two"}, got)
	assert.Equal(t, []string{"one", "two"}, actors.dialogueCalls())
}

func TestRegistry_BackendResolvedTriggerKeepsArrivalOrder(t *testing.T) {
	wf := ports.WorkflowFunc(func(ctx context.Context, name string, payload map[string]any) ([]domain.Descriptor, error) {
		time.Sleep(40 * time.Millisecond)
		return []domain.Descriptor{{Content: "Welcome!"}}, nil
	})
	reg := newRegistry(t, &fakeActors{}, wf)
	ch, _ := reg.Hub().Sink("s1").Subscribe(context.Background())

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "__welcome__"})
	dispatch(t, reg, domain.Trigger{SessionID: "s1", Type: "botMessage", Message: "second"})

	msgs := collect(t, ch, 2)
	assert.Equal(t, "Welcome!", msgs[0].Text)
	assert.Equal(t, "second", msgs[1].Text)
}

func TestRegistry_PublishedMessagesNeverRepeat(t *testing.T) {
	reg := newRegistry(t, &fakeActors{}, nil)
	sink := reg.Hub().Sink("s1")
	ch, _ := sink.Subscribe(context.Background())

	last := 0
	for _, text := range []string{"a", "b", "c"} {
		dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: text})
		waitState(t, reg, "s1", domain.StateInputReceived)
		require.Eventually(t, func() bool { return sink.PublishedCount() >= last+2 }, waitFor, tick)
		assert.GreaterOrEqual(t, sink.PublishedCount(), last)
		last = sink.PublishedCount()
	}

	msgs := collect(t, ch, 3)
	seen := map[string]bool{}
	for _, m := range msgs {
		assert.False(t, seen[m.MessageID], "message %s published twice", m.MessageID)
		seen[m.MessageID] = true
	}
	assert.Equal(t, []string{"ok: a", "ok: b", "ok: c"}, []string{msgs[0].Text, msgs[1].Text, msgs[2].Text})
}

func TestRegistry_QuiescentTriggers(t *testing.T) {
	reg := newRegistry(t, &fakeActors{}, nil)

	for range 2 {
		rec := dispatch(t, reg, domain.Trigger{SessionID: "ghost", Type: "ping"})
		assert.True(t, rec.Dropped)
		assert.False(t, rec.Created)
		assert.Equal(t, 0, reg.Len())
	}

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "hello"})
	waitState(t, reg, "s1", domain.StateInputReceived)

	ch, _ := reg.Hub().Sink("s1").Subscribe(context.Background())
	<-ch // replayed state
	rec := dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "__reconnect__"})
	assert.True(t, rec.Resynced)

	select {
	case ev := <-ch:
		for ev.Kind != domain.OutboundState {
			ev = <-ch
		}
		assert.Equal(t, domain.StateInputReceived, ev.Status)
	case <-time.After(waitFor):
		t.Fatal("no resync state published")
	}
	assert.Equal(t, 1, reg.Len())
}

func TestRegistry_RevivesClosedSession(t *testing.T) {
	reg := newRegistry(t, &fakeActors{}, nil)

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "hello"})
	waitState(t, reg, "s1", domain.StateInputReceived)
	dispatch(t, reg, domain.Trigger{SessionID: "s1", Type: "endChat"})
	waitGone(t, reg, "s1")

	rec := dispatch(t, reg, domain.Trigger{SessionID: "s1", Type: "heartbeat"})
	assert.True(t, rec.Dropped)
	assert.Equal(t, 0, reg.Len())

	rec = dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "back again"})
	assert.True(t, rec.Created)
	waitState(t, reg, "s1", domain.StateInputReceived)

	c := contextOf(t, reg, "s1")
	require.Len(t, c.Messages, 2)
	assert.Equal(t, "back again", c.Messages[0].Content)
	assert.Equal(t, 2, reg.Hub().Sink("s1").PublishedCount())
}

func TestRegistry_MessageQueuedBehindEndChatRevivesSession(t *testing.T) {
	release := make(chan struct{})
	wf := ports.WorkflowFunc(func(ctx context.Context, name string, payload map[string]any) ([]domain.Descriptor, error) {
		<-release
		return []domain.Descriptor{{Content: "Welcome!"}}, nil
	})
	var started, ended atomic.Int32
	actors := &fakeActors{}
	reg := newRegistry(t, actors, wf, session.WithHooks(domain.LifecycleHooks{
		OnSessionStart: func(ctx context.Context, sessionID string) { started.Add(1) },
		OnSessionEnd:   func(ctx context.Context, sessionID string) { ended.Add(1) },
	}))

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "hi"})
	waitState(t, reg, "s1", domain.StateInputReceived)

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "__welcome__"})
	dispatch(t, reg, domain.Trigger{SessionID: "s1", Type: "endChat"})
	rec := dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "are you there?"})
	assert.False(t, rec.Dropped)
	close(release)

	require.Eventually(t, func() bool {
		info, err := reg.Inspect("s1")
		return err == nil && info.State == domain.StateInputReceived && info.Messages == 2
	}, waitFor, tick, "message queued behind endChat was lost")

	c := contextOf(t, reg, "s1")
	assert.Equal(t, "are you there?", c.Messages[0].Content)
	assert.Equal(t, []string{"hi", "are you there?"}, actors.dialogueCalls())
	assert.Equal(t, int32(2), started.Load())
	assert.Equal(t, int32(1), ended.Load(), "the closed session still reports its end")

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Type: "endChat"})
	waitGone(t, reg, "s1")
	require.Eventually(t, func() bool { return ended.Load() == 2 }, waitFor, tick)
}

func TestRegistry_CompletionsAreNotRevived(t *testing.T) {
	block := make(chan struct{})
	actors := &fakeActors{dialogue: func(ctx context.Context, sessionID, message string) (domain.DialogueOutput, error) {
		<-block
		return domain.DialogueOutput{Content: "late"}, nil
	}}
	reg := newRegistry(t, actors, nil)

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "hi"})
	waitState(t, reg, "s1", domain.StateProcessing)
	dispatch(t, reg, domain.Trigger{SessionID: "s1", Type: "endChat"})
	waitGone(t, reg, "s1")

	close(block)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 0, reg.Len())
}

func TestRegistry_RejectedTriggers(t *testing.T) {
	reg := newRegistry(t, &fakeActors{}, nil, session.WithRateLimit(0.001, 1))

	_, err := reg.Dispatch(context.Background(), domain.Trigger{Message: "no id"})
	assert.ErrorIs(t, err, domain.ErrInvalidTrigger)

	rec, err := reg.Dispatch(context.Background(), domain.Trigger{SessionID: "s1", Message: "__bogus__"})
	assert.ErrorIs(t, err, domain.ErrUnknownTrigger)
	assert.True(t, rec.Dropped)
	assert.Equal(t, 0, reg.Len())

	_, err = reg.Dispatch(context.Background(), domain.Trigger{SessionID: "s1", Message: "hello"})
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestRegistry_EmailTranscriptFlow(t *testing.T) {
	wf := ports.WorkflowFunc(func(ctx context.Context, name string, payload map[string]any) ([]domain.Descriptor, error) {
		switch name {
		case "emailTranscript":
			return nil, nil
		case "emailReceived":
			if payload["email"] == "bad" {
				return []domain.Descriptor{{Valid: boolPtr(false), Message: "That does not look like an email."}}, nil
			}
			return []domain.Descriptor{{Valid: boolPtr(true)}}, nil
		}
		return nil, errors.New("unexpected " + name)
	})
	actors := &fakeActors{}
	reg := newRegistry(t, actors, wf)

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "__emailTranscript__"})
	waitState(t, reg, "s1", domain.StateEmailRequested)

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "bad"})
	require.Eventually(t, func() bool {
		a, ok := reg.Get("s1")
		return ok && a.State() == domain.StateEmailRequested && len(a.Snapshot().Context.Messages) == 2
	}, waitFor, tick)
	c := contextOf(t, reg, "s1")
	assert.Equal(t, "That does not look like an email.", c.Messages[1].Content)
	assert.Empty(t, c.Email)

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "me@example.com"})
	waitState(t, reg, "s1", domain.StateInputReceived)

	actors.mu.Lock()
	defer actors.mu.Unlock()
	assert.Equal(t, []string{"me@example.com"}, actors.emails)
}

func TestRegistry_RecoversFromPanics(t *testing.T) {
	var once sync.Once
	hooks := domain.LifecycleHooks{
		OnTransition: func(ctx context.Context, ev *domain.TransitionEvent) {
			if ev.Event == domain.EventBotResponse {
				once.Do(func() { panic("boom") })
			}
		},
	}
	reg := newRegistry(t, &fakeActors{}, nil, session.WithHooks(hooks))

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Type: "botMessage", Message: "hello"})
	require.Eventually(t, func() bool {
		info, err := reg.Inspect("s1")
		return err == nil && info.Context.Error == "boom"
	}, waitFor, tick)

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "still alive?"})
	waitState(t, reg, "s1", domain.StateInputReceived)
}

func TestRegistry_PersistsSnapshots(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	require.NoError(t, store.Save(ctx, "s1", &domain.SessionSnapshot{
		Mode:              "bot",
		Metadata:          map[string]any{"channel": "web"},
		WaitingWebhookURL: "https://hooks.example.com/s1",
	}))

	reg := newRegistry(t, &fakeActors{}, nil, session.WithSnapshots(session.NewManager(store)))
	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "hello"})
	waitState(t, reg, "s1", domain.StateInputReceived)

	require.Eventually(t, func() bool {
		snap, err := store.Load(ctx, "s1")
		return err == nil && snap.Metadata["state"] == string(domain.StateInputReceived)
	}, waitFor, tick)

	snap, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, session.ModeBot, snap.Mode)
	assert.Equal(t, "web", snap.Metadata["channel"])
	assert.Equal(t, 2, snap.Metadata["messageCount"])
	assert.Equal(t, "https://hooks.example.com/s1", snap.WaitingWebhookURL)
}

func TestRegistry_Close(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	actors := &fakeActors{
		dialogue: func(ctx context.Context, sessionID, message string) (domain.DialogueOutput, error) {
			select {
			case <-release:
			case <-ctx.Done():
			}
			return domain.DialogueOutput{}, ctx.Err()
		},
	}
	reg := session.NewRegistry(actors, stubWorkflow(nil, nil))

	dispatch(t, reg, domain.Trigger{SessionID: "s1", Message: "hello"})
	dispatch(t, reg, domain.Trigger{SessionID: "s2", Message: "hello"})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, reg.Close(ctx))
	assert.Equal(t, 0, reg.Len())

	_, err := reg.Dispatch(context.Background(), domain.Trigger{SessionID: "s1", Message: "late"})
	assert.ErrorIs(t, err, session.ErrRegistryClosed)
}

func TestModeOf(t *testing.T) {
	assert.Equal(t, session.ModeBot, session.ModeOf(domain.StateIdle))
	assert.Equal(t, session.ModeBot, session.ModeOf(domain.StateEmailRequested))
	assert.Equal(t, session.ModeAgent, session.ModeOf(domain.StateHandover))
	assert.Equal(t, session.ModeAgent, session.ModeOf(domain.StateAgentConnected))
	assert.Equal(t, session.ModeClosed, session.ModeOf(domain.StateClosed))
}

package cli

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/config"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu sync.Mutex
	b  bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.b.String()
}

type chatHarness struct {
	p    *parley.Parley
	in   *io.PipeWriter
	out  *syncBuffer
	done chan error
}

func startChat(t *testing.T, opts ChatOptions) *chatHarness {
	t.Helper()
	p, err := Build(context.Background(), config.Default(), EchoWorkflow(), logging.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(context.Background()) })

	r, w := io.Pipe()
	h := &chatHarness{p: p, in: w, out: &syncBuffer{}, done: make(chan error, 1)}
	opts.In = r
	opts.Out = h.out
	opts.Plain = true
	if opts.SessionID == "" {
		opts.SessionID = "s1"
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { h.done <- NewChat(p, opts).Run(ctx) }()
	return h
}

func (h *chatHarness) say(t *testing.T, line string) {
	t.Helper()
	_, err := io.WriteString(h.in, line+"\n")
	require.NoError(t, err)
}

func (h *chatHarness) waitOutput(t *testing.T, want string) {
	t.Helper()
	assert.Eventually(t, func() bool {
		return bytes.Contains([]byte(h.out.String()), []byte(want))
	}, 2*time.Second, 10*time.Millisecond, "output never contained %q:\n%s", want, h.out.String())
}

func (h *chatHarness) waitDone(t *testing.T) {
	t.Helper()
	select {
	case err := <-h.done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("chat loop did not exit")
	}
}

func TestChat_EchoesMessages(t *testing.T) {
	h := startChat(t, ChatOptions{Quiet: true})

	h.say(t, "hello")
	h.waitOutput(t, "bot: You said: hello")

	h.say(t, "/state")
	h.waitOutput(t, "messages: 2")

	h.say(t, "/quit")
	h.waitDone(t)
}

func TestChat_ButtonsSelectByNumber(t *testing.T) {
	h := startChat(t, ChatOptions{Quiet: true, Welcome: true})
	h.waitOutput(t, "  [1] agent")

	h.say(t, "1")
	h.waitOutput(t, "Let me find someone for you.")
	assert.Eventually(t, func() bool {
		info, err := h.p.Inspect("s1")
		return err == nil && info.State == domain.StateAgentConnected && info.AgentID == EchoAgentID
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, h.in.Close())
	h.waitDone(t)
}

func TestChat_EndCommandClosesSession(t *testing.T) {
	h := startChat(t, ChatOptions{SessionID: "s2", ShowStates: true})
	h.waitOutput(t, "Session 's2' active.")

	h.say(t, "hi")
	h.waitOutput(t, "You said: hi")

	h.say(t, "/end")
	h.waitOutput(t, "· closed")
	h.waitOutput(t, ">>> Session closed.")
	assert.Eventually(t, func() bool {
		_, err := h.p.Inspect("s2")
		return errors.Is(err, domain.ErrSessionNotFound)
	}, 2*time.Second, 10*time.Millisecond)

	h.say(t, "/state")
	h.waitOutput(t, ">>> No live session")

	h.say(t, "/quit")
	h.waitDone(t)
}

func TestChat_GraphAndHelp(t *testing.T) {
	h := startChat(t, ChatOptions{Quiet: true})

	h.say(t, "hey")
	h.waitOutput(t, "You said: hey")

	h.say(t, "/graph")
	h.waitOutput(t, "stateDiagram-v2")
	h.waitOutput(t, "classDef current")

	h.say(t, "/help")
	h.waitOutput(t, "/skip")

	h.say(t, "/nope")
	h.say(t, "/quit")
	h.waitDone(t)
	assert.NotContains(t, h.out.String(), "Unknown command", "system messages are hidden in quiet mode")
}

func TestChat_ContextCancelStopsLoop(t *testing.T) {
	p, err := Build(context.Background(), config.Default(), EchoWorkflow(), logging.NewNop())
	require.NoError(t, err)
	defer p.Close(context.Background())

	r, _ := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- NewChat(p, ChatOptions{SessionID: "s3", In: r, Out: io.Discard, Plain: true, Quiet: true}).Run(ctx)
	}()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("chat loop did not exit")
	}
	assert.Eventually(t, func() bool {
		_, ok := p.Hub().Lookup("s3")
		return !ok
	}, 2*time.Second, 10*time.Millisecond, "an unused sink is released")
}

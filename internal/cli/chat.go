package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/aretw0/parley/internal/presentation/graph"
	"github.com/aretw0/parley/internal/presentation/tui"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/session"
	"github.com/aretw0/parley/pkg/stream"
)

// Dispatcher is the part of a Parley instance the chat loop drives.
type Dispatcher interface {
	Dispatch(ctx context.Context, t domain.Trigger) (session.Receipt, error)
	Inspect(sessionID string) (session.SessionInfo, error)
	Hub() *stream.Hub
	Chart() runtime.Chart
}

// ChatOptions configures a chat loop.
type ChatOptions struct {
	SessionID string
	In        io.Reader
	Out       io.Writer

	// Plain disables colors and markdown.
	Plain bool
	// Quiet hides the banner, prompts and system messages.
	Quiet      bool
	ShowStates bool
	// Welcome sends the __welcome__ trigger before reading input.
	Welcome bool
	Version string
}

// Chat is a terminal REPL bound to one session: lines typed by the user become
// triggers, the session's outbound stream is printed as it arrives.
type Chat struct {
	d       Dispatcher
	opts    ChatOptions
	printer *tui.Printer

	mu      sync.Mutex
	buttons []any
	visited []domain.StateValue
	current domain.StateValue
}

// NewChat creates a chat loop over d.
func NewChat(d Dispatcher, opts ChatOptions) *Chat {
	popts := []tui.PrinterOption{tui.WithStates(opts.ShowStates)}
	if opts.Plain {
		popts = append(popts, tui.WithPlain())
	}
	return &Chat{
		d:       d,
		opts:    opts,
		printer: tui.NewPrinter(&lockedWriter{w: opts.Out}, popts...),
	}
}

// chatCommands lists the slash commands in help order.
var chatCommands = [][2]string{
	{"/agent", "ask for a live agent"},
	{"/email", "request the transcript by email"},
	{"/end", "end the chat"},
	{"/skip", "skip the survey"},
	{"/state", "show the session state"},
	{"/graph", "print the statechart with the visited states"},
	{"/help", "show this help"},
	{"/quit", "leave (the session keeps running)"},
}

// Run reads input until EOF, /quit or ctx is done.
func (c *Chat) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	hub := c.d.Hub()
	events, _ := hub.Sink(c.opts.SessionID).Subscribe(ctx)
	if _, err := c.d.Inspect(c.opts.SessionID); errors.Is(err, domain.ErrSessionNotFound) {
		hub.Release(c.opts.SessionID)
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ev := range events {
			c.observe(ev)
		}
	}()
	defer func() {
		cancel()
		wg.Wait()
	}()

	if !c.opts.Quiet {
		tui.PrintBanner(c.opts.Out, c.opts.Version)
		c.system("Session '%s' active. Type /help for commands.", c.opts.SessionID)
	}
	if c.opts.Welcome {
		c.send(ctx, domain.Trigger{Message: "__welcome__"})
	}

	lines := make(chan string)
	readErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(c.opts.In)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		err := scanner.Err()
		if err == nil {
			err = io.EOF
		}
		readErr <- err
	}()

	for {
		select {
		case <-ctx.Done():
			return handleExecutionError(ctx.Err())
		case err := <-readErr:
			return handleExecutionError(err)
		case line := <-lines:
			if quit := c.handle(ctx, strings.TrimSpace(line)); quit {
				return nil
			}
		}
	}
}

// handle processes one input line and reports whether the loop should stop.
func (c *Chat) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	if n, err := strconv.Atoi(line); err == nil {
		if b, ok := c.button(n); ok {
			c.send(ctx, domain.Trigger{Message: tui.ButtonValue(b)})
			return false
		}
	}
	if !strings.HasPrefix(line, "/") {
		c.send(ctx, domain.Trigger{Message: line})
		return false
	}

	switch strings.ToLower(line) {
	case "/quit", "/exit":
		return true
	case "/agent":
		c.send(ctx, domain.Trigger{Message: "__" + session.TriggerLiveAgent + "__"})
	case "/email":
		c.send(ctx, domain.Trigger{Message: "__" + session.TriggerEmailTranscript + "__"})
	case "/end":
		c.send(ctx, domain.Trigger{Type: session.DirectEndChat})
	case "/skip":
		c.send(ctx, domain.Trigger{Type: session.DirectSurveySkipped})
	case "/state":
		c.showState()
	case "/graph":
		c.showGraph()
	case "/help":
		for _, cmd := range chatCommands {
			c.write("  %-8s %s\n", cmd[0], cmd[1])
		}
	default:
		c.system("Unknown command %s. Type /help.", line)
	}
	return false
}

func (c *Chat) send(ctx context.Context, t domain.Trigger) {
	t.SessionID = c.opts.SessionID
	rec, err := c.d.Dispatch(ctx, t)
	switch {
	case err != nil:
		c.system("Error: %v", err)
	case rec.Dropped:
		c.system("Ignored %s trigger %q.", rec.Kind, rec.Name)
	}
}

func (c *Chat) observe(ev domain.OutboundEvent) {
	c.mu.Lock()
	switch ev.Kind {
	case domain.OutboundState:
		c.current = ev.Status
		if n := len(c.visited); n == 0 || c.visited[n-1] != ev.Status {
			c.visited = append(c.visited, ev.Status)
		}
	case domain.OutboundMessage:
		c.buttons = ev.Buttons
	}
	c.mu.Unlock()

	c.printer.Print(ev)
	if ev.Kind == domain.OutboundState && ev.Status.IsFinal() {
		c.system("Session closed. Type to start over or /quit.")
	}
}

func (c *Chat) button(n int) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if n < 1 || n > len(c.buttons) {
		return nil, false
	}
	return c.buttons[n-1], true
}

func (c *Chat) showState() {
	info, err := c.d.Inspect(c.opts.SessionID)
	if err != nil {
		c.system("No live session: %v", err)
		return
	}
	c.write("state:    %s\nmessages: %d\n", info.State, info.Messages)
	if info.AgentID != "" {
		c.write("agent:    %s\n", info.AgentID)
	}
	if info.Pending != nil {
		c.write("pending:  %s\n", info.Pending.Actor)
	}
}

func (c *Chat) showGraph() {
	c.mu.Lock()
	overlay := &graph.GraphOverlay{
		VisitedStates: append([]domain.StateValue(nil), c.visited...),
		CurrentState:  c.current,
	}
	c.mu.Unlock()
	c.write("%s\n", graph.GenerateMermaid(c.d.Chart(), overlay))
}

func (c *Chat) system(format string, args ...any) {
	if c.opts.Quiet {
		return
	}
	printSystemMessage(&lockedWriter{w: c.opts.Out}, format, args...)
}

func (c *Chat) write(format string, args ...any) {
	fmt.Fprintf(&lockedWriter{w: c.opts.Out}, format, args...)
}

// outMu serializes writes from the input loop and the stream printer.
var outMu sync.Mutex

type lockedWriter struct {
	w io.Writer
}

func (l *lockedWriter) Write(p []byte) (int, error) {
	outMu.Lock()
	defer outMu.Unlock()
	return l.w.Write(p)
}

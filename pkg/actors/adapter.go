package actors

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// DefaultFallback is shown when an external operation fails.
const DefaultFallback = "Sorry, I'm having trouble responding right now. Please try again shortly."

// Endpoints names the workflow endpoint behind each operation.
type Endpoints struct {
	Dialogue   string `yaml:"dialogue"`
	Handover   string `yaml:"handover"`
	Relay      string `yaml:"relay"`
	Transcript string `yaml:"transcript"`
}

// DefaultEndpoints returns the stock endpoint names.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		Dialogue:   "chat",
		Handover:   "liveAgent",
		Relay:      "agentRelay",
		Transcript: "sendTranscript",
	}
}

// Timeouts bounds each operation.
type Timeouts struct {
	Dialogue   time.Duration
	Handover   time.Duration
	Relay      time.Duration
	Transcript time.Duration
}

// DefaultTimeouts returns the stock per-operation deadlines.
func DefaultTimeouts() Timeouts {
	return Timeouts{
		Dialogue:   60 * time.Second,
		Handover:   30 * time.Second,
		Relay:      10 * time.Second,
		Transcript: 30 * time.Second,
	}
}

// Adapter implements ports.Actors on top of a workflow backend.
type Adapter struct {
	wf        ports.Workflow
	endpoints Endpoints
	timeouts  Timeouts
	fallback  string
	logger    *slog.Logger
}

var _ ports.Actors = (*Adapter)(nil)

// Option configures the Adapter.
type Option func(*Adapter)

// WithEndpoints overrides the endpoint names. Empty fields keep defaults.
func WithEndpoints(e Endpoints) Option {
	return func(a *Adapter) {
		if e.Dialogue != "" {
			a.endpoints.Dialogue = e.Dialogue
		}
		if e.Handover != "" {
			a.endpoints.Handover = e.Handover
		}
		if e.Relay != "" {
			a.endpoints.Relay = e.Relay
		}
		if e.Transcript != "" {
			a.endpoints.Transcript = e.Transcript
		}
	}
}

// WithTimeouts overrides the per-operation deadlines. Zero fields keep defaults.
func WithTimeouts(t Timeouts) Option {
	return func(a *Adapter) {
		if t.Dialogue > 0 {
			a.timeouts.Dialogue = t.Dialogue
		}
		if t.Handover > 0 {
			a.timeouts.Handover = t.Handover
		}
		if t.Relay > 0 {
			a.timeouts.Relay = t.Relay
		}
		if t.Transcript > 0 {
			a.timeouts.Transcript = t.Transcript
		}
	}
}

// WithFallback sets the text substituted when an operation fails.
func WithFallback(text string) Option {
	return func(a *Adapter) {
		if text != "" {
			a.fallback = text
		}
	}
}

// WithLogger sets a structured logger for the adapter.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Adapter) {
		a.logger = logger
	}
}

// New creates an Adapter bound to a workflow backend.
func New(wf ports.Workflow, opts ...Option) *Adapter {
	a := &Adapter{
		wf:        wf,
		endpoints: DefaultEndpoints(),
		timeouts:  DefaultTimeouts(),
		fallback:  DefaultFallback,
		logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Fallback returns the text substituted on failure.
func (a *Adapter) Fallback() string {
	return a.fallback
}

// RunDialogueTurn sends one user message to the dialogue endpoint and folds the reply
// descriptors into a single output. An escalation marker in the reply is stripped and
// turned into the liveAgentRequested flag.
func (a *Adapter) RunDialogueTurn(ctx context.Context, sessionID, message string) (domain.DialogueOutput, error) {
	ds, err := a.call(ctx, "dialogue", a.endpoints.Dialogue, a.timeouts.Dialogue, map[string]any{
		"sessionId": sessionID,
		"message":   message,
	})
	if err != nil {
		return domain.DialogueOutput{}, err
	}
	return Fold(ds), nil
}

// ConnectLiveAgent asks the backend to hand the session over to a human agent.
func (a *Adapter) ConnectLiveAgent(ctx context.Context, sessionID string) (domain.HandoverOutput, error) {
	ds, err := a.call(ctx, "handover", a.endpoints.Handover, a.timeouts.Handover, map[string]any{
		"sessionId": sessionID,
	})
	if err != nil {
		return domain.HandoverOutput{}, err
	}

	var out domain.HandoverOutput
	for _, d := range ds {
		if d.HasFlag(domain.FlagLiveAgentIssue) || domain.Truthy(d.Metadata["issue"]) {
			out.Issue = true
		}
		if id, ok := d.Metadata["agentId"].(string); ok && id != "" {
			out.AgentID = id
		}
	}
	return out, nil
}

// RelayToLiveAgent forwards a user message to the connected agent.
func (a *Adapter) RelayToLiveAgent(ctx context.Context, sessionID, agentID, message string) error {
	_, err := a.call(ctx, "relay", a.endpoints.Relay, a.timeouts.Relay, map[string]any{
		"sessionId": sessionID,
		"agentId":   agentID,
		"message":   message,
	})
	return err
}

// SendTranscript asks the backend to email the conversation transcript.
func (a *Adapter) SendTranscript(ctx context.Context, sessionID, email string) error {
	_, err := a.call(ctx, "transcript", a.endpoints.Transcript, a.timeouts.Transcript, map[string]any{
		"sessionId": sessionID,
		"email":     email,
	})
	return err
}

func (a *Adapter) call(ctx context.Context, op, endpoint string, timeout time.Duration, payload map[string]any) ([]domain.Descriptor, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ds, err := a.wf.Call(ctx, endpoint, payload)
	if err != nil {
		aerr := &ActorError{Op: op, Fallback: a.fallback, Err: err}
		a.logger.Warn("actor call failed",
			"op", op,
			"endpoint", endpoint,
			"session_id", payload["sessionId"],
			"timeout", aerr.Timeout(),
			"error", err)
		return nil, aerr
	}
	return ds, nil
}

// Fold merges reply descriptors into one dialogue output: contents are joined by a
// blank line, metadata merged (later wins) and rich content concatenated.
func Fold(ds []domain.Descriptor) domain.DialogueOutput {
	out := domain.DialogueOutput{Metadata: map[string]any{}}
	var parts []string
	var rich []any
	for _, d := range ds {
		if d.Content != "" {
			parts = append(parts, d.Content)
		}
		rich = append(rich, d.RichContent...)
		for k, v := range d.Metadata {
			out.Metadata[k] = v
		}
		if d.Title != "" {
			out.Metadata[domain.MetaTitle] = d.Title
		}
		if len(d.Buttons) > 0 {
			out.Metadata[domain.MetaButtons] = d.Buttons
		}
	}

	content, escalate := domain.StripEscalation(strings.Join(parts, "\n\n"))
	out.Content = content
	if escalate {
		out.Metadata[domain.FlagLiveAgentRequested] = true
	}
	if len(rich) > 0 {
		out.RichContent = rich
	}
	return out
}

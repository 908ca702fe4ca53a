package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// Named triggers with post-processing.
const (
	TriggerEmailTranscript = "emailTranscript"
	TriggerEmailReceived   = "emailReceived"
	TriggerEndChat         = "endChat"
	TriggerLiveAgent       = "liveAgent"
)

// Direct trigger types pushed by collaborators without a backend round trip.
const (
	DirectMessage        = "message"
	DirectAgentMessage   = "agentMessage"
	DirectAgentConnected = "agentConnected"
	DirectAgentEnded     = "agentEnded"
	DirectLiveAgentIssue = "liveAgentIssue"
	DirectSystemError    = "systemError"
	DirectBotMessage     = "botMessage"
	DirectEmail          = "email"
	DirectSurvey         = "survey"
	DirectSurveySkipped  = "surveySkipped"
	DirectEndChat        = "endChat"
)

// DefaultQuiescent are the triggers that never create or revive a session.
var DefaultQuiescent = []string{"ping", "reconnect", "heartbeat"}

// DefaultPassThrough are the named triggers that get generic descriptor mapping only.
var DefaultPassThrough = []string{"welcome"}

var postProcessed = []string{TriggerEmailTranscript, TriggerEmailReceived, TriggerEndChat, TriggerLiveAgent}

// Plan is the resolution of one inbound trigger.
type Plan struct {
	Kind domain.TriggerKind
	// Name is the canonical trigger name for named triggers, or the direct type.
	Name      string
	Quiescent bool
	// Events are produced without any I/O.
	Events []domain.Event
	// Resolve, when set, produces the events after a backend round trip.
	Resolve func(ctx context.Context) []domain.Event
}

// Mapper translates inbound triggers and backend replies into machine events.
type Mapper struct {
	wf          ports.Workflow
	quiescent   map[string]bool
	passThrough map[string]string
	logger      *slog.Logger
}

// MapperOption configures the Mapper.
type MapperOption func(*Mapper)

// WithQuiescent replaces the set of quiescent trigger names.
func WithQuiescent(names ...string) MapperOption {
	return func(m *Mapper) {
		m.quiescent = lowerSet(names)
	}
}

// WithPassThrough replaces the set of named triggers mapped generically.
func WithPassThrough(names ...string) MapperOption {
	return func(m *Mapper) {
		m.passThrough = make(map[string]string, len(names))
		for _, n := range names {
			m.passThrough[strings.ToLower(n)] = n
		}
	}
}

// WithMapperLogger sets a structured logger for the mapper.
func WithMapperLogger(logger *slog.Logger) MapperOption {
	return func(m *Mapper) {
		m.logger = logger
	}
}

// NewMapper creates a trigger mapper backed by a workflow backend.
func NewMapper(wf ports.Workflow, opts ...MapperOption) *Mapper {
	m := &Mapper{
		wf:     wf,
		logger: logging.NewNop(),
	}
	WithQuiescent(DefaultQuiescent...)(m)
	WithPassThrough(DefaultPassThrough...)(m)
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func lowerSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[strings.ToLower(n)] = true
	}
	return set
}

// canonical returns the known spelling of a named trigger, matched case-insensitively.
func (m *Mapper) canonical(name string) (string, bool) {
	for _, known := range postProcessed {
		if strings.EqualFold(known, name) {
			return known, true
		}
	}
	if n, ok := m.passThrough[strings.ToLower(name)]; ok {
		return n, true
	}
	return "", false
}

// Plan resolves a trigger. Unknown names and types yield ErrUnknownTrigger.
func (m *Mapper) Plan(t domain.Trigger) (Plan, error) {
	kind, name := t.Classify()

	if kind != domain.TriggerMessage && m.quiescent[strings.ToLower(name)] {
		return Plan{Kind: kind, Name: name, Quiescent: true}, nil
	}

	switch kind {
	case domain.TriggerMessage:
		return Plan{Kind: kind, Events: []domain.Event{{Type: domain.EventUserMessage, Content: t.Message}}}, nil

	case domain.TriggerNamed:
		canon, ok := m.canonical(name)
		if !ok {
			return Plan{Kind: kind, Name: name}, fmt.Errorf("%w: %q", domain.ErrUnknownTrigger, name)
		}
		return Plan{
			Kind: kind,
			Name: canon,
			Resolve: func(ctx context.Context) []domain.Event {
				return m.Resolve(ctx, name, canon, t)
			},
		}, nil
	}

	return m.direct(t, name)
}

func (m *Mapper) direct(t domain.Trigger, typ string) (Plan, error) {
	p := Plan{Kind: domain.TriggerDirect, Name: typ}
	var ev domain.Event
	switch typ {
	case DirectMessage:
		ev = domain.Event{Type: domain.EventUserMessage, Content: t.Message}
	case DirectAgentMessage:
		ev = domain.Event{Type: domain.EventAgentMessage, Content: t.Message, AgentID: t.AgentID}
	case DirectAgentConnected:
		ev = domain.Event{Type: domain.EventAgentConnected, AgentID: t.AgentID}
	case DirectAgentEnded:
		ev = domain.Event{Type: domain.EventAgentEndedChat}
	case DirectLiveAgentIssue:
		ev = domain.Event{Type: domain.EventLiveAgentIssue, Reason: t.Message}
	case DirectSystemError:
		ev = domain.Event{Type: domain.EventSystemError, Reason: t.Message}
	case DirectBotMessage:
		ev = domain.Event{Type: domain.EventBotResponse, Content: t.Message}
		if meta, ok := t.Data.(map[string]any); ok {
			ev.Metadata = meta
		}
	case DirectSurvey:
		ev = domain.Event{Type: domain.EventSurveySubmitted, Data: t.Data}
	case DirectSurveySkipped:
		ev = domain.Event{Type: domain.EventSurveySkipped}
	case DirectEndChat:
		ev = domain.Event{Type: domain.EventUserEndedChat}
	case DirectEmail:
		// A pushed email still goes through backend validation.
		p.Resolve = func(ctx context.Context) []domain.Event {
			return m.Resolve(ctx, TriggerEmailReceived, TriggerEmailReceived, t)
		}
		return p, nil
	default:
		return p, fmt.Errorf("%w: type %q", domain.ErrUnknownTrigger, typ)
	}
	p.Events = []domain.Event{ev}
	return p, nil
}

// Resolve calls the backend for a named trigger and maps the reply. endpoint is the
// name as sent by the caller; canon selects post-processing.
func (m *Mapper) Resolve(ctx context.Context, endpoint, canon string, t domain.Trigger) []domain.Event {
	ds, err := m.wf.Call(ctx, endpoint, t.Payload())
	if err != nil {
		m.logger.Warn("named trigger failed",
			"session_id", t.SessionID,
			"trigger", endpoint,
			"error", err)
		if canon == TriggerEmailReceived {
			// Validation still has to settle; fall back to a local check.
			email := t.EmailCandidate()
			return append([]domain.Event{{Type: domain.EventEmailProvided, Email: email}}, m.localVerdict(email)...)
		}
		return []domain.Event{{Type: domain.EventSystemError, Reason: err.Error()}}
	}

	switch canon {
	case TriggerEmailTranscript:
		events := Generic(ds)
		if len(events) == 0 {
			events = append(events, domain.Event{Type: domain.EventEmailTranscriptRequested})
		}
		return events

	case TriggerEmailReceived:
		email := responseEmail(ds)
		if email == "" {
			email = t.EmailCandidate()
		}
		return append([]domain.Event{{Type: domain.EventEmailProvided, Email: email}}, m.verdict(ds, email)...)

	case TriggerEndChat:
		events := Generic(ds)
		if !PreventClose(ds) {
			events = append(events, domain.Event{Type: domain.EventUserEndedChat})
		}
		return events

	case TriggerLiveAgent:
		events := Generic(ds)
		for _, ev := range events {
			if domain.Flag(ev, domain.FlagLiveAgentRequested) {
				return events
			}
		}
		return append(events, domain.Event{Type: domain.EventLiveAgentRequested})
	}

	events := Generic(ds)
	if EndsChat(ds) {
		events = append(events, domain.Event{Type: domain.EventUserEndedChat})
	}
	return events
}

// ValidateEmail settles a typed email address: the backend decides, a local syntax
// check stands in when the backend is unreachable or silent.
func (m *Mapper) ValidateEmail(ctx context.Context, sessionID, email string) []domain.Event {
	ds, err := m.wf.Call(ctx, TriggerEmailReceived, map[string]any{
		"sessionId": sessionID,
		"email":     email,
	})
	if err != nil {
		m.logger.Warn("email validation call failed, checking locally",
			"session_id", sessionID,
			"error", err)
		return m.localVerdict(email)
	}
	if resp := responseEmail(ds); resp != "" {
		email = resp
	}
	return m.verdict(ds, email)
}

// verdict maps a validation reply to INVALID_EMAIL or EMAIL_VALIDATED.
func (m *Mapper) verdict(ds []domain.Descriptor, email string) []domain.Event {
	for _, d := range ds {
		if d.Valid != nil && !*d.Valid {
			reason := d.Message
			if reason == "" {
				reason = d.Content
			}
			return []domain.Event{{Type: domain.EventInvalidEmail, Reason: reason}}
		}
	}

	decided := false
	for _, d := range ds {
		if d.Valid != nil {
			decided = true
		}
	}
	if !decided {
		if v := m.localVerdict(email); v[0].Type == domain.EventInvalidEmail {
			return v
		}
	}

	events := Generic(ds)
	return append(events, domain.Event{Type: domain.EventEmailValidated, Email: email})
}

func (m *Mapper) localVerdict(email string) []domain.Event {
	if ValidEmail(email) {
		return []domain.Event{{Type: domain.EventEmailValidated, Email: email}}
	}
	return []domain.Event{{Type: domain.EventInvalidEmail}}
}

// ValidEmail is a syntactic check: a bare address with a dotted domain.
func ValidEmail(s string) bool {
	s = strings.TrimSpace(s)
	addr, err := mail.ParseAddress(s)
	if err != nil || addr.Address != s {
		return false
	}
	at := strings.LastIndexByte(s, '@')
	return at > 0 && strings.Contains(s[at+1:], ".")
}

func responseEmail(ds []domain.Descriptor) string {
	for _, d := range ds {
		if d.Email != "" {
			return d.Email
		}
	}
	return ""
}

// PreventClose reports whether any descriptor carries a survey, live-agent or email
// flag. An end-chat reply with such a flag must not close the session.
func PreventClose(ds []domain.Descriptor) bool {
	for _, d := range ds {
		if routes(d) {
			return true
		}
	}
	return false
}

// EndsChat reports whether the backend marked the conversation as ended.
// The routing flags of PreventClose win over chatEnded.
func EndsChat(ds []domain.Descriptor) bool {
	if PreventClose(ds) {
		return false
	}
	for _, d := range ds {
		if d.HasFlag(domain.FlagChatEnded) {
			return true
		}
	}
	return false
}

func routes(d domain.Descriptor) bool {
	return d.HasFlag(domain.FlagStartSurvey) || d.HasFlag(domain.FlagLiveAgentRequested) || d.HasFlag(domain.FlagEmailRequested)
}

// Generic maps reply descriptors to BOT_RESPONSE events. Text descriptors already
// marked sent are skipped; an escalation marker sets liveAgentRequested.
func Generic(ds []domain.Descriptor) []domain.Event {
	var events []domain.Event
	for _, d := range ds {
		switch {
		case d.IsSplash():
		case d.IsText():
			if d.Sent {
				continue
			}
		default:
			continue
		}

		content, escalate := domain.StripEscalation(d.Content)
		if content == "" && len(d.RichContent) == 0 && d.Title == "" && len(d.Buttons) == 0 && !escalate && !routes(d) {
			continue
		}
		meta := domain.CloneMetadata(d.Metadata)
		if escalate {
			if meta == nil {
				meta = make(map[string]any, 1)
			}
			meta[domain.FlagLiveAgentRequested] = true
		}

		ev := domain.Event{
			Type:     domain.EventBotResponse,
			Content:  content,
			Metadata: meta,
		}
		if len(d.RichContent) > 0 {
			ev.RichContent = d.RichContent
		}
		if d.IsSplash() {
			ev.Title = d.Title
			ev.Buttons = d.Buttons
		}
		events = append(events, ev)
	}
	return events
}

package runtime

import (
	"log/slog"
	"slices"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/google/uuid"
)

// maxTransientDepth bounds chains of eventless transitions.
const maxTransientDepth = 8

// Default user-facing texts substituted by the machine.
const (
	DefaultFallback     = "Sorry, something went wrong on our side. Please try again in a moment."
	DefaultSlowNotice   = "This is taking a little longer than usual, please hold on."
	DefaultInvalidEmail = "That email address doesn't look right. Could you type it again?"
)

// Messages holds the texts the machine appends on its own behalf.
type Messages struct {
	Fallback     string
	SlowNotice   string
	InvalidEmail string
}

// Invocation identifies the external call a dispatching state is waiting on.
type Invocation struct {
	ID    uint64           `json:"id"`
	Actor domain.ActorName `json:"actor"`
}

// InvokeInput is the structured input handed to an external actor.
type InvokeInput struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	Email     string `json:"email,omitempty"`
}

// Effect is a side-effect request produced by a transition.
// InvokeID is zero for fire-and-forget effects.
type Effect struct {
	Actor    domain.ActorName
	InvokeID uint64
	Input    InvokeInput
}

// Snapshot is the full machine state of one session.
type Snapshot struct {
	Value    domain.StateValue
	Context  *domain.Context
	Pending  *Invocation
	Deferred []domain.Event
	seq      uint64
}

// Result is the outcome of applying one event.
type Result struct {
	Snapshot Snapshot
	Effects  []Effect
	// Replay holds deferred events to apply next, in order, before any newer event.
	Replay []domain.Event
	// Ignored is true when no rule matched (or the event was stale).
	Ignored bool
	// Deferred is true when the event was parked until the current invocation resolves.
	Deferred bool
}

// Machine is the pure conversation state machine. It holds no per-session state
// and is safe to share between sessions.
type Machine struct {
	rules    map[domain.StateValue][]Rule
	always   map[domain.StateValue][]Rule
	global   []Rule
	entry    map[domain.StateValue]domain.ActorName
	defers   map[domain.StateValue]bool
	messages Messages
	now      func() time.Time
	newID    func() string
	logger   *slog.Logger
}

// Option configures the Machine.
type Option func(*Machine)

// WithClock overrides the timestamp source for appended messages.
func WithClock(now func() time.Time) Option {
	return func(m *Machine) {
		m.now = now
	}
}

// WithIDGenerator overrides the message id generator.
func WithIDGenerator(fn func() string) Option {
	return func(m *Machine) {
		m.newID = fn
	}
}

// WithMessages overrides the texts appended by the machine. Empty fields keep defaults.
func WithMessages(msgs Messages) Option {
	return func(m *Machine) {
		if msgs.Fallback != "" {
			m.messages.Fallback = msgs.Fallback
		}
		if msgs.SlowNotice != "" {
			m.messages.SlowNotice = msgs.SlowNotice
		}
		if msgs.InvalidEmail != "" {
			m.messages.InvalidEmail = msgs.InvalidEmail
		}
	}
}

// WithLogger sets a structured logger for the machine.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// NewMachine builds the conversation machine with its transition table.
func NewMachine(opts ...Option) *Machine {
	m := &Machine{
		messages: Messages{
			Fallback:     DefaultFallback,
			SlowNotice:   DefaultSlowNotice,
			InvalidEmail: DefaultInvalidEmail,
		},
		now:    time.Now,
		newID:  uuid.NewString,
		logger: logging.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.buildTable()
	return m
}

// Messages returns the texts the machine substitutes.
func (m *Machine) Messages() Messages {
	return m.messages
}

// Initial returns the starting snapshot for a session.
func (m *Machine) Initial(sessionID, userID string) Snapshot {
	return Snapshot{
		Value:   domain.StateIdle,
		Context: domain.NewContext(sessionID, userID),
	}
}

// IsDispatching reports whether the state waits on an external result,
// during which user messages are deferred.
func (m *Machine) IsDispatching(v domain.StateValue) bool {
	return m.defers[v]
}

// Step applies one event to a snapshot. It never mutates the input snapshot.
func (m *Machine) Step(s Snapshot, ev domain.Event) Result {
	if s.Value.IsFinal() {
		return Result{Snapshot: s, Ignored: true}
	}

	if isCompletion(ev.Type) && (s.Pending == nil || s.Pending.ID != ev.InvokeID) {
		m.logger.Debug("stale invocation result ignored",
			"session_id", s.Context.SessionID,
			"state", s.Value,
			"actor", ev.Actor,
			"invoke_id", ev.InvokeID)
		return Result{Snapshot: s, Ignored: true}
	}

	if ev.Type == domain.EventUserMessage && m.IsDispatching(s.Value) {
		next := s
		next.Deferred = append(slices.Clone(s.Deferred), ev)
		return Result{Snapshot: next, Deferred: true}
	}

	rule := m.match(s.Value, s.Context, ev)
	if rule == nil {
		return Result{Snapshot: s, Ignored: true}
	}

	scope := &scope{m: m, ctx: s.Context.Clone()}
	for _, act := range rule.Actions {
		act(scope, ev)
	}

	next := s
	next.Context = scope.ctx
	next.Deferred = slices.Clone(s.Deferred)

	if rule.Target != "" {
		next.Pending = nil
		next.Value = rule.Target
		m.enter(&next, scope, ev, 0)
	}

	res := Result{
		Snapshot: next,
		Effects:  scope.effects,
	}

	if len(res.Snapshot.Deferred) > 0 && !m.IsDispatching(res.Snapshot.Value) && !res.Snapshot.Value.IsFinal() {
		res.Replay = res.Snapshot.Deferred
		res.Snapshot.Deferred = nil
	}
	return res
}

// enter resolves eventless transitions then runs the entry invocation of the landing state.
func (m *Machine) enter(s *Snapshot, sc *scope, ev domain.Event, depth int) {
	if depth < maxTransientDepth {
		for _, r := range m.always[s.Value] {
			if r.Guard == nil || r.Guard(s.Context, ev) {
				for _, act := range r.Actions {
					act(sc, ev)
				}
				s.Context = sc.ctx
				s.Value = r.Target
				m.enter(s, sc, ev, depth+1)
				return
			}
		}
	}

	actor, ok := m.entry[s.Value]
	if !ok {
		return
	}
	s.seq++
	inv := &Invocation{ID: s.seq, Actor: actor}
	s.Pending = inv
	sc.effects = append(sc.effects, Effect{
		Actor:    actor,
		InvokeID: inv.ID,
		Input:    m.invokeInput(actor, sc.ctx),
	})
}

func (m *Machine) invokeInput(actor domain.ActorName, ctx *domain.Context) InvokeInput {
	in := InvokeInput{SessionID: ctx.SessionID}
	switch actor {
	case domain.ActorDialogue:
		in.Message = ctx.LastUserMessage()
	case domain.ActorTranscript:
		in.Email = ctx.Email
		if in.Email == "" {
			in.Email = ctx.LastUserMessage()
		}
	}
	return in
}

// match returns the first applicable rule: state rules, then parent rules, then global rules.
func (m *Machine) match(v domain.StateValue, ctx *domain.Context, ev domain.Event) *Rule {
	for p := v; p != ""; p = p.Parent() {
		if r := pick(m.rules[p], v, ctx, ev); r != nil {
			return r
		}
	}
	return pick(m.global, v, ctx, ev)
}

func pick(rules []Rule, v domain.StateValue, ctx *domain.Context, ev domain.Event) *Rule {
	for i := range rules {
		r := &rules[i]
		if r.On != ev.Type {
			continue
		}
		if r.Actor != "" && r.Actor != ev.Actor {
			continue
		}
		if len(r.In) > 0 && !inAny(v, r.In) {
			continue
		}
		if r.Guard != nil && !r.Guard(ctx, ev) {
			continue
		}
		return r
	}
	return nil
}

func inAny(v domain.StateValue, set []domain.StateValue) bool {
	for _, s := range set {
		if v.Matches(s) {
			return true
		}
	}
	return false
}

func isCompletion(t domain.EventType) bool {
	return t == domain.EventInvokeDone || t == domain.EventInvokeError || t == domain.EventInvokeSlow
}

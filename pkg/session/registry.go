package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/stream"
)

// Defaults for registry timing.
const (
	DefaultSlowNotice     = 15 * time.Second
	DefaultPersistTimeout = 5 * time.Second
)

// ErrRegistryClosed is returned by Dispatch after Close.
var ErrRegistryClosed = errors.New("registry closed")

// Snapshot modes written to the SnapshotStore.
const (
	ModeBot    = "bot"
	ModeAgent  = "agent"
	ModeClosed = "closed"
)

// Receipt describes what Dispatch did with a trigger.
type Receipt struct {
	SessionID string             `json:"sessionId"`
	Kind      domain.TriggerKind `json:"kind"`
	Name      string             `json:"name,omitempty"`
	Created   bool               `json:"created,omitempty"`
	Dropped   bool               `json:"dropped,omitempty"`
	Resynced  bool               `json:"resynced,omitempty"`
}

// SessionInfo is a read-only view of a live session.
type SessionInfo struct {
	ID        string              `json:"id"`
	State     domain.StateValue   `json:"state"`
	Messages  int                 `json:"messages"`
	AgentID   string              `json:"agentId,omitempty"`
	Pending   *runtime.Invocation `json:"pending,omitempty"`
	Deferred  int                 `json:"deferred,omitempty"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
	Context   *domain.Context     `json:"context,omitempty"`
}

// Registry owns the live session actors and routes inbound triggers to them.
type Registry struct {
	machine        *runtime.Machine
	actors         ports.Actors
	mapper         *Mapper
	mapperOpts     []MapperOption
	hub            *stream.Hub
	snapshots      *Manager
	limiter        *RateLimiter
	hooks          domain.LifecycleHooks
	slowAfter      time.Duration
	persistTimeout time.Duration
	logger         *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	sessions map[string]*Actor
	closed   bool
}

// Option configures the Registry.
type Option func(*Registry)

// WithHub shares an output hub with the transport layer.
func WithHub(hub *stream.Hub) Option {
	return func(r *Registry) {
		r.hub = hub
	}
}

// WithMachine overrides the state machine.
func WithMachine(m *runtime.Machine) Option {
	return func(r *Registry) {
		r.machine = m
	}
}

// WithMapperOptions configures the trigger mapper.
func WithMapperOptions(opts ...MapperOption) Option {
	return func(r *Registry) {
		r.mapperOpts = append(r.mapperOpts, opts...)
	}
}

// WithSnapshots persists a compact snapshot after every transition.
func WithSnapshots(m *Manager) Option {
	return func(r *Registry) {
		r.snapshots = m
	}
}

// WithRateLimit limits inbound triggers per session. perSecond <= 0 disables it.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(r *Registry) {
		if perSecond <= 0 {
			r.limiter = nil
			return
		}
		r.limiter = NewRateLimiter(perSecond, burst)
	}
}

// WithHooks registers lifecycle hooks.
func WithHooks(hooks domain.LifecycleHooks) Option {
	return func(r *Registry) {
		r.hooks = hooks
	}
}

// WithSlowNotice sets the delay after which a running dialogue call gets a notice.
// Zero disables the notice.
func WithSlowNotice(d time.Duration) Option {
	return func(r *Registry) {
		r.slowAfter = d
	}
}

// WithLogger sets a structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = logger
	}
}

// NewRegistry creates a registry whose sessions call actors and resolve named
// triggers through wf.
func NewRegistry(actors ports.Actors, wf ports.Workflow, opts ...Option) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		actors:         actors,
		slowAfter:      DefaultSlowNotice,
		persistTimeout: DefaultPersistTimeout,
		logger:         logging.NewNop(),
		ctx:            ctx,
		cancel:         cancel,
		sessions:       make(map[string]*Actor),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.machine == nil {
		r.machine = runtime.NewMachine(runtime.WithLogger(r.logger))
	}
	if r.hub == nil {
		r.hub = stream.NewHub(stream.WithLogger(r.logger))
	}
	r.mapper = NewMapper(wf, append([]MapperOption{WithMapperLogger(r.logger)}, r.mapperOpts...)...)
	return r
}

// Hub returns the output hub.
func (r *Registry) Hub() *stream.Hub {
	return r.hub
}

// Machine returns the state machine shared by all sessions.
func (r *Registry) Machine() *runtime.Machine {
	return r.machine
}

// Snapshots returns the snapshot manager, or nil.
func (r *Registry) Snapshots() *Manager {
	return r.snapshots
}

// Dispatch routes one inbound trigger. Events are queued before Dispatch returns;
// backend-resolved triggers hold their queue slot until the backend answers.
func (r *Registry) Dispatch(ctx context.Context, t domain.Trigger) (Receipt, error) {
	t.SessionID = strings.TrimSpace(t.SessionID)
	if t.SessionID == "" {
		return Receipt{}, fmt.Errorf("%w: missing sessionId", domain.ErrInvalidTrigger)
	}
	rec := Receipt{SessionID: t.SessionID}

	if r.limiter != nil && !r.limiter.Allow(t.SessionID) {
		return rec, fmt.Errorf("session %s: %w", t.SessionID, domain.ErrRateLimited)
	}

	plan, err := r.mapper.Plan(t)
	rec.Kind, rec.Name = plan.Kind, plan.Name
	if err != nil {
		r.logger.Warn("trigger dropped", "session_id", t.SessionID, "trigger", plan.Name, "err", err)
		rec.Dropped = true
		return rec, err
	}

	if plan.Quiescent {
		a, ok := r.Get(t.SessionID)
		if !ok {
			r.logger.Debug("quiescent trigger dropped", "session_id", t.SessionID, "trigger", plan.Name)
			rec.Dropped = true
			return rec, nil
		}
		a.Resync()
		rec.Resynced = true
		return rec, nil
	}

	for {
		a, created, err := r.getOrCreate(ctx, t)
		if err != nil {
			return rec, err
		}
		rec.Created = rec.Created || created

		var ok bool
		if plan.Resolve != nil {
			ok = a.EnqueueFuture(plan.Resolve)
		} else {
			ok = a.Enqueue(plan.Events...)
		}
		if ok {
			return rec, nil
		}
		// The actor closed between lookup and enqueue; revive it.
		r.remove(a)
	}
}

// Get returns the live actor for a session.
func (r *Registry) Get(sessionID string) (*Actor, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.sessions[sessionID]
	if !ok || a.State().IsFinal() {
		return nil, false
	}
	return a, true
}

// Inspect describes a live session.
func (r *Registry) Inspect(sessionID string) (SessionInfo, error) {
	a, ok := r.Get(sessionID)
	if !ok {
		return SessionInfo{}, fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	info := describe(a)
	info.Context = a.Snapshot().Context
	return info, nil
}

// List describes all live sessions ordered by id.
func (r *Registry) List() []SessionInfo {
	r.mu.Lock()
	ids := slices.Sorted(maps.Keys(r.sessions))
	actors := make([]*Actor, 0, len(ids))
	for _, id := range ids {
		actors = append(actors, r.sessions[id])
	}
	r.mu.Unlock()

	out := make([]SessionInfo, 0, len(actors))
	for _, a := range actors {
		out = append(out, describe(a))
	}
	return out
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Remove stops a session and releases its stream.
func (r *Registry) Remove(sessionID string) error {
	r.mu.Lock()
	a, ok := r.sessions[sessionID]
	r.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", sessionID, domain.ErrSessionNotFound)
	}
	a.stop()
	r.remove(a)
	return nil
}

// Close stops every session and waits for their loops to exit or ctx to end.
// In-flight external calls are canceled.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	actors := slices.Collect(maps.Values(r.sessions))
	r.sessions = make(map[string]*Actor)
	r.mu.Unlock()

	r.cancel()
	for _, a := range actors {
		a.stop()
	}
	for _, a := range actors {
		select {
		case <-a.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.hub.Close()
	return nil
}

func describe(a *Actor) SessionInfo {
	snap := a.Snapshot()
	created, updated := a.Times()
	return SessionInfo{
		ID:        a.ID(),
		State:     snap.Value,
		Messages:  len(snap.Context.Messages),
		AgentID:   snap.Context.AgentID,
		Pending:   snap.Pending,
		Deferred:  len(snap.Deferred),
		CreatedAt: created,
		UpdatedAt: updated,
	}
}

// getOrCreate returns the live actor or binds a fresh one, resetting the stream.
// A session whose closing step is still settling is waited for, so triggers queued
// behind the close are revived ahead of this one.
func (r *Registry) getOrCreate(ctx context.Context, t domain.Trigger) (*Actor, bool, error) {
	for {
		r.mu.Lock()
		if r.closed {
			r.mu.Unlock()
			return nil, false, ErrRegistryClosed
		}
		cur, ok := r.sessions[t.SessionID]
		if !ok {
			a := r.bindLocked(t.SessionID, t.UserID)
			r.mu.Unlock()
			return a, true, nil
		}
		r.mu.Unlock()
		if !cur.State().IsFinal() {
			return cur, false, nil
		}

		select {
		case <-cur.Done():
		case <-ctx.Done():
			return nil, false, ctx.Err()
		}
		r.remove(cur)
	}
}

// bindLocked registers and starts a fresh actor. r.mu must be held.
func (r *Registry) bindLocked(sessionID, userID string) *Actor {
	a := r.newActor(sessionID, userID)
	r.sessions[sessionID] = a
	a.sink.Reset()
	snap := a.Snapshot()
	a.sink.PublishSnapshot(snap.Value, snap.Context)
	a.start()

	r.logger.Info("session started", "session_id", sessionID)
	if r.hooks.OnSessionStart != nil {
		r.hooks.OnSessionStart(r.ctx, sessionID)
	}
	return a
}

func (r *Registry) newActor(sessionID, userID string) *Actor {
	ctx, cancel := context.WithCancel(r.ctx)
	now := time.Now()
	return &Actor{
		id:        sessionID,
		machine:   r.machine,
		actors:    r.actors,
		sink:      r.hub.Sink(sessionID),
		validate:  r.mapper.ValidateEmail,
		hooks:     r.hooks,
		slowAfter: r.slowAfter,
		logger:    r.logger.With("component", "session"),
		observe:   r.observe,
		base:      r.ctx,
		ctx:       ctx,
		cancel:    cancel,
		mb:        newMailbox(),
		done:      make(chan struct{}),
		snap:      r.machine.Initial(sessionID, userID),
		createdAt: now,
		updatedAt: now,
	}
}

// observe runs on the actor goroutine after each published transition.
func (r *Registry) observe(a *Actor, from domain.StateValue, ev domain.Event, snap runtime.Snapshot) {
	r.logger.Debug("transition",
		"session_id", a.id,
		"from", from,
		"to", snap.Value,
		"event", ev.Type)

	r.persist(a.id, snap)

	if snap.Value.IsFinal() {
		r.logger.Info("session closed", "session_id", a.id)
		r.remove(a)
	}
}

// remove unbinds the actor if it is still the registered one. Its end hook
// fires either way.
func (r *Registry) remove(a *Actor) {
	r.mu.Lock()
	r.detachLocked(a)
	r.mu.Unlock()
	r.ended(a)
}

// detachLocked closes a's queue and unbinds it if it is still registered. When a
// reached its final state, the inbound slots queued behind the closing event move,
// in order, to a fresh actor bound in its place; otherwise the session's stream and
// limiter state are freed. r.mu must be held.
func (r *Registry) detachLocked(a *Actor) {
	queued := a.mb.drain()
	if cur, ok := r.sessions[a.id]; !ok || cur != a {
		return
	}
	delete(r.sessions, a.id)

	var carried []*slot
	if !r.closed && a.State().IsFinal() {
		for _, s := range queued {
			if s.inbound {
				carried = append(carried, s)
			}
		}
	}
	if len(carried) == 0 {
		r.hub.Release(a.id)
		if r.limiter != nil {
			r.limiter.Forget(a.id)
		}
		return
	}

	next := r.bindLocked(a.id, a.Snapshot().Context.UserID)
	for _, s := range carried {
		next.mb.push(s)
	}
	r.logger.Info("session revived by queued triggers", "session_id", a.id, "triggers", len(carried))
}

// ended fires the end hook once per actor, even when a successor already took
// the session over.
func (r *Registry) ended(a *Actor) {
	a.ended.Do(func() {
		if r.hooks.OnSessionEnd != nil {
			r.hooks.OnSessionEnd(r.ctx, a.id)
		}
	})
}

func (r *Registry) persist(sessionID string, snap runtime.Snapshot) {
	if r.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(r.ctx, r.persistTimeout)
	defer cancel()

	c := snap.Context
	_, err := r.snapshots.Merge(ctx, sessionID, func(s *domain.SessionSnapshot) {
		s.Mode = ModeOf(snap.Value)
		s.Metadata["state"] = string(snap.Value)
		s.Metadata["messageCount"] = len(c.Messages)
		s.Metadata["updatedAt"] = time.Now().UTC().Format(time.RFC3339)
		setOrDelete(s.Metadata, "agentId", c.AgentID)
		setOrDelete(s.Metadata, "email", c.Email)
		setOrDelete(s.Metadata, "userId", c.UserID)
		setOrDelete(s.Metadata, "error", c.Error)
	})
	if err != nil {
		r.logger.Warn("snapshot persist failed", "session_id", sessionID, "err", err)
	}
}

func setOrDelete(m map[string]any, key, value string) {
	if value == "" {
		delete(m, key)
		return
	}
	m[key] = value
}

// ModeOf maps a state to the coarse snapshot mode.
func ModeOf(v domain.StateValue) string {
	switch {
	case v.IsFinal():
		return ModeClosed
	case v.Matches(domain.StateAgentActive), v == domain.StateHandover:
		return ModeAgent
	}
	return ModeBot
}

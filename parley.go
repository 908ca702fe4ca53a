package parley

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/actors"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/aretw0/parley/pkg/persistence/middleware"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
	"github.com/aretw0/parley/pkg/stream"
)

// Parley is the high-level entry point: a session registry wired to a workflow
// backend, an optional snapshot store and optional metrics.
type Parley struct {
	registry *session.Registry
	metrics  *observability.Metrics
	store    ports.SnapshotStore
	logger   *slog.Logger
	closers  []func() error

	actors      ports.Actors
	actorOpts   []actors.Option
	baseStore   ports.SnapshotStore
	middlewares []middleware.Middleware
	locker      ports.DistributedLocker
	lockTTL     time.Duration
	messages    runtime.Messages
	hooks       domain.LifecycleHooks
	hubOpts     []stream.Option
	sessionOpts []session.Option
}

// Option defines a functional option for configuring Parley.
type Option func(*Parley)

// WithLogger sets a custom structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Parley) {
		p.logger = logger
	}
}

// WithActors replaces the workflow-backed actor adapter.
func WithActors(a ports.Actors) Option {
	return func(p *Parley) {
		p.actors = a
	}
}

// WithActorOptions configures the default actor adapter (endpoints, timeouts, fallback).
func WithActorOptions(opts ...actors.Option) Option {
	return func(p *Parley) {
		p.actorOpts = append(p.actorOpts, opts...)
	}
}

// WithSnapshotStore persists session snapshots to store, wrapped by the given
// middlewares (the first one is outermost).
func WithSnapshotStore(store ports.SnapshotStore, mws ...middleware.Middleware) Option {
	return func(p *Parley) {
		p.baseStore = store
		p.middlewares = append(p.middlewares, mws...)
	}
}

// WithLocker serializes snapshot merges across replicas.
func WithLocker(locker ports.DistributedLocker, ttl time.Duration) Option {
	return func(p *Parley) {
		p.locker = locker
		p.lockTTL = ttl
	}
}

// WithMetrics records transitions, invocations and stream drops.
func WithMetrics(m *observability.Metrics) Option {
	return func(p *Parley) {
		p.metrics = m
	}
}

// WithLifecycleHooks registers observability hooks. They run after the metrics hooks.
func WithLifecycleHooks(hooks domain.LifecycleHooks) Option {
	return func(p *Parley) {
		p.hooks = hooks
	}
}

// WithMessages overrides the texts the machine appends itself. Empty values keep defaults.
func WithMessages(fallback, slowNotice, invalidEmail string) Option {
	return func(p *Parley) {
		p.messages = runtime.Messages{
			Fallback:     fallback,
			SlowNotice:   slowNotice,
			InvalidEmail: invalidEmail,
		}
	}
}

// WithStreamOptions configures the output stream hub.
func WithStreamOptions(opts ...stream.Option) Option {
	return func(p *Parley) {
		p.hubOpts = append(p.hubOpts, opts...)
	}
}

// WithSessionOptions passes options through to the session registry.
func WithSessionOptions(opts ...session.Option) Option {
	return func(p *Parley) {
		p.sessionOpts = append(p.sessionOpts, opts...)
	}
}

// WithCloser registers a function run by Close after the registry stopped
// (e.g. closing a Redis client).
func WithCloser(fn func() error) Option {
	return func(p *Parley) {
		p.closers = append(p.closers, fn)
	}
}

// New wires a session registry on top of the workflow backend.
func New(wf ports.Workflow, opts ...Option) (*Parley, error) {
	if wf == nil {
		return nil, errors.New("parley: workflow backend is required")
	}
	p := &Parley{}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.NewNop()
	}

	if p.actors == nil {
		p.actors = actors.New(wf, append([]actors.Option{actors.WithLogger(p.logger)}, p.actorOpts...)...)
	}

	hubOpts := []stream.Option{stream.WithLogger(p.logger)}
	hooks := p.hooks
	if p.metrics != nil {
		hubOpts = append(hubOpts, stream.WithDropHook(p.metrics.DropHook))
		hooks = chainHooks(p.metrics.Hooks(), p.hooks)
	}
	hubOpts = append(hubOpts, p.hubOpts...)

	machine := runtime.NewMachine(
		runtime.WithMessages(p.messages),
		runtime.WithLogger(p.logger),
	)

	regOpts := []session.Option{
		session.WithMachine(machine),
		session.WithHub(stream.NewHub(hubOpts...)),
		session.WithHooks(hooks),
		session.WithLogger(p.logger),
	}

	if p.baseStore != nil {
		p.store = middleware.Chain(p.baseStore, p.middlewares...)
		mgrOpts := []session.ManagerOption{session.WithManagerLogger(p.logger)}
		if p.locker != nil {
			mgrOpts = append(mgrOpts, session.WithLocker(p.locker))
			if p.lockTTL > 0 {
				mgrOpts = append(mgrOpts, session.WithLockTTL(p.lockTTL))
			}
		}
		regOpts = append(regOpts, session.WithSnapshots(session.NewManager(p.store, mgrOpts...)))
	}

	p.registry = session.NewRegistry(p.actors, wf, append(regOpts, p.sessionOpts...)...)
	return p, nil
}

// Registry returns the session registry.
func (p *Parley) Registry() *session.Registry {
	return p.registry
}

// Metrics returns the metrics collector, or nil.
func (p *Parley) Metrics() *observability.Metrics {
	return p.metrics
}

// Store returns the snapshot store with its middlewares applied, or nil.
func (p *Parley) Store() ports.SnapshotStore {
	return p.store
}

// Dispatch routes an inbound trigger to its session.
func (p *Parley) Dispatch(ctx context.Context, t domain.Trigger) (session.Receipt, error) {
	return p.registry.Dispatch(ctx, t)
}

// Inspect describes a live session.
func (p *Parley) Inspect(sessionID string) (session.SessionInfo, error) {
	return p.registry.Inspect(sessionID)
}

// List describes all live sessions.
func (p *Parley) List() []session.SessionInfo {
	return p.registry.List()
}

// Remove stops a live session.
func (p *Parley) Remove(sessionID string) error {
	return p.registry.Remove(sessionID)
}

// Hub returns the output stream hub.
func (p *Parley) Hub() *stream.Hub {
	return p.registry.Hub()
}

// Chart returns the introspectable statechart.
func (p *Parley) Chart() runtime.Chart {
	return p.registry.Machine().Chart()
}

// Close stops every session, then runs the registered closers.
func (p *Parley) Close(ctx context.Context) error {
	errs := []error{p.registry.Close(ctx)}
	for _, fn := range p.closers {
		errs = append(errs, fn())
	}
	return errors.Join(errs...)
}

// chainHooks runs a before b for every hook either defines.
func chainHooks(a, b domain.LifecycleHooks) domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition:   chain2(a.OnTransition, b.OnTransition),
		OnInvoke:       chain2(a.OnInvoke, b.OnInvoke),
		OnInvokeReturn: chain2(a.OnInvokeReturn, b.OnInvokeReturn),
		OnSessionStart: chain2(a.OnSessionStart, b.OnSessionStart),
		OnSessionEnd:   chain2(a.OnSessionEnd, b.OnSessionEnd),
	}
}

func chain2[T any](a, b func(context.Context, T)) func(context.Context, T) {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return func(ctx context.Context, v T) {
		a(ctx, v)
		b(ctx, v)
	}
}

package session

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/actors"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/stream"
)

// observer is told about every applied transition, on the actor's goroutine.
type observer func(a *Actor, from domain.StateValue, ev domain.Event, snap runtime.Snapshot)

// Actor owns one session: its machine snapshot, its serial event queue and the
// external calls it has in flight. All transitions run on the actor's goroutine.
type Actor struct {
	id        string
	machine   *runtime.Machine
	actors    ports.Actors
	sink      *stream.Sink
	validate  func(ctx context.Context, sessionID, email string) []domain.Event
	hooks     domain.LifecycleHooks
	slowAfter time.Duration
	logger    *slog.Logger
	observe   observer

	// base outlives the actor; in-flight calls are only canceled on shutdown.
	base   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	mb     *mailbox
	done   chan struct{}
	ended  sync.Once

	mu        sync.RWMutex
	snap      runtime.Snapshot
	createdAt time.Time
	updatedAt time.Time
}

func (a *Actor) start() {
	go a.run()
}

// ID returns the session id.
func (a *Actor) ID() string {
	return a.id
}

// Snapshot returns the current machine snapshot. Its context must not be mutated.
func (a *Actor) Snapshot() runtime.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snap
}

// State returns the current state value.
func (a *Actor) State() domain.StateValue {
	return a.Snapshot().Value
}

// Sink returns the session's outbound stream.
func (a *Actor) Sink() *stream.Sink {
	return a.sink
}

// Done is closed when the actor's loop has exited.
func (a *Actor) Done() <-chan struct{} {
	return a.done
}

// Times returns when the actor was created and last changed.
func (a *Actor) Times() (created, updated time.Time) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.createdAt, a.updatedAt
}

// Pending returns the number of queued slots.
func (a *Actor) Pending() int {
	return a.mb.len()
}

// Enqueue appends events as one atomic slot. It reports false if the actor has stopped.
func (a *Actor) Enqueue(events ...domain.Event) bool {
	if len(events) == 0 {
		return true
	}
	s := readySlot(events)
	s.inbound = true
	return a.mb.push(s)
}

// EnqueueFuture reserves the next queue slot now and fills it with the events
// resolve returns. resolve runs concurrently with the actor.
func (a *Actor) EnqueueFuture(resolve func(ctx context.Context) []domain.Event) bool {
	s := pendingSlot()
	s.inbound = true
	if !a.mb.push(s) {
		return false
	}
	go func() {
		var events []domain.Event
		defer func() {
			if r := recover(); r != nil {
				a.logger.Error("panic while resolving trigger", "session_id", a.id, "panic", r)
				events = []domain.Event{{Type: domain.EventSystemError, Reason: fmt.Sprint(r)}}
			}
			s.fill(events)
		}()
		events = resolve(a.base)
	}()
	return true
}

// Resync re-publishes the current state without changing anything.
func (a *Actor) Resync() {
	snap := a.Snapshot()
	a.sink.PublishState(snap.Value, snap.Context)
}

// stop ends the loop without waiting for it.
func (a *Actor) stop() {
	a.mb.close()
	a.cancel()
}

func (a *Actor) run() {
	defer close(a.done)
	for {
		s, ok := a.mb.pop(a.ctx)
		if !ok {
			return
		}
		select {
		case <-s.ready:
		case <-a.ctx.Done():
			return
		}
		for _, ev := range s.events {
			a.apply(ev)
		}
		if a.State().IsFinal() {
			return
		}
	}
}

// apply runs one event and, right after it, any deferred events it released.
func (a *Actor) apply(ev domain.Event) {
	queue := []domain.Event{ev}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]
		replay, ok := a.step(next)
		if !ok {
			return
		}
		queue = append(replay, queue...)
	}
}

func (a *Actor) step(ev domain.Event) (replay []domain.Event, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("panic while applying event",
				"session_id", a.id,
				"event", ev.Type,
				"panic", r,
				"stack", string(debug.Stack()))
			if ev.Type != domain.EventSystemError {
				a.mb.push(readySlot([]domain.Event{{Type: domain.EventSystemError, Reason: fmt.Sprint(r)}}))
			}
			// Deferred events already released by this step are still applied.
			ok = replay != nil
		}
	}()

	prev := a.Snapshot()
	res := a.machine.Step(prev, ev)
	if res.Ignored {
		a.logger.Debug("event ignored", "session_id", a.id, "state", prev.Value, "event", ev.Type)
		return nil, true
	}

	now := time.Now()
	a.mu.Lock()
	a.snap = res.Snapshot
	a.updatedAt = now
	a.mu.Unlock()
	replay = res.Replay

	if res.Deferred {
		a.logger.Debug("event deferred", "session_id", a.id, "state", prev.Value, "event", ev.Type)
		return nil, true
	}

	a.sink.PublishSnapshot(res.Snapshot.Value, res.Snapshot.Context)
	for _, eff := range res.Effects {
		a.launch(eff)
	}

	if a.hooks.OnTransition != nil {
		a.hooks.OnTransition(a.base, &domain.TransitionEvent{
			Timestamp: now,
			SessionID: a.id,
			From:      prev.Value,
			To:        res.Snapshot.Value,
			Event:     ev.Type,
		})
	}
	if a.observe != nil {
		a.observe(a, prev.Value, ev, res.Snapshot)
	}
	return replay, true
}

func (a *Actor) launch(eff runtime.Effect) {
	in := eff.Input
	switch eff.Actor {
	case domain.ActorDialogue:
		a.invoke(eff, true, func(ctx context.Context) (any, error) {
			return a.actors.RunDialogueTurn(ctx, a.id, in.Message)
		})
	case domain.ActorHandover:
		a.invoke(eff, false, func(ctx context.Context) (any, error) {
			return a.actors.ConnectLiveAgent(ctx, a.id)
		})
	case domain.ActorTranscript:
		a.invoke(eff, false, func(ctx context.Context) (any, error) {
			return nil, a.actors.SendTranscript(ctx, a.id, in.Email)
		})
	case domain.ActorRelay:
		go func() {
			start := a.invokeStarted(eff.Actor)
			err := a.actors.RelayToLiveAgent(a.base, a.id, in.AgentID, in.Message)
			a.invokeReturned(eff.Actor, start, err)
			if err != nil {
				a.logger.Warn("relay to live agent failed", "session_id", a.id, "agent_id", in.AgentID, "error", err)
			}
		}()
	case domain.ActorEmailCheck:
		go func() {
			start := a.invokeStarted(eff.Actor)
			events := a.validate(a.base, a.id, in.Email)
			a.invokeReturned(eff.Actor, start, nil)
			a.mb.push(readySlot(events))
		}()
	default:
		a.logger.Error("unknown effect", "session_id", a.id, "actor", eff.Actor)
	}
}

// invoke runs an external call whose completion re-enters the queue as
// INVOKE_DONE or INVOKE_ERROR. With notice set, one INVOKE_SLOW is queued if the
// call outlives slowAfter; the call itself keeps running.
func (a *Actor) invoke(eff runtime.Effect, notice bool, call func(context.Context) (any, error)) {
	var timer *time.Timer
	if notice && a.slowAfter > 0 {
		timer = time.AfterFunc(a.slowAfter, func() {
			a.mb.push(readySlot([]domain.Event{{
				Type:     domain.EventInvokeSlow,
				Actor:    eff.Actor,
				InvokeID: eff.InvokeID,
			}}))
		})
	}

	go func() {
		start := a.invokeStarted(eff.Actor)
		out, err := call(a.base)
		if timer != nil {
			timer.Stop()
		}
		a.invokeReturned(eff.Actor, start, err)

		ev := domain.Event{Type: domain.EventInvokeDone, Actor: eff.Actor, InvokeID: eff.InvokeID, Output: out}
		if err != nil {
			ev = domain.Event{
				Type:     domain.EventInvokeError,
				Actor:    eff.Actor,
				InvokeID: eff.InvokeID,
				Reason:   err.Error(),
				Content:  actors.FallbackOf(err),
			}
		}
		if !a.mb.push(readySlot([]domain.Event{ev})) {
			a.logger.Debug("completion after session ended", "session_id", a.id, "actor", eff.Actor)
		}
	}()
}

func (a *Actor) invokeStarted(actor domain.ActorName) time.Time {
	start := time.Now()
	if a.hooks.OnInvoke != nil {
		a.hooks.OnInvoke(a.base, &domain.InvokeEvent{Timestamp: start, SessionID: a.id, Actor: actor})
	}
	return start
}

func (a *Actor) invokeReturned(actor domain.ActorName, start time.Time, err error) {
	if a.hooks.OnInvokeReturn != nil {
		now := time.Now()
		a.hooks.OnInvokeReturn(a.base, &domain.InvokeEvent{
			Timestamp: now,
			SessionID: a.id,
			Actor:     actor,
			Duration:  now.Sub(start),
			IsError:   err != nil,
		})
	}
}

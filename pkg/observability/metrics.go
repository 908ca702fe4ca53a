package observability

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "parley"

// Metrics holds the session collectors. Each Metrics registers into its own registry
// unless one is supplied.
type Metrics struct {
	registry *prometheus.Registry

	Transitions    *prometheus.CounterVec
	Invocations    *prometheus.CounterVec
	InvokeDuration *prometheus.HistogramVec
	ActiveSessions prometheus.Gauge
	Sessions       prometheus.Counter
	Triggers       *prometheus.CounterVec
	StreamDrops    prometheus.Counter

	logger *slog.Logger
}

// Option configures Metrics.
type Option func(*Metrics)

// WithRegistry registers the collectors into an existing registry.
func WithRegistry(reg *prometheus.Registry) Option {
	return func(m *Metrics) {
		m.registry = reg
	}
}

// WithLogger logs every hook at debug level.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Metrics) {
		m.logger = logger
	}
}

// NewMetrics creates and registers the collectors.
func NewMetrics(opts ...Option) *Metrics {
	m := &Metrics{
		logger: logging.NewNop(),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "State machine transitions by target state and event.",
			},
			[]string{"to", "event"},
		),
		Invocations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invocations_total",
				Help:      "External actor invocations by actor and outcome.",
			},
			[]string{"actor", "status"},
		),
		InvokeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "invocation_duration_seconds",
				Help:      "Duration of external actor invocations.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"actor"},
		),
		ActiveSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Sessions with a live actor.",
		}),
		Sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_started_total",
			Help:      "Session actors created, including revivals.",
		}),
		Triggers: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "triggers_total",
				Help:      "Inbound triggers by kind and outcome.",
			},
			[]string{"kind", "outcome"},
		),
		StreamDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_dropped_events_total",
			Help:      "Outbound events dropped for slow subscribers.",
		}),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.registry.MustRegister(
		m.Transitions,
		m.Invocations,
		m.InvokeDuration,
		m.ActiveSessions,
		m.Sessions,
		m.Triggers,
		m.StreamDrops,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Hooks returns lifecycle hooks feeding the collectors.
func (m *Metrics) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnTransition: func(ctx context.Context, e *domain.TransitionEvent) {
			m.logger.Debug("transition", "session_id", e.SessionID, "from", e.From, "to", e.To, "event", e.Event)
			m.Transitions.WithLabelValues(string(e.To), string(e.Event)).Inc()
		},
		OnInvoke: func(ctx context.Context, e *domain.InvokeEvent) {
			m.logger.Debug("invoke", "session_id", e.SessionID, "actor", e.Actor)
		},
		OnInvokeReturn: func(ctx context.Context, e *domain.InvokeEvent) {
			m.logger.Debug("invoke_return",
				"session_id", e.SessionID,
				"actor", e.Actor,
				"duration", e.Duration,
				"is_error", e.IsError,
			)
			status := "ok"
			if e.IsError {
				status = "error"
			}
			m.Invocations.WithLabelValues(string(e.Actor), status).Inc()
			m.InvokeDuration.WithLabelValues(string(e.Actor)).Observe(e.Duration.Seconds())
		},
		OnSessionStart: func(ctx context.Context, sessionID string) {
			m.Sessions.Inc()
			m.ActiveSessions.Inc()
		},
		OnSessionEnd: func(ctx context.Context, sessionID string) {
			m.ActiveSessions.Dec()
		},
	}
}

// RecordTrigger counts one inbound trigger.
func (m *Metrics) RecordTrigger(kind domain.TriggerKind, outcome string) {
	if kind == "" {
		kind = "invalid"
	}
	m.Triggers.WithLabelValues(string(kind), outcome).Inc()
}

// DropHook counts stream events dropped for slow subscribers.
func (m *Metrics) DropHook(sessionID string) {
	m.StreamDrops.Inc()
}

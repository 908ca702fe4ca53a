package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aretw0/parley"
	"github.com/aretw0/parley/internal/logging"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/observability"
	"github.com/aretw0/parley/pkg/session"
	"github.com/aretw0/parley/pkg/stream"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// DefaultKeepAlive is the interval between SSE comment frames on an idle stream.
const DefaultKeepAlive = 15 * time.Second

// maxTriggerBytes caps the size of an inbound trigger body.
const maxTriggerBytes = 1 << 20

// Sessions is the part of the session registry the transport needs.
type Sessions interface {
	Dispatch(ctx context.Context, t domain.Trigger) (session.Receipt, error)
	Inspect(sessionID string) (session.SessionInfo, error)
	List() []session.SessionInfo
	Remove(sessionID string) error
	Hub() *stream.Hub
}

// Server exposes the session registry over HTTP and SSE.
type Server struct {
	Sessions  Sessions
	Metrics   *observability.Metrics
	KeepAlive time.Duration
	Logger    *slog.Logger
}

// Option configures the Server.
type Option func(*Server)

// WithMetrics records trigger outcomes and mounts the metrics handler at path.
func WithMetrics(m *observability.Metrics) Option {
	return func(s *Server) {
		s.Metrics = m
	}
}

// WithKeepAlive sets the SSE keep-alive interval.
func WithKeepAlive(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.KeepAlive = d
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.Logger = logger
	}
}

// NewServer creates a server over the given sessions.
func NewServer(sessions Sessions, opts ...Option) *Server {
	s := &Server{
		Sessions:  sessions,
		KeepAlive: DefaultKeepAlive,
		Logger:    logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.Logger = s.Logger.With("component", "http")
	return s
}

// NewHandler creates the HTTP handler. metricsPath is ignored when no metrics are set.
func NewHandler(sessions Sessions, metricsPath string, opts ...Option) http.Handler {
	return NewServer(sessions, opts...).Routes(metricsPath)
}

// Routes builds the chi router.
func (s *Server) Routes(metricsPath string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", s.GetHealth)
	r.Get("/info", s.GetInfo)
	if s.Metrics != nil {
		if metricsPath == "" {
			metricsPath = "/metrics"
		}
		r.Method(http.MethodGet, metricsPath, s.Metrics.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/triggers", s.PostTrigger)
		r.Get("/sessions", s.ListSessions)
		r.Get("/sessions/{id}", s.GetSession)
		r.Delete("/sessions/{id}", s.DeleteSession)
		r.Get("/sessions/{id}/events", s.SubscribeEvents)
	})
	return r
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Last-Event-ID")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PostTrigger handles POST /v1/triggers.
func (s *Server) PostTrigger(w http.ResponseWriter, r *http.Request) {
	var t domain.Trigger
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTriggerBytes)).Decode(&t); err != nil {
		s.recordTrigger("", "rejected")
		writeError(w, http.StatusBadRequest, "invalid request body")
		s.Logger.Warn("trigger: invalid request body", "err", err)
		return
	}

	rec, err := s.Sessions.Dispatch(r.Context(), t)
	if err != nil {
		status := statusOf(err)
		s.recordTrigger(rec.Kind, outcomeOf(status))
		if status >= http.StatusInternalServerError {
			s.Logger.Error("trigger dispatch failed", "session_id", t.SessionID, "err", err)
		} else {
			s.Logger.Debug("trigger rejected", "session_id", t.SessionID, "status", status, "err", err)
		}
		writeError(w, status, err.Error())
		return
	}

	switch {
	case rec.Dropped:
		s.recordTrigger(rec.Kind, "dropped")
	case rec.Resynced:
		s.recordTrigger(rec.Kind, "resynced")
	default:
		s.recordTrigger(rec.Kind, "queued")
	}
	writeJSON(w, http.StatusAccepted, rec)
}

// ListSessions handles GET /v1/sessions.
func (s *Server) ListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Sessions.List())
}

// GetSession handles GET /v1/sessions/{id}.
func (s *Server) GetSession(w http.ResponseWriter, r *http.Request) {
	info, err := s.Sessions.Inspect(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// DeleteSession handles DELETE /v1/sessions/{id}.
func (s *Server) DeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.Sessions.Remove(id); err != nil {
		writeError(w, statusOf(err), err.Error())
		return
	}
	s.Logger.Info("session removed", "session_id", id)
	w.WriteHeader(http.StatusNoContent)
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GetInfo handles GET /info.
func (s *Server) GetInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"app":      "parley",
		"version":  strings.TrimSpace(parley.Version),
		"sessions": len(s.Sessions.List()),
	})
}

// SubscribeEvents handles GET /v1/sessions/{id}/events (SSE).
// A subscriber may connect before the session's first trigger; it then receives
// the session's events once it starts.
func (s *Server) SubscribeEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		s.Logger.Error("SubscribeEvents: streaming not supported")
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "id"))
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, "missing session id")
		return
	}

	hub := s.Sessions.Hub()
	sink := hub.Sink(sessionID)
	events, _ := sink.Subscribe(r.Context())
	if _, err := s.Sessions.Inspect(sessionID); errors.Is(err, domain.ErrSessionNotFound) {
		// No publisher yet: let the sink go with its last subscriber unless a session claims it.
		hub.Release(sessionID)
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	s.Logger.Info("SSE: subscribed", "session_id", sessionID)
	fmt.Fprintf(w, "event: ping\ndata: connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(s.KeepAlive)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			s.Logger.Info("SSE: client disconnected", "session_id", sessionID)
			return
		case <-ticker.C:
			fmt.Fprintf(w, ": keepalive\n\n")
			flusher.Flush()
		case ev, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				s.Logger.Error("SSE: encode failed", "session_id", sessionID, "kind", ev.Kind, "err", err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (s *Server) recordTrigger(kind domain.TriggerKind, outcome string) {
	if s.Metrics != nil {
		s.Metrics.RecordTrigger(kind, outcome)
	}
}

// statusOf maps domain sentinel errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidTrigger):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrSessionNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrUnknownTrigger):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrSessionClosed):
		return http.StatusGone
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, session.ErrRegistryClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func outcomeOf(status int) string {
	switch status {
	case http.StatusTooManyRequests:
		return "rate_limited"
	case http.StatusUnprocessableEntity:
		return "unknown"
	case http.StatusServiceUnavailable, http.StatusInternalServerError:
		return "error"
	}
	return "rejected"
}

type errorBody struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("response encode failed", "err", err)
	}
}

package mcp

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
	"github.com/aretw0/parley/internal/presentation/graph"
	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Resource URIs exposed by the server.
const (
	StatechartURI        = "parley://statechart"
	StatechartMermaidURI = "parley://statechart/mermaid"
)

// Sessions is the part of the session registry exposed as tools.
type Sessions interface {
	Dispatch(ctx context.Context, t domain.Trigger) (session.Receipt, error)
	Inspect(sessionID string) (session.SessionInfo, error)
	List() []session.SessionInfo
}

// SessionList wraps list_sessions output; structured tool output must be an object.
type SessionList struct {
	Sessions []session.SessionInfo `json:"sessions" jsonschema_description:"Live sessions ordered by id"`
}

// Server exposes the session registry as an MCP server.
type Server struct {
	sessions  Sessions
	chart     runtime.Chart
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// Option configures the Server.
type Option func(*Server)

// WithLogger sets the server logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new MCP Server instance.
func NewServer(sessions Sessions, chart runtime.Chart, opts ...Option) *Server {
	s := &Server{
		sessions:  sessions,
		chart:     chart,
		logger:    logging.NewNop(),
		mcpServer: server.NewMCPServer("parley-mcp", strings.TrimSpace(parley.Version)),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "mcp")
	s.registerTools()
	s.registerResources()
	return s
}

// MCPServer returns the underlying mcp-go server.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// ServeStdio starts the server on Stdin/Stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcpServer)
}

// ServeSSE serves MCP over SSE on addr until ctx is done.
func (s *Server) ServeSSE(ctx context.Context, addr, baseURL string) error {
	sseServer := server.NewSSEServer(s.mcpServer, server.WithBaseURL(baseURL))

	mux := http.NewServeMux()
	mux.Handle("/sse", corsMiddleware(sseServer.SSEHandler()))
	mux.Handle("/message", corsMiddleware(sseServer.MessageHandler()))

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("MCP server listening (SSE)", "address", addr)
		serverErrors <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		s.logger.Info("MCP server shutting down")
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("could not stop server gracefully: %w", err)
		}
		return nil
	}
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Requested-With")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) registerTools() {
	sendTool := mcp.NewTool("send_trigger",
		mcp.WithDescription("Send an inbound trigger to a chat session. A message wrapped as __name__ is a named system trigger."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id; the session is created on first use")),
		mcp.WithString("message", mcp.Description("User message or __name__ trigger")),
		mcp.WithString("type", mcp.Description("Explicit trigger type, e.g. agentMessage, survey or endChat (optional)")),
		mcp.WithString("email", mcp.Description("Email address for transcript triggers (optional)")),
		mcp.WithString("agent_id", mcp.Description("Live agent id for agent triggers (optional)")),
		mcp.WithString("data", mcp.Description("JSON payload forwarded with the trigger (optional)")),
		mcp.WithOutputSchema[session.Receipt](),
	)
	s.mcpServer.AddTool(sendTool, mcp.NewStructuredToolHandler(s.handleSendTrigger))

	getTool := mcp.NewTool("get_session",
		mcp.WithDescription("Describe a live session: state, messages and pending invocation."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id")),
		mcp.WithOutputSchema[session.SessionInfo](),
	)
	s.mcpServer.AddTool(getTool, mcp.NewStructuredToolHandler(s.handleGetSession))

	listTool := mcp.NewTool("list_sessions",
		mcp.WithDescription("List live sessions."),
		mcp.WithOutputSchema[SessionList](),
	)
	s.mcpServer.AddTool(listTool, mcp.NewStructuredToolHandler(s.handleListSessions))
}

func (s *Server) handleSendTrigger(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (session.Receipt, error) {
	t := domain.Trigger{}
	t.SessionID, _ = args["session_id"].(string)
	t.Message, _ = args["message"].(string)
	t.Type, _ = args["type"].(string)
	t.Email, _ = args["email"].(string)
	t.AgentID, _ = args["agent_id"].(string)

	if raw, ok := args["data"].(string); ok && raw != "" {
		var data any
		if err := json.Unmarshal([]byte(raw), &data); err != nil {
			return session.Receipt{}, fmt.Errorf("data is not valid JSON: %w", err)
		}
		t.Data = data
	}

	rec, err := s.sessions.Dispatch(ctx, t)
	if err != nil {
		s.logger.Warn("send_trigger rejected", "session_id", t.SessionID, "err", err)
		return rec, fmt.Errorf("send_trigger: %w", err)
	}
	return rec, nil
}

func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (session.SessionInfo, error) {
	id, _ := args["session_id"].(string)
	info, err := s.sessions.Inspect(strings.TrimSpace(id))
	if err != nil {
		return session.SessionInfo{}, fmt.Errorf("get_session: %w", err)
	}
	return info, nil
}

func (s *Server) handleListSessions(ctx context.Context, request mcp.CallToolRequest, args map[string]interface{}) (SessionList, error) {
	return SessionList{Sessions: s.sessions.List()}, nil
}

func (s *Server) registerResources() {
	s.mcpServer.AddResource(mcp.NewResource(StatechartURI, "Conversation statechart",
		mcp.WithResourceDescription("States, transitions and invocations of the session machine"),
		mcp.WithMIMEType("application/json"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		jsonBytes, err := json.Marshal(s.chart)
		if err != nil {
			return nil, fmt.Errorf("failed to encode statechart: %w", err)
		}
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      StatechartURI,
				MIMEType: "application/json",
				Text:     string(jsonBytes),
			},
		}, nil
	})

	s.mcpServer.AddResource(mcp.NewResource(StatechartMermaidURI, "Conversation statechart (Mermaid)",
		mcp.WithMIMEType("text/vnd.mermaid"),
	), func(ctx context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      StatechartMermaidURI,
				MIMEType: "text/vnd.mermaid",
				Text:     graph.GenerateMermaid(s.chart, nil),
			},
		}, nil
	})
}

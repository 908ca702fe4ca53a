package mcp

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/session"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSessions struct {
	triggers []domain.Trigger
	infos    map[string]session.SessionInfo
}

func (f *fakeSessions) Dispatch(ctx context.Context, t domain.Trigger) (session.Receipt, error) {
	if t.SessionID == "" {
		return session.Receipt{}, domain.ErrInvalidTrigger
	}
	f.triggers = append(f.triggers, t)
	kind, name := t.Classify()
	return session.Receipt{SessionID: t.SessionID, Kind: kind, Name: name, Created: true}, nil
}

func (f *fakeSessions) Inspect(id string) (session.SessionInfo, error) {
	info, ok := f.infos[id]
	if !ok {
		return session.SessionInfo{}, domain.ErrSessionNotFound
	}
	return info, nil
}

func (f *fakeSessions) List() []session.SessionInfo {
	out := make([]session.SessionInfo, 0, len(f.infos))
	for _, info := range f.infos {
		out = append(out, info)
	}
	return out
}

func newTestServer() (*Server, *fakeSessions) {
	fs := &fakeSessions{infos: map[string]session.SessionInfo{
		"s1": {ID: "s1", State: domain.StateInputReceived, Messages: 2},
	}}
	return NewServer(fs, runtime.NewMachine().Chart()), fs
}

func TestSendTrigger(t *testing.T) {
	s, fs := newTestServer()

	rec, err := s.handleSendTrigger(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{
		"session_id": "s1",
		"message":    "__liveAgent__",
		"data":       `{"email":"a@example.com"}`,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.TriggerNamed, rec.Kind)
	assert.Equal(t, "liveAgent", rec.Name)

	require.Len(t, fs.triggers, 1)
	assert.Equal(t, "a@example.com", fs.triggers[0].EmailCandidate())
}

func TestSendTrigger_Errors(t *testing.T) {
	s, _ := newTestServer()

	_, err := s.handleSendTrigger(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{
		"message": "hi",
	})
	assert.ErrorIs(t, err, domain.ErrInvalidTrigger)

	_, err = s.handleSendTrigger(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{
		"session_id": "s1",
		"data":       "{not json",
	})
	assert.Error(t, err)
}

func TestGetAndListSessions(t *testing.T) {
	s, _ := newTestServer()

	info, err := s.handleGetSession(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{"session_id": " s1 "})
	require.NoError(t, err)
	assert.Equal(t, domain.StateInputReceived, info.State)

	_, err = s.handleGetSession(context.Background(), mcp.CallToolRequest{}, map[string]interface{}{"session_id": "nope"})
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)

	list, err := s.handleListSessions(context.Background(), mcp.CallToolRequest{}, nil)
	require.NoError(t, err)
	require.Len(t, list.Sessions, 1)
	assert.Equal(t, "s1", list.Sessions[0].ID)
}

func rpc(t *testing.T, s *Server, method string, params any) string {
	t.Helper()
	msg, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  method,
		"params":  params,
	})
	require.NoError(t, err)
	resp := s.MCPServer().HandleMessage(context.Background(), msg)
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	return string(out)
}

func TestServer_Registrations(t *testing.T) {
	s, _ := newTestServer()

	tools := rpc(t, s, "tools/list", map[string]any{})
	for _, name := range []string{"send_trigger", "get_session", "list_sessions"} {
		assert.Contains(t, tools, `"`+name+`"`)
	}

	chart := rpc(t, s, "resources/read", map[string]any{"uri": StatechartURI})
	assert.Contains(t, chart, StatechartURI)
	assert.Contains(t, chart, string(domain.StateProcessing))

	mermaid := rpc(t, s, "resources/read", map[string]any{"uri": StatechartMermaidURI})
	assert.Contains(t, mermaid, "stateDiagram-v2")
}

package domain

import (
	"maps"
	"slices"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleUser  Role = "user"
	RoleBot   Role = "bot"
	RoleAgent Role = "agent"
)

// Message is one immutable entry of a session's conversation log.
type Message struct {
	ID          string         `json:"id"`
	Role        Role           `json:"role"`
	Content     string         `json:"content"`
	Timestamp   time.Time      `json:"timestamp"`
	RichContent any            `json:"richContent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Context is the mutable per-session record owned by the state machine.
// Only state-machine actions mutate it.
type Context struct {
	SessionID  string    `json:"sessionId"`
	UserID     string    `json:"userId,omitempty"`
	Messages   []Message `json:"messages"`
	AgentID    string    `json:"agentId,omitempty"`
	Error      string    `json:"error,omitempty"`
	SurveyData any       `json:"surveyData,omitempty"`
	Email      string    `json:"email,omitempty"`
}

// NewContext creates an empty context for a session.
func NewContext(sessionID, userID string) *Context {
	return &Context{
		SessionID: sessionID,
		UserID:    userID,
		Messages:  []Message{},
	}
}

// Clone returns a copy whose message slice can be appended to without
// affecting the original. Messages themselves are immutable and shared.
func (c *Context) Clone() *Context {
	if c == nil {
		return nil
	}
	next := *c
	next.Messages = slices.Clone(c.Messages)
	if next.Messages == nil {
		next.Messages = []Message{}
	}
	return &next
}

// LastUserMessage returns the content of the most recent user message, or "".
func (c *Context) LastUserMessage() string {
	for i := len(c.Messages) - 1; i >= 0; i-- {
		if c.Messages[i].Role == RoleUser {
			return c.Messages[i].Content
		}
	}
	return ""
}

// MessagesSince returns the messages appended after the first n entries.
// The count, not message identity, decides what is new.
func (c *Context) MessagesSince(n int) []Message {
	if n < 0 {
		n = 0
	}
	if n >= len(c.Messages) {
		return nil
	}
	return c.Messages[n:]
}

// CloneMetadata copies a metadata map so appended messages never alias event data.
func CloneMetadata(m map[string]any) map[string]any {
	if len(m) == 0 {
		return nil
	}
	return maps.Clone(m)
}

package domain

import (
	"encoding/json"
	"regexp"
	"strings"
)

// TriggerKind classifies an inbound trigger after type inference.
type TriggerKind string

const (
	// TriggerMessage is an ordinary user message.
	TriggerMessage TriggerKind = "message"
	// TriggerNamed is a marker-wrapped system trigger resolved through the workflow backend.
	TriggerNamed TriggerKind = "named"
	// TriggerDirect is an explicit event type pushed by a collaborator (UI, agent bridge).
	TriggerDirect TriggerKind = "direct"
)

// Trigger is an inbound request of the shape {sessionId, message?, type?, ...extra}.
type Trigger struct {
	SessionID string `json:"sessionId"`
	Message   string `json:"message,omitempty"`
	Type      string `json:"type,omitempty"`
	Email     string `json:"email,omitempty"`
	UserID    string `json:"userId,omitempty"`
	AgentID   string `json:"agentId,omitempty"`
	Data      any    `json:"data,omitempty"`

	// Extra holds any additional fields; they are passed through to the workflow backend.
	Extra map[string]any `json:"-"`
}

var markerPattern = regexp.MustCompile(`^__([A-Za-z0-9_\-]+?)__$`)

// ParseMarker extracts the name from a "__name__" wrapped message.
func ParseMarker(message string) (string, bool) {
	m := markerPattern.FindStringSubmatch(strings.TrimSpace(message))
	if m == nil {
		return "", false
	}
	return m[1], true
}

// Classify infers the trigger kind and, for named triggers, the trigger name.
// An explicit Type wins over inference; "trigger" as a type asks for marker parsing.
func (t Trigger) Classify() (TriggerKind, string) {
	typ := strings.TrimSpace(t.Type)
	switch {
	case typ == "" || strings.EqualFold(typ, "trigger"):
		if name, ok := ParseMarker(t.Message); ok {
			return TriggerNamed, name
		}
		if strings.EqualFold(typ, "trigger") {
			return TriggerNamed, strings.TrimSpace(t.Message)
		}
		return TriggerMessage, ""
	case strings.EqualFold(typ, string(TriggerMessage)):
		return TriggerMessage, ""
	}
	if name, ok := ParseMarker(typ); ok {
		return TriggerNamed, name
	}
	return TriggerDirect, typ
}

// Payload builds the body sent to the workflow backend: {sessionId, ...payload}.
func (t Trigger) Payload() map[string]any {
	body := make(map[string]any, len(t.Extra)+5)
	for k, v := range t.Extra {
		body[k] = v
	}
	if t.Message != "" {
		body["message"] = t.Message
	}
	if t.Email != "" {
		body["email"] = t.Email
	}
	if t.UserID != "" {
		body["userId"] = t.UserID
	}
	if t.Data != nil {
		body["data"] = t.Data
	}
	body["sessionId"] = t.SessionID
	return body
}

// EmailCandidate returns the email carried by the trigger payload itself:
// the explicit field first, then data.email, then a userEmail extra field.
func (t Trigger) EmailCandidate() string {
	if t.Email != "" {
		return t.Email
	}
	if data, ok := t.Data.(map[string]any); ok {
		if s, ok := data["email"].(string); ok && s != "" {
			return s
		}
	}
	if s, ok := t.Extra["userEmail"].(string); ok {
		return s
	}
	return ""
}

var knownTriggerFields = map[string]struct{}{
	"sessionId": {}, "message": {}, "type": {}, "email": {}, "userId": {}, "agentId": {}, "data": {},
}

// UnmarshalJSON decodes the known fields and keeps everything else in Extra.
func (t *Trigger) UnmarshalJSON(b []byte) error {
	type plain Trigger
	var p plain
	if err := json.Unmarshal(b, &p); err != nil {
		return err
	}
	var raw map[string]any
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	for k := range knownTriggerFields {
		delete(raw, k)
	}
	*t = Trigger(p)
	if len(raw) > 0 {
		t.Extra = raw
	}
	return nil
}

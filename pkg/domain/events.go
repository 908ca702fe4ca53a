package domain

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// EventType defines the category of a state-machine event.
type EventType string

const (
	EventUserMessage              EventType = "USER_MESSAGE"
	EventBotResponse              EventType = "BOT_RESPONSE"
	EventAgentConnected           EventType = "AGENT_CONNECTED"
	EventAgentMessage             EventType = "AGENT_MESSAGE"
	EventAgentEndedChat           EventType = "AGENT_ENDED_CHAT"
	EventUserEndedChat            EventType = "USER_ENDED_CHAT"
	EventLiveAgentRequested       EventType = "LIVE_AGENT_REQUESTED"
	EventLiveAgentIssue           EventType = "LIVE_AGENT_ISSUE"
	EventSurveySubmitted          EventType = "SURVEY_SUBMITTED"
	EventSurveySkipped            EventType = "SURVEY_SKIPPED"
	EventEmailTranscriptRequested EventType = "EMAIL_TRANSCRIPT_REQUESTED"
	EventEmailProvided            EventType = "EMAIL_PROVIDED"
	EventInvalidEmail             EventType = "INVALID_EMAIL"
	EventEmailValidated           EventType = "EMAIL_VALIDATED"
	EventSystemError              EventType = "SYSTEM_ERROR"

	// Completion of an asynchronous invocation, fed back through the session queue.
	EventInvokeDone  EventType = "INVOKE_DONE"
	EventInvokeError EventType = "INVOKE_ERROR"
	// EventInvokeSlow is raised once when a dialogue call outlives the notice delay.
	EventInvokeSlow EventType = "INVOKE_SLOW"
)

// ActorName identifies an external actor the machine can invoke.
type ActorName string

const (
	ActorDialogue   ActorName = "dialogue"
	ActorHandover   ActorName = "handover"
	ActorRelay      ActorName = "relay"
	ActorTranscript ActorName = "transcript"
	// ActorEmailCheck validates a free-text email address out-of-band.
	ActorEmailCheck ActorName = "emailCheck"
)

// Event is the input of one transition. Type selects which fields are meaningful.
type Event struct {
	Type EventType `json:"type"`

	// Content is the text of user, bot and agent messages.
	Content     string         `json:"content,omitempty"`
	RichContent any            `json:"richContent,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	Title       string         `json:"title,omitempty"`
	Buttons     []any          `json:"buttons,omitempty"`

	AgentID string `json:"agentId,omitempty"`
	Email   string `json:"email,omitempty"`
	// Reason carries error text, invalid-email explanations and issue descriptions.
	Reason string `json:"reason,omitempty"`
	Data   any    `json:"data,omitempty"`

	// Invocation completion fields.
	Actor    ActorName `json:"actor,omitempty"`
	InvokeID uint64    `json:"invokeId,omitempty"`
	Output   any       `json:"output,omitempty"`
}

// DialogueOutput is the result of one conversational turn.
type DialogueOutput struct {
	Content     string         `json:"content"`
	Metadata    map[string]any `json:"metadata"`
	RichContent any            `json:"richContent,omitempty"`
}

// HandoverOutput is the result of a live-agent connect attempt.
type HandoverOutput struct {
	Issue   bool   `json:"issue,omitempty"`
	AgentID string `json:"agentId,omitempty"`
}

// Flag reads a routing flag from either shape a guard may see: the metadata of a
// live event, or the output of a just-completed invocation.
func Flag(ev Event, name string) bool {
	if v, ok := ev.Metadata[name]; ok && Truthy(v) {
		return true
	}
	switch out := ev.Output.(type) {
	case DialogueOutput:
		return Truthy(out.Metadata[name])
	case *DialogueOutput:
		if out != nil {
			return Truthy(out.Metadata[name])
		}
	case HandoverOutput:
		return name == FlagLiveAgentIssue && out.Issue
	case *HandoverOutput:
		return out != nil && name == FlagLiveAgentIssue && out.Issue
	case map[string]any:
		if meta, ok := out["metadata"].(map[string]any); ok {
			return Truthy(meta[name])
		}
		return Truthy(out[name])
	}
	return false
}

// Truthy interprets loosely typed backend values as booleans.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		b, err := strconv.ParseBool(strings.TrimSpace(t))
		return err == nil && b
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	}
	return false
}

// TransitionEvent describes one applied transition, for observability.
type TransitionEvent struct {
	Timestamp time.Time  `json:"timestamp"`
	SessionID string     `json:"session_id"`
	From      StateValue `json:"from"`
	To        StateValue `json:"to"`
	Event     EventType  `json:"event"`
}

// InvokeEvent describes the start or end of an external invocation.
type InvokeEvent struct {
	Timestamp time.Time     `json:"timestamp"`
	SessionID string        `json:"session_id"`
	Actor     ActorName     `json:"actor"`
	Duration  time.Duration `json:"duration,omitempty"`
	IsError   bool          `json:"is_error,omitempty"`
}

// LifecycleHooks defines callbacks for session observability.
type LifecycleHooks struct {
	OnTransition   func(context.Context, *TransitionEvent)
	OnInvoke       func(context.Context, *InvokeEvent)
	OnInvokeReturn func(context.Context, *InvokeEvent)
	OnSessionStart func(ctx context.Context, sessionID string)
	OnSessionEnd   func(ctx context.Context, sessionID string)
}

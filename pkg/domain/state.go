package domain

import "strings"

// StateValue is a dotted path identifying the active state of a session,
// e.g. "botActive.processing". Top-level states have no dot.
type StateValue string

const (
	StateIdle            StateValue = "idle"
	StateBotActive       StateValue = "botActive"
	StateProcessing      StateValue = "botActive.processing"
	StateDecision        StateValue = "botActive.decision"
	StateInputReceived   StateValue = "botActive.inputReceived"
	StateHandover        StateValue = "handover"
	StateAgentActive     StateValue = "agentActive"
	StateAgentConnected  StateValue = "agentActive.connected"
	StateSurvey          StateValue = "survey"
	StateEmailTranscript StateValue = "emailTranscript"
	StateEmailRequested  StateValue = "emailTranscript.emailRequested"
	StateEmailReceived   StateValue = "emailTranscript.emailReceived"
	StateSendingEmail    StateValue = "sendingEmail"
	StateClosed          StateValue = "closed"
	StateFailure         StateValue = "failure"
)

// Parent returns the enclosing composite state, or "" for top-level states.
func (s StateValue) Parent() StateValue {
	if i := strings.LastIndexByte(string(s), '.'); i >= 0 {
		return s[:i]
	}
	return ""
}

// Top returns the top-level segment of the path.
func (s StateValue) Top() StateValue {
	if i := strings.IndexByte(string(s), '.'); i >= 0 {
		return s[:i]
	}
	return s
}

// Matches reports whether s equals other or is nested inside it.
func (s StateValue) Matches(other StateValue) bool {
	if s == other {
		return true
	}
	return strings.HasPrefix(string(s), string(other)+".")
}

// IsFinal reports whether the state is terminal.
func (s StateValue) IsFinal() bool {
	return s == StateClosed
}

// String implements fmt.Stringer.
func (s StateValue) String() string {
	return string(s)
}

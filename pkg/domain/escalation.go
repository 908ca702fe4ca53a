package domain

import "strings"

// EscalationMarker is the in-band sentinel a dialogue reply uses to ask for a live agent.
const EscalationMarker = "[ESCALATE]"

// StripEscalation removes every occurrence of the marker and reports whether one was found.
func StripEscalation(content string) (string, bool) {
	if !strings.Contains(content, EscalationMarker) {
		return content, false
	}
	return strings.TrimSpace(strings.ReplaceAll(content, EscalationMarker, "")), true
}

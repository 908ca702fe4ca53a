package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	"github.com/aretw0/parley/pkg/session"
)

// EchoAgentID is the live agent the echo backend hands sessions to.
const EchoAgentID = "echo-agent"

// EchoWorkflow is an in-process backend that repeats user messages. It lets the
// chat command walk every conversation phase without a real automation server:
// "agent" escalates, "email" asks for a transcript address and "bye" starts the survey.
func EchoWorkflow() ports.Workflow {
	return ports.WorkflowFunc(func(ctx context.Context, name string, payload map[string]any) ([]domain.Descriptor, error) {
		switch strings.ToLower(name) {
		case "welcome":
			return []domain.Descriptor{{
				Type:     domain.DescriptorSplash,
				Title:    "Welcome",
				Content:  "Hi! I repeat whatever you say. Try *agent*, *email* or *bye*.",
				Buttons:  []any{"agent", "email", "bye"},
				Metadata: map[string]any{},
			}}, nil

		case "chat":
			msg, _ := payload["message"].(string)
			return []domain.Descriptor{echoReply(msg)}, nil

		case strings.ToLower(session.TriggerLiveAgent):
			return []domain.Descriptor{{
				Content:  "Connecting you to a live agent.",
				Metadata: map[string]any{"agentId": EchoAgentID},
			}}, nil

		case strings.ToLower(session.TriggerEmailTranscript):
			return []domain.Descriptor{{
				Content:  "Which address should the transcript go to?",
				Metadata: map[string]any{domain.FlagEmailRequested: true},
			}}, nil

		case strings.ToLower(session.TriggerEmailReceived):
			email, _ := payload["email"].(string)
			if email == "" {
				email, _ = payload["message"].(string)
			}
			valid := session.ValidEmail(email)
			return []domain.Descriptor{{Email: email, Valid: &valid, Metadata: map[string]any{}}}, nil
		}
		// agentRelay, sendTranscript, endChat: acknowledged with an empty reply.
		return nil, nil
	})
}

func echoReply(msg string) domain.Descriptor {
	d := domain.Descriptor{Metadata: map[string]any{}}
	lower := strings.ToLower(strings.TrimSpace(msg))
	switch {
	case strings.Contains(lower, "agent"):
		d.Content = "Let me find someone for you."
		d.Metadata[domain.FlagLiveAgentRequested] = true
	case strings.Contains(lower, "email"):
		d.Content = "Sure, I can email you the transcript."
		d.Metadata[domain.FlagEmailRequested] = true
	case lower == "bye":
		d.Content = "Before you go, how did I do?"
		d.Metadata[domain.FlagStartSurvey] = true
	default:
		d.Content = fmt.Sprintf("You said: %s", msg)
	}
	return d
}

package runtime

import (
	"strings"

	"github.com/aretw0/parley/pkg/domain"
)

const defaultIssue = "live agent unavailable"

// Action mutates the working copy of the context or requests an effect.
type Action func(s *scope, ev domain.Event)

// scope is the working state of a single Step.
type scope struct {
	m       *Machine
	ctx     *domain.Context
	effects []Effect
}

func (s *scope) append(role domain.Role, content string, rich any, meta map[string]any) {
	s.ctx.Messages = append(s.ctx.Messages, domain.Message{
		ID:          s.m.newID(),
		Role:        role,
		Content:     content,
		Timestamp:   s.m.now(),
		RichContent: rich,
		Metadata:    meta,
	})
}

// appendMessage appends one message. Empty role and content are inferred from the event.
func appendMessage(role domain.Role, content string) Action {
	return func(s *scope, ev domain.Event) {
		r := role
		if r == "" {
			r = roleFor(ev.Type)
		}
		text, rich, meta := content, ev.RichContent, ev.Metadata
		if text == "" {
			text = ev.Content
		}
		if out, ok := dialogueOutput(ev); ok {
			if text == "" {
				text = out.Content
			}
			if rich == nil {
				rich = out.RichContent
			}
			if meta == nil {
				meta = out.Metadata
			}
		}
		s.append(r, text, rich, presentationMeta(meta, ev))
	}
}

func roleFor(t domain.EventType) domain.Role {
	switch t {
	case domain.EventUserMessage:
		return domain.RoleUser
	case domain.EventAgentMessage:
		return domain.RoleAgent
	}
	return domain.RoleBot
}

func dialogueOutput(ev domain.Event) (domain.DialogueOutput, bool) {
	switch out := ev.Output.(type) {
	case domain.DialogueOutput:
		return out, true
	case *domain.DialogueOutput:
		if out != nil {
			return *out, true
		}
	}
	return domain.DialogueOutput{}, false
}

// presentationMeta copies metadata and folds the event's title and buttons into it.
func presentationMeta(meta map[string]any, ev domain.Event) map[string]any {
	out := domain.CloneMetadata(meta)
	if ev.Title == "" && len(ev.Buttons) == 0 {
		return out
	}
	if out == nil {
		out = make(map[string]any, 2)
	}
	if ev.Title != "" {
		out[domain.MetaTitle] = ev.Title
	}
	if len(ev.Buttons) > 0 {
		out[domain.MetaButtons] = ev.Buttons
	}
	return out
}

func appendFallback(s *scope, ev domain.Event) {
	text := ev.Content
	if text == "" {
		text = s.m.messages.Fallback
	}
	s.append(domain.RoleBot, text, nil, nil)
}

func appendSlowNotice(s *scope, _ domain.Event) {
	s.append(domain.RoleBot, s.m.messages.SlowNotice, nil, map[string]any{domain.MetaNotice: true})
}

func appendInvalidEmail(s *scope, ev domain.Event) {
	text := ev.Reason
	if text == "" {
		text = s.m.messages.InvalidEmail
	}
	s.append(domain.RoleBot, text, nil, nil)
}

func recordError(s *scope, ev domain.Event) {
	msg := ev.Reason
	if msg == "" {
		msg = ev.Content
	}
	s.ctx.Error = msg
}

func recordIssue(s *scope, ev domain.Event) {
	msg := ev.Reason
	if msg == "" {
		msg = defaultIssue
	}
	s.ctx.Error = msg
}

func setAgentID(s *scope, ev domain.Event) {
	id := ev.AgentID
	if id == "" {
		switch out := ev.Output.(type) {
		case domain.HandoverOutput:
			id = out.AgentID
		case *domain.HandoverOutput:
			if out != nil {
				id = out.AgentID
			}
		}
	}
	if id != "" {
		s.ctx.AgentID = id
	}
}

func storeSurvey(s *scope, ev domain.Event) {
	s.ctx.SurveyData = ev.Data
}

func setEmail(s *scope, ev domain.Event) {
	if ev.Email != "" {
		s.ctx.Email = strings.TrimSpace(ev.Email)
	}
}

func setEmailFromMessage(s *scope, ev domain.Event) {
	s.ctx.Email = strings.TrimSpace(ev.Content)
}

func clearEmail(s *scope, _ domain.Event) {
	s.ctx.Email = ""
}

func relayToAgent(s *scope, ev domain.Event) {
	s.effects = append(s.effects, Effect{
		Actor: domain.ActorRelay,
		Input: InvokeInput{
			SessionID: s.ctx.SessionID,
			AgentID:   s.ctx.AgentID,
			Message:   ev.Content,
		},
	})
}

func requestEmailCheck(s *scope, _ domain.Event) {
	s.effects = append(s.effects, Effect{
		Actor: domain.ActorEmailCheck,
		Input: InvokeInput{
			SessionID: s.ctx.SessionID,
			Email:     s.ctx.Email,
		},
	})
}

package domain

import "time"

// OutboundKind distinguishes the two outbound stream event shapes.
type OutboundKind string

const (
	OutboundState   OutboundKind = "state"
	OutboundMessage OutboundKind = "message"
)

// OutboundEvent is one item of the ordered stream delivered to a session subscriber.
// State events fill Status/Meta/Context; message events fill the message fields.
// Meta is always serialized, as {} when there is nothing to carry.
type OutboundEvent struct {
	Kind OutboundKind `json:"kind"`

	Status  StateValue     `json:"status,omitempty"`
	Meta    map[string]any `json:"meta"`
	Context *Context       `json:"context,omitempty"`

	MessageID   string    `json:"messageId,omitempty"`
	Text        string    `json:"text,omitempty"`
	RichContent any       `json:"richContent,omitempty"`
	Participant Role      `json:"participant,omitempty"`
	Timestamp   time.Time `json:"timestamp,omitempty"`
	Title       string    `json:"title,omitempty"`
	Buttons     []any     `json:"buttons,omitempty"`
}

// NewStateEvent builds a state snapshot event. Meta is always an empty placeholder.
func NewStateEvent(status StateValue, ctx *Context) OutboundEvent {
	return OutboundEvent{
		Kind:    OutboundState,
		Status:  status,
		Meta:    map[string]any{},
		Context: ctx,
	}
}

// NewMessageEvent builds a message event, lifting title/buttons out of the metadata.
func NewMessageEvent(m Message) OutboundEvent {
	ev := OutboundEvent{
		Kind:        OutboundMessage,
		MessageID:   m.ID,
		Text:        m.Content,
		RichContent: m.RichContent,
		Participant: m.Role,
		Timestamp:   m.Timestamp,
		Meta:        map[string]any{},
	}
	if len(m.Metadata) > 0 {
		ev.Meta = m.Metadata
		if title, ok := m.Metadata[MetaTitle].(string); ok {
			ev.Title = title
		}
		if buttons, ok := m.Metadata[MetaButtons].([]any); ok {
			ev.Buttons = buttons
		}
	}
	return ev
}

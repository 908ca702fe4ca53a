package dto

import (
	"github.com/aretw0/parley/pkg/domain"
)

// Descriptor is the wire shape of one workflow-backend reply item.
// Backends disagree on field names, so every known alias has its own slot
// and Normalize picks the first non-empty one.
type Descriptor struct {
	Type string `json:"type" mapstructure:"type"`

	// Content aliases, in precedence order.
	PlainText string `json:"plainText" mapstructure:"plainText"`
	Content   string `json:"content" mapstructure:"content"`
	Text      string `json:"text" mapstructure:"text"`

	RichContent []any `json:"richContent" mapstructure:"richContent"`

	// Metadata aliases.
	Meta     map[string]any `json:"meta" mapstructure:"meta"`
	Metadata map[string]any `json:"metadata" mapstructure:"metadata"`

	Title   string `json:"title" mapstructure:"title"`
	Buttons []any  `json:"buttons" mapstructure:"buttons"`

	Sent    bool   `json:"sent" mapstructure:"sent"`
	Valid   *bool  `json:"valid" mapstructure:"valid"`
	Email   string `json:"email" mapstructure:"email"`
	Message string `json:"message" mapstructure:"message"`
}

// Normalize converts the wire shape into the domain descriptor.
// Missing content becomes "" and missing metadata an empty map.
func (d Descriptor) Normalize() domain.Descriptor {
	out := domain.Descriptor{
		Type:        d.Type,
		Content:     firstNonEmpty(d.PlainText, d.Content, d.Text),
		RichContent: d.RichContent,
		Title:       d.Title,
		Buttons:     d.Buttons,
		Sent:        d.Sent,
		Valid:       d.Valid,
		Email:       d.Email,
		Message:     d.Message,
	}

	out.Metadata = make(map[string]any, len(d.Meta)+len(d.Metadata))
	for k, v := range d.Metadata {
		out.Metadata[k] = v
	}
	// "meta" is the primary spelling and wins on conflicts.
	for k, v := range d.Meta {
		out.Metadata[k] = v
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

package domain

// Descriptor types returned by the workflow backend.
const (
	DescriptorText   = "text"
	DescriptorSplash = "splash"
)

// Descriptor is one normalized item of a workflow-backend response.
// Absent fields degrade to zero values: missing content is "", missing metadata is an empty map.
type Descriptor struct {
	Type        string         `json:"type,omitempty"`
	Content     string         `json:"content"`
	RichContent []any          `json:"richContent,omitempty"`
	Metadata    map[string]any `json:"metadata"`
	Title       string         `json:"title,omitempty"`
	Buttons     []any          `json:"buttons,omitempty"`
	Sent        bool           `json:"sent,omitempty"`
	// Valid is nil when the backend did not say.
	Valid   *bool  `json:"valid,omitempty"`
	Email   string `json:"email,omitempty"`
	Message string `json:"message,omitempty"`
}

// IsText reports whether the descriptor renders as a plain bot message.
func (d Descriptor) IsText() bool {
	return d.Type == "" || d.Type == DescriptorText || d.Type == "message"
}

// IsSplash reports whether the descriptor is an announcement card.
func (d Descriptor) IsSplash() bool {
	return d.Type == DescriptorSplash || d.Type == "announcement"
}

// HasFlag reports whether the descriptor's metadata carries the given flag.
func (d Descriptor) HasFlag(name string) bool {
	return Truthy(d.Metadata[name])
}

package tui

import (
	"fmt"
	"io"
	"strings"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/charmbracelet/glamour"
	"github.com/muesli/termenv"
)

// NewRenderer returns a function that renders markdown using glamour.
// It picks a light or dark style from the terminal background.
func NewRenderer(width int) func(string) (string, error) {
	r, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return func(markdown string) (string, error) {
			return markdown, nil
		}
	}

	return func(markdown string) (string, error) {
		return r.Render(markdown)
	}
}

// Printer writes outbound session events to a terminal.
type Printer struct {
	out        *termenv.Output
	render     func(string) (string, error)
	plain      bool
	width      int
	showStates bool
}

// PrinterOption configures a Printer.
type PrinterOption func(*Printer)

// WithPlain disables colors and markdown rendering (pipes, dumb terminals, tests).
func WithPlain() PrinterOption {
	return func(p *Printer) {
		p.plain = true
	}
}

// WithStates prints state transitions as dim status lines.
func WithStates(show bool) PrinterOption {
	return func(p *Printer) {
		p.showStates = show
	}
}

// WithWidth sets the markdown word-wrap width.
func WithWidth(n int) PrinterOption {
	return func(p *Printer) {
		if n > 0 {
			p.width = n
		}
	}
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer, opts ...PrinterOption) *Printer {
	p := &Printer{width: 80}
	for _, opt := range opts {
		opt(p)
	}
	if p.plain {
		p.out = termenv.NewOutput(w, termenv.WithProfile(termenv.Ascii))
		return p
	}
	p.out = termenv.NewOutput(w)
	p.render = NewRenderer(p.width)
	return p
}

var participantColors = map[domain.Role]string{
	domain.RoleBot:   "#818cf8",
	domain.RoleAgent: "#34d399",
	domain.RoleUser:  "#fbbf24",
}

// Print writes one outbound event.
func (p *Printer) Print(ev domain.OutboundEvent) {
	switch ev.Kind {
	case domain.OutboundState:
		if !p.showStates {
			return
		}
		line := fmt.Sprintf("· %s", ev.Status)
		if ev.Context != nil && ev.Context.AgentID != "" {
			line += fmt.Sprintf(" (agent %s)", ev.Context.AgentID)
		}
		fmt.Fprintln(p.out, p.out.String(line).Faint())
	case domain.OutboundMessage:
		p.printMessage(ev)
	}
}

func (p *Printer) printMessage(ev domain.OutboundEvent) {
	who := p.out.String(string(ev.Participant) + ":").Bold()
	if c, ok := participantColors[ev.Participant]; ok {
		who = who.Foreground(p.out.Color(c))
	}

	if ev.Title != "" {
		fmt.Fprintln(p.out, p.out.String(ev.Title).Bold().Underline())
	}

	text := ev.Text
	if p.render != nil && text != "" {
		if out, err := p.render(text); err == nil {
			text = strings.TrimSpace(out)
		}
	}
	fmt.Fprintf(p.out, "%s %s\n", who, text)

	for i, b := range ev.Buttons {
		fmt.Fprintf(p.out, "  [%d] %s\n", i+1, buttonLabel(b))
	}
}

// buttonLabel picks a display label from a loosely shaped button descriptor.
func buttonLabel(b any) string {
	switch v := b.(type) {
	case string:
		return v
	case map[string]any:
		for _, k := range []string{"label", "title", "text", "value"} {
			if s, ok := v[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return fmt.Sprint(b)
}

// ButtonValue returns what selecting a button should send back as a message.
func ButtonValue(b any) string {
	if m, ok := b.(map[string]any); ok {
		for _, k := range []string{"value", "payload", "label", "title", "text"} {
			if s, ok := m[k].(string); ok && s != "" {
				return s
			}
		}
	}
	return buttonLabel(b)
}

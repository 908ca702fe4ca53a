package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aretw0/parley/internal/runtime"
	"github.com/aretw0/parley/pkg/domain"
)

// GraphOverlay contains session state to highlight on the chart.
type GraphOverlay struct {
	VisitedStates []domain.StateValue
	CurrentState  domain.StateValue
}

// GenerateMermaid renders the statechart as a Mermaid stateDiagram-v2.
// Compound states group their children; the eventless decision state is drawn as
// a choice node and states that invoke an actor carry the actor name.
// Internal transitions (actions without a state change) are left out.
func GenerateMermaid(chart runtime.Chart, overlay *GraphOverlay) string {
	var sb strings.Builder
	sb.WriteString("stateDiagram-v2\n")
	fmt.Fprintf(&sb, "    [*] --> %s\n", sanitizeMermaidID(string(chart.Initial)))

	deferred := make(map[domain.StateValue]bool, len(chart.Deferred))
	for _, st := range chart.Deferred {
		deferred[st] = true
	}

	// Group children under their parent, keeping declaration order.
	var roots []domain.StateValue
	children := make(map[domain.StateValue][]domain.StateValue)
	for _, st := range chart.States {
		if p := st.Parent(); p != "" {
			if _, ok := children[p]; !ok {
				roots = append(roots, p)
			}
			children[p] = append(children[p], st)
			continue
		}
		roots = append(roots, st)
	}

	for _, root := range roots {
		kids, compound := children[root]
		if !compound {
			writeState(&sb, "    ", root, chart, deferred)
			continue
		}
		fmt.Fprintf(&sb, "    state %s {\n", sanitizeMermaidID(string(root)))
		for _, st := range kids {
			writeState(&sb, "        ", st, chart, deferred)
		}
		sb.WriteString("    }\n")
	}

	seen := make(map[string]bool)
	for _, e := range chart.Edges {
		if e.Internal {
			continue
		}
		label := e.Event
		if e.Guard != "" {
			label = fmt.Sprintf("%s [%s]", label, e.Guard)
		}
		line := fmt.Sprintf("    %s --> %s : %s\n",
			sanitizeMermaidID(string(e.From)), sanitizeMermaidID(string(e.To)), sanitizeLabel(label))
		if seen[line] {
			continue
		}
		seen[line] = true
		sb.WriteString(line)
	}

	for _, st := range chart.States {
		if st.IsFinal() {
			fmt.Fprintf(&sb, "    %s --> [*]\n", sanitizeMermaidID(string(st)))
		}
	}

	if overlay != nil {
		sb.WriteString("\n    %% Overlay Styles\n")
		// Force black text (color:#000) for contrast on either theme.
		sb.WriteString("    classDef visited fill:#e1f5fe,stroke:#01579b,stroke-width:2px,color:#000\n")
		sb.WriteString("    classDef current fill:#ffeb3b,stroke:#fbc02d,stroke-width:4px,color:#000\n")

		visited := make(map[string]bool)
		for _, st := range overlay.VisitedStates {
			id := sanitizeMermaidID(string(st))
			if id == "" || st == overlay.CurrentState {
				continue
			}
			visited[id] = true
		}
		ids := make([]string, 0, len(visited))
		for id := range visited {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(&sb, "    class %s visited\n", id)
		}

		if overlay.CurrentState != "" {
			fmt.Fprintf(&sb, "    class %s current\n", sanitizeMermaidID(string(overlay.CurrentState)))
		}
	}

	return sb.String()
}

func writeState(sb *strings.Builder, indent string, st domain.StateValue, chart runtime.Chart, deferred map[domain.StateValue]bool) {
	id := sanitizeMermaidID(string(st))
	if st == domain.StateDecision {
		fmt.Fprintf(sb, "%sstate %s <<choice>>\n", indent, id)
		return
	}

	name := string(st)
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	if actor, ok := chart.Invokes[st]; ok {
		name = fmt.Sprintf("%s / invoke %s", name, actor)
	}
	if deferred[st] {
		name += " (defers input)"
	}
	fmt.Fprintf(sb, "%sstate \"%s\" as %s\n", indent, name, id)
}

func sanitizeLabel(s string) string {
	s = strings.ReplaceAll(s, "\"", "'")
	s = strings.ReplaceAll(s, ":", " ")
	return s
}

func sanitizeMermaidID(id string) string {
	s := strings.ReplaceAll(id, ".", "_")
	s = strings.ReplaceAll(s, "-", "_")
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	return s
}

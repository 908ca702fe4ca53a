package runtime

import (
	"fmt"

	"github.com/aretw0/parley/pkg/domain"
)

// States lists every state of the conversation machine in declaration order.
var States = []domain.StateValue{
	domain.StateIdle,
	domain.StateProcessing,
	domain.StateDecision,
	domain.StateInputReceived,
	domain.StateHandover,
	domain.StateAgentConnected,
	domain.StateSurvey,
	domain.StateEmailRequested,
	domain.StateEmailReceived,
	domain.StateSendingEmail,
	domain.StateClosed,
	domain.StateFailure,
}

// Edge is one transition of the rule table, flattened for rendering.
type Edge struct {
	From  domain.StateValue `json:"from"`
	To    domain.StateValue `json:"to"`
	Event string            `json:"event"`
	Guard string            `json:"guard,omitempty"`
	// Internal edges run actions without leaving From.
	Internal bool `json:"internal,omitempty"`
}

// Chart is the introspectable shape of the machine.
type Chart struct {
	Initial  domain.StateValue                      `json:"initial"`
	States   []domain.StateValue                    `json:"states"`
	Edges    []Edge                                 `json:"edges"`
	Invokes  map[domain.StateValue]domain.ActorName `json:"invokes"`
	Deferred []domain.StateValue                    `json:"deferred"`
}

// Chart returns the rule table as a flat list of edges.
func (m *Machine) Chart() Chart {
	c := Chart{
		Initial: domain.StateIdle,
		States:  States,
		Invokes: make(map[domain.StateValue]domain.ActorName, len(m.entry)),
	}
	for st, actor := range m.entry {
		c.Invokes[st] = actor
	}

	for _, st := range States {
		if m.defers[st] {
			c.Deferred = append(c.Deferred, st)
		}
		for _, r := range m.rules[st] {
			c.Edges = append(c.Edges, edge(st, r))
		}
		for _, r := range m.always[st] {
			c.Edges = append(c.Edges, edge(st, r))
		}
	}
	// Parent rules apply to every child.
	for _, parent := range []domain.StateValue{domain.StateAgentActive} {
		for _, st := range States {
			if st.Parent() != parent {
				continue
			}
			for _, r := range m.rules[parent] {
				c.Edges = append(c.Edges, edge(st, r))
			}
		}
	}

	for _, r := range m.global {
		for _, st := range States {
			if st.IsFinal() || st == domain.StateDecision {
				continue
			}
			if len(r.In) > 0 && !inAny(st, r.In) {
				continue
			}
			c.Edges = append(c.Edges, edge(st, r))
		}
	}
	return c
}

func edge(from domain.StateValue, r Rule) Edge {
	e := Edge{From: from, To: r.Target, Guard: r.GuardName}
	switch {
	case r.On == "":
		e.Event = "always"
	case r.Actor != "":
		e.Event = fmt.Sprintf("%s(%s)", r.On, r.Actor)
	default:
		e.Event = string(r.On)
	}
	if r.Target == "" {
		e.To = from
		e.Internal = true
	}
	return e
}

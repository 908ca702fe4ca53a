package runtime

import "github.com/aretw0/parley/pkg/domain"

// Route is the outcome of the decision guard chain.
type Route int

const (
	RouteContinue Route = iota
	RouteEmail
	RouteLiveAgent
	RouteSurvey
)

func (r Route) String() string {
	switch r {
	case RouteEmail:
		return "email"
	case RouteLiveAgent:
		return "liveAgent"
	case RouteSurvey:
		return "survey"
	}
	return "continue"
}

// RouteOf evaluates the routing flags of an event in fixed priority:
// email transcript, live agent, survey, otherwise continue.
// Exactly one route is selected for any event.
func RouteOf(ev domain.Event) Route {
	switch {
	case domain.Flag(ev, domain.FlagEmailRequested):
		return RouteEmail
	case domain.Flag(ev, domain.FlagLiveAgentRequested):
		return RouteLiveAgent
	case domain.Flag(ev, domain.FlagStartSurvey):
		return RouteSurvey
	}
	return RouteContinue
}

func routeIs(r Route) Guard {
	return func(_ *domain.Context, ev domain.Event) bool {
		return RouteOf(ev) == r
	}
}

func emailWithAddress(ctx *domain.Context, ev domain.Event) bool {
	return RouteOf(ev) == RouteEmail && ctx.Email != ""
}

func knownEmail(ctx *domain.Context, _ domain.Event) bool {
	return ctx.Email != ""
}

func flagged(name string) Guard {
	return func(_ *domain.Context, ev domain.Event) bool {
		return domain.Flag(ev, name)
	}
}

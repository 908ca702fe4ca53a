package runtime

import "github.com/aretw0/parley/pkg/domain"

// Guard decides whether a rule applies. It sees the context before the rule's actions run.
type Guard func(ctx *domain.Context, ev domain.Event) bool

// Rule is one transition candidate. An empty Target keeps the current state (internal transition).
type Rule struct {
	On domain.EventType
	// Actor restricts completion events to a specific invocation.
	Actor domain.ActorName
	// In restricts global rules to the listed states (ancestors match descendants).
	In        []domain.StateValue
	Guard     Guard
	GuardName string
	Target    domain.StateValue
	Actions   []Action
}

// routeChain expands the decision guard chain for one event into ordered rules.
// The final rule is the unguarded else branch.
func routeChain(on domain.EventType, elseTarget domain.StateValue, actions ...Action) []Rule {
	return []Rule{
		{On: on, Guard: emailWithAddress, GuardName: "emailRequested && email", Target: domain.StateSendingEmail, Actions: actions},
		{On: on, Guard: routeIs(RouteEmail), GuardName: "emailRequested", Target: domain.StateEmailRequested, Actions: actions},
		{On: on, Guard: routeIs(RouteLiveAgent), GuardName: "liveAgentRequested", Target: domain.StateHandover, Actions: actions},
		{On: on, Guard: routeIs(RouteSurvey), GuardName: "startSurvey", Target: domain.StateSurvey, Actions: actions},
		{On: on, Target: elseTarget, Actions: actions},
	}
}

func (m *Machine) buildTable() {
	appendTurn := appendMessage("", "")
	appendUser := appendMessage(domain.RoleUser, "")
	appendAgent := appendMessage(domain.RoleAgent, "")

	m.rules = map[domain.StateValue][]Rule{
		domain.StateIdle: append([]Rule{
			{On: domain.EventUserMessage, Target: domain.StateProcessing, Actions: []Action{appendUser}},
		}, routeChain(domain.EventBotResponse, "", appendTurn)...),

		domain.StateProcessing: {
			{On: domain.EventInvokeDone, Actor: domain.ActorDialogue, Target: domain.StateDecision, Actions: []Action{appendTurn}},
			{On: domain.EventInvokeError, Actor: domain.ActorDialogue, Target: domain.StateFailure, Actions: []Action{recordError, appendFallback}},
			{On: domain.EventInvokeSlow, Actor: domain.ActorDialogue, Actions: []Action{appendSlowNotice}},
		},

		domain.StateInputReceived: append([]Rule{
			{On: domain.EventUserMessage, Target: domain.StateProcessing, Actions: []Action{appendUser}},
		}, routeChain(domain.EventBotResponse, domain.StateInputReceived, appendTurn)...),

		domain.StateHandover: {
			{On: domain.EventInvokeDone, Actor: domain.ActorHandover, Guard: flagged(domain.FlagLiveAgentIssue), GuardName: "liveAgentIssue", Target: domain.StateInputReceived, Actions: []Action{recordIssue}},
			{On: domain.EventInvokeDone, Actor: domain.ActorHandover, Target: domain.StateAgentConnected, Actions: []Action{setAgentID}},
			{On: domain.EventInvokeError, Actor: domain.ActorHandover, Target: domain.StateInputReceived, Actions: []Action{recordError, appendFallback}},
			{On: domain.EventLiveAgentIssue, Target: domain.StateInputReceived, Actions: []Action{recordIssue}},
		},

		domain.StateAgentActive: {
			{On: domain.EventUserMessage, Actions: []Action{appendUser, relayToAgent}},
			{On: domain.EventAgentMessage, Actions: []Action{setAgentID, appendAgent}},
			{On: domain.EventAgentConnected, Actions: []Action{setAgentID}},
			{On: domain.EventAgentEndedChat, Target: domain.StateSurvey},
			{On: domain.EventLiveAgentIssue, Target: domain.StateInputReceived, Actions: []Action{recordIssue}},
		},

		domain.StateSurvey: {
			{On: domain.EventSurveySubmitted, Target: domain.StateClosed, Actions: []Action{storeSurvey}},
			{On: domain.EventSurveySkipped, Target: domain.StateClosed},
			{On: domain.EventBotResponse, Actions: []Action{appendTurn}},
			{On: domain.EventUserMessage, Actions: []Action{appendUser}},
		},

		domain.StateEmailRequested: {
			{On: domain.EventEmailProvided, Target: domain.StateEmailReceived, Actions: []Action{setEmail}},
			{On: domain.EventUserMessage, Target: domain.StateEmailReceived, Actions: []Action{appendUser, setEmailFromMessage, requestEmailCheck}},
		},

		domain.StateEmailReceived: {
			{On: domain.EventInvalidEmail, Target: domain.StateEmailRequested, Actions: []Action{appendInvalidEmail, clearEmail}},
			{On: domain.EventEmailValidated, Target: domain.StateSendingEmail, Actions: []Action{setEmail}},
		},

		domain.StateSendingEmail: {
			{On: domain.EventInvokeDone, Actor: domain.ActorTranscript, Target: domain.StateInputReceived},
			{On: domain.EventInvokeError, Actor: domain.ActorTranscript, Target: domain.StateInputReceived, Actions: []Action{recordError, appendFallback}},
		},

		domain.StateFailure: append([]Rule{
			{On: domain.EventUserMessage, Target: domain.StateProcessing, Actions: []Action{appendUser}},
		}, routeChain(domain.EventBotResponse, domain.StateInputReceived, appendTurn)...),
	}

	m.always = map[domain.StateValue][]Rule{
		domain.StateDecision: routeChain("", domain.StateInputReceived),
	}

	botReachable := []domain.StateValue{domain.StateIdle, domain.StateBotActive, domain.StateHandover, domain.StateFailure}
	requestable := []domain.StateValue{domain.StateIdle, domain.StateBotActive, domain.StateFailure}

	m.global = []Rule{
		{On: domain.EventAgentConnected, In: botReachable, Target: domain.StateAgentConnected, Actions: []Action{setAgentID}},
		{On: domain.EventAgentMessage, In: botReachable, Target: domain.StateAgentConnected, Actions: []Action{setAgentID, appendAgent}},
		{On: domain.EventLiveAgentRequested, In: append(requestable, domain.StateEmailTranscript), Target: domain.StateHandover},
		{On: domain.EventEmailTranscriptRequested, In: requestable, Guard: knownEmail, GuardName: "email", Target: domain.StateSendingEmail},
		{On: domain.EventEmailTranscriptRequested, In: requestable, Target: domain.StateEmailRequested},
		{On: domain.EventUserEndedChat, Target: domain.StateClosed},
		{On: domain.EventSystemError, Actions: []Action{recordError}},
		{On: domain.EventBotResponse, Actions: []Action{appendTurn}},
	}

	m.entry = map[domain.StateValue]domain.ActorName{
		domain.StateProcessing:   domain.ActorDialogue,
		domain.StateHandover:     domain.ActorHandover,
		domain.StateSendingEmail: domain.ActorTranscript,
	}

	m.defers = map[domain.StateValue]bool{
		domain.StateProcessing:    true,
		domain.StateHandover:      true,
		domain.StateSendingEmail:  true,
		domain.StateEmailReceived: true,
	}
}

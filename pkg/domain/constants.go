package domain

// Metadata flag keys understood by the routing guards.
// They appear in live bot-response metadata and in completed-invocation outputs.
const (
	FlagLiveAgentRequested = "liveAgentRequested"
	FlagStartSurvey        = "startSurvey"
	FlagEmailRequested     = "emailRequested"
	FlagLiveAgentIssue     = "liveAgentIssue"
	FlagChatEnded          = "chatEnded"
)

// Message metadata keys used for presentation hints.
const (
	MetaTitle   = "title"
	MetaButtons = "buttons"
	MetaNotice  = "notice"
)

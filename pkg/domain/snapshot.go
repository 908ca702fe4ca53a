package domain

// SessionSnapshot is the persisted session record used by deployments that need
// cross-process continuity. It is keyed by session id in a SnapshotStore.
type SessionSnapshot struct {
	Mode              string         `json:"mode"`
	Metadata          map[string]any `json:"metadata"`
	WaitingWebhookURL string         `json:"waiting_webhook_url,omitempty"`
}

// NewSnapshot creates a snapshot with an initialized metadata map.
func NewSnapshot(mode string) *SessionSnapshot {
	return &SessionSnapshot{
		Mode:     mode,
		Metadata: make(map[string]any),
	}
}

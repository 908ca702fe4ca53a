package ports

import (
	"context"

	"github.com/aretw0/parley/pkg/domain"
)

// SnapshotStore persists the compact session snapshot {mode, metadata, waiting_webhook_url}.
// Other deployments read and write the same records, so implementations keep unknown keys.
type SnapshotStore interface {
	// Save persists the snapshot for a given session ID, replacing any previous one.
	Save(ctx context.Context, sessionID string, snap *domain.SessionSnapshot) error

	// Load retrieves the snapshot for a given session ID.
	// Returns domain.ErrSessionNotFound if the session does not exist.
	Load(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error)

	// Delete removes the snapshot for a given session ID.
	Delete(ctx context.Context, sessionID string) error

	// List returns the IDs of all stored sessions.
	List(ctx context.Context) ([]string, error)
}

package ports

import (
	"context"
	"testing"
	"time"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// RunSnapshotStoreContract runs a suite of tests to verify that a SnapshotStore implementation
// adheres to the defined interface contract.
func RunSnapshotStoreContract(t *testing.T, store SnapshotStore) {
	ctx := context.Background()
	sessionID := "contract-test-session-" + time.Now().Format("20060102150405")

	t.Run("Save and Load", func(t *testing.T) {
		snap := domain.NewSnapshot(string(domain.StateInputReceived))
		snap.Metadata["foo"] = "bar"
		snap.Metadata["count"] = 42
		snap.WaitingWebhookURL = "https://hooks.example.com/resume"

		err := store.Save(ctx, sessionID, snap)
		require.NoError(t, err, "Save should not return error")

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err, "Load should not return error")
		assert.Equal(t, snap.Mode, loaded.Mode)
		assert.Equal(t, snap.WaitingWebhookURL, loaded.WaitingWebhookURL)
		assert.Equal(t, "bar", loaded.Metadata["foo"])
		// JSON-backed stores turn ints into float64; only presence is part of the contract.
		assert.NotNil(t, loaded.Metadata["count"])
	})

	t.Run("Load Non-Existent", func(t *testing.T) {
		_, err := store.Load(ctx, "non-existent-"+sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound)
	})

	t.Run("Overwrite", func(t *testing.T) {
		require.NoError(t, store.Save(ctx, sessionID, domain.NewSnapshot(string(domain.StateIdle))))
		require.NoError(t, store.Save(ctx, sessionID, domain.NewSnapshot(string(domain.StateSurvey))))

		loaded, err := store.Load(ctx, sessionID)
		require.NoError(t, err)
		assert.Equal(t, string(domain.StateSurvey), loaded.Mode)
		assert.NotNil(t, loaded.Metadata, "metadata should never load as nil")
	})

	t.Run("Delete", func(t *testing.T) {
		err := store.Save(ctx, sessionID, domain.NewSnapshot(string(domain.StateIdle)))
		require.NoError(t, err)

		err = store.Delete(ctx, sessionID)
		require.NoError(t, err, "Delete should not return error")

		_, err = store.Load(ctx, sessionID)
		assert.ErrorIs(t, err, domain.ErrSessionNotFound, "Load after Delete should return ErrSessionNotFound")
	})

	t.Run("List", func(t *testing.T) {
		id1 := sessionID + "-1"
		id2 := sessionID + "-2"
		_ = store.Save(ctx, id1, domain.NewSnapshot(string(domain.StateIdle)))
		_ = store.Save(ctx, id2, domain.NewSnapshot(string(domain.StateIdle)))

		defer func() {
			_ = store.Delete(ctx, id1)
			_ = store.Delete(ctx, id2)
		}()

		sessions, err := store.List(ctx)
		require.NoError(t, err)
		assert.Contains(t, sessions, id1)
		assert.Contains(t, sessions, id2)
	})
}

package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/aretw0/parley/pkg/adapters/redis"
	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{
		Addr: mr.Addr(),
	})
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newClient(t)

	store := redis.NewFromClient(client)
	ports.RunSnapshotStoreContract(t, store)
}

func TestRedisStore_WireFormat(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithPrefix("test:"))
	ctx := context.Background()

	snap := domain.NewSnapshot("agentActive.connected")
	snap.WaitingWebhookURL = "https://hooks.example.com/w/1"
	require.NoError(t, store.Save(ctx, "abc", snap))

	raw, err := mr.Get("test:abc")
	require.NoError(t, err)
	assert.JSONEq(t, `{"mode":"agentActive.connected","metadata":{},"waiting_webhook_url":"https://hooks.example.com/w/1"}`, raw)
}

func TestRedisStore_TTL(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client, redis.WithTTL(1*time.Hour))
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, "ttl-session", domain.NewSnapshot("idle")))
	assert.True(t, mr.Exists("parley:session:ttl-session"))

	mr.FastForward(2 * time.Hour)

	_, err := store.Load(ctx, "ttl-session")
	assert.ErrorIs(t, err, domain.ErrSessionNotFound)
}

func TestRedisStore_ForeignKeysSurviveLoad(t *testing.T) {
	mr, client := newClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	// Another deployment wrote a record without a metadata object.
	require.NoError(t, mr.Set("parley:session:legacy", `{"mode":"idle"}`))

	loaded, err := store.Load(ctx, "legacy")
	require.NoError(t, err)
	assert.Equal(t, "idle", loaded.Mode)
	assert.NotNil(t, loaded.Metadata)
}

package ports_test

import (
	"context"
	"maps"
	"slices"
	"sync"
	"testing"

	"github.com/aretw0/parley/pkg/domain"
	"github.com/aretw0/parley/pkg/ports"
)

// MockStore is an in-memory implementation of SnapshotStore for testing purposes.
type MockStore struct {
	mu   sync.Mutex
	data map[string]*domain.SessionSnapshot
}

func NewMockStore() *MockStore {
	return &MockStore{
		data: make(map[string]*domain.SessionSnapshot),
	}
}

func (m *MockStore) Save(ctx context.Context, sessionID string, snap *domain.SessionSnapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	// Copy to simulate serialization
	copied := *snap
	copied.Metadata = maps.Clone(snap.Metadata)
	if copied.Metadata == nil {
		copied.Metadata = map[string]any{}
	}
	m.data[sessionID] = &copied
	return nil
}

func (m *MockStore) Load(ctx context.Context, sessionID string) (*domain.SessionSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	snap, ok := m.data[sessionID]
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return snap, nil
}

func (m *MockStore) Delete(ctx context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, sessionID)
	return nil
}

func (m *MockStore) List(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Sorted(maps.Keys(m.data)), nil
}

func TestSnapshotStore_Contract(t *testing.T) {
	ports.RunSnapshotStoreContract(t, NewMockStore())
}

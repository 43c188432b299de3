package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrMockPersistence is returned by MockPersister when failures are forced.
var ErrMockPersistence = errors.New("mock persistence failure")

// MockPersister is an in-memory Persister for testing.
type MockPersister struct {
	mu    sync.RWMutex
	blobs map[string][]byte

	// FailLoad and FailSave force errors.
	FailLoad bool
	FailSave bool
	// Saves counts successful saves per identity.
	Saves map[string]int
}

// NewMockPersister creates an empty MockPersister.
func NewMockPersister() *MockPersister {
	return &MockPersister{
		blobs: make(map[string][]byte),
		Saves: make(map[string]int),
	}
}

// Load returns a copy of the saved blob.
func (m *MockPersister) Load(ctx context.Context, userID string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.FailLoad {
		return nil, ErrMockPersistence
	}
	blob, ok := m.blobs[userID]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), blob...), nil
}

// Save stores a copy of blob.
func (m *MockPersister) Save(ctx context.Context, userID string, blob []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.FailSave {
		return ErrMockPersistence
	}
	m.blobs[userID] = append([]byte(nil), blob...)
	m.Saves[userID]++
	return nil
}

// SaveCount returns the number of successful saves of userID.
func (m *MockPersister) SaveCount(userID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.Saves[userID]
}

// ListIdentities returns the identities with a saved blob, sorted.
func (m *MockPersister) ListIdentities(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.blobs))
	for id := range m.blobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

var _ Persister = (*MockPersister)(nil)

package memory

import (
	"context"

	"github.com/hrygo/meetingagent/store"
)

// StorePersister keeps memory blobs in the agent_memory table.
type StorePersister struct {
	store *store.Store
}

// NewStorePersister creates a persister over the database store.
func NewStorePersister(s *store.Store) *StorePersister {
	return &StorePersister{store: s}
}

// Load returns the saved blob of userID, or nil when none exists.
func (p *StorePersister) Load(ctx context.Context, userID string) ([]byte, error) {
	saved, err := p.store.GetAgentMemory(ctx, &store.FindAgentMemory{UserID: &userID})
	if err != nil {
		return nil, err
	}
	if saved == nil {
		return nil, nil
	}
	return []byte(saved.Payload), nil
}

// Save replaces the blob of userID.
func (p *StorePersister) Save(ctx context.Context, userID string, blob []byte) error {
	_, err := p.store.UpsertAgentMemory(ctx, &store.UpsertAgentMemory{
		UserID:  userID,
		Payload: string(blob),
	})
	return err
}

// ListIdentities returns every identity with persisted memory.
func (p *StorePersister) ListIdentities(ctx context.Context) ([]string, error) {
	memories, err := p.store.ListAgentMemories(ctx, &store.FindAgentMemory{})
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(memories))
	for _, m := range memories {
		ids = append(ids, m.UserID)
	}
	return ids, nil
}

var _ Persister = (*StorePersister)(nil)

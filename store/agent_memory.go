package store

import "context"

// AgentMemory is the persisted learning state of one user identity.
type AgentMemory struct {
	UserID    string
	Payload   string // JSON blob, opaque to the store
	CreatedTs int64
	UpdatedTs int64
}

// FindAgentMemory specifies the conditions for finding agent memory.
type FindAgentMemory struct {
	UserID *string
}

// UpsertAgentMemory specifies the data for upserting agent memory.
type UpsertAgentMemory struct {
	UserID  string
	Payload string
}

// UpsertAgentMemory creates or replaces the memory blob of a user.
func (s *Store) UpsertAgentMemory(ctx context.Context, upsert *UpsertAgentMemory) (*AgentMemory, error) {
	return s.driver.UpsertAgentMemory(ctx, upsert)
}

// GetAgentMemory returns the memory blob of a user, or nil if none exists.
func (s *Store) GetAgentMemory(ctx context.Context, find *FindAgentMemory) (*AgentMemory, error) {
	return s.driver.GetAgentMemory(ctx, find)
}

// ListAgentMemories lists memory blobs, used to enumerate known identities.
func (s *Store) ListAgentMemories(ctx context.Context, find *FindAgentMemory) ([]*AgentMemory, error) {
	return s.driver.ListAgentMemories(ctx, find)
}

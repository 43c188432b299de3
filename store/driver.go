package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	IsInitialized(ctx context.Context) (bool, error)

	// Meeting model related methods.
	CreateMeeting(ctx context.Context, create *Meeting) (*Meeting, error)
	ListMeetings(ctx context.Context, find *FindMeeting) ([]*Meeting, error)
	UpdateMeeting(ctx context.Context, update *UpdateMeeting) error
	DeleteMeeting(ctx context.Context, delete *DeleteMeeting) error

	// AgentMemory model related methods.
	UpsertAgentMemory(ctx context.Context, upsert *UpsertAgentMemory) (*AgentMemory, error)
	GetAgentMemory(ctx context.Context, find *FindAgentMemory) (*AgentMemory, error)
	ListAgentMemories(ctx context.Context, find *FindAgentMemory) ([]*AgentMemory, error)
}

package test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/hrygo/meetingagent/internal/profile"
	"github.com/hrygo/meetingagent/store"
	"github.com/hrygo/meetingagent/store/db"
)

// NewTestingStore opens a migrated SQLite store in a temporary directory.
// The store is closed when the test finishes.
func NewTestingStore(ctx context.Context, t *testing.T) *store.Store {
	t.Helper()

	dir := t.TempDir()
	p := &profile.Profile{
		Mode:   "dev",
		Data:   dir,
		Driver: "sqlite",
		DSN:    filepath.Join(dir, "meetingagent_test.db"),
	}

	driver, err := db.NewDBDriver(p)
	if err != nil {
		t.Fatalf("failed to create db driver: %v", err)
	}

	s := store.New(driver, p)
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("failed to migrate db: %v", err)
	}
	t.Cleanup(func() {
		_ = s.Close()
	})
	return s
}

package testutil

import (
	"context"
	"testing"

	"github.com/wgfleet/wgfleet/internal/store"
)

// NewStore creates an in-memory SQLiteStore with the core schema applied.
// The store is automatically closed when the test completes.
func NewStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("testutil.NewStore: %v", err)
	}
	if err := db.Migrate(context.Background(), "core", store.Migrations); err != nil {
		t.Fatalf("testutil.NewStore migrate: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// NewFileStore creates a file-backed SQLiteStore at path with the core
// schema applied. Used by tests that need the database on disk.
func NewFileStore(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(path)
	if err != nil {
		t.Fatalf("testutil.NewFileStore: %v", err)
	}
	if err := db.Migrate(context.Background(), "core", store.Migrations); err != nil {
		t.Fatalf("testutil.NewFileStore migrate: %v", err)
	}
	return db
}

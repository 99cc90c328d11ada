package testutil

import (
	"path/filepath"
	"testing"

	"github.com/HerbHall/netreach/internal/store"
)

// NewStore opens a private in-memory store closed at test cleanup.
func NewStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	return openStore(t, store.MemoryPath)
}

// NewFileStore opens a WAL-mode store under t.TempDir, for tests that
// reopen the database or need the on-disk pragmas.
func NewFileStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	return openStore(t, filepath.Join(t.TempDir(), "netreach.db"))
}

func openStore(t *testing.T, path string) *store.SQLiteStore {
	t.Helper()
	db, err := store.New(path)
	if err != nil {
		t.Fatalf("open store %s: %v", path, err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

package testutil

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/dronedb/ddb-core/internal/store"
)

// OpenTestDB creates a fresh migrated database in a t.TempDir() and registers
// its Close with t.Cleanup, mirroring the temp-dir fixture factory pattern
// the teacher's e2e tests use for throwaway sync roots.
func OpenTestDB(t *testing.T) *store.DB {
	t.Helper()

	dir := t.TempDir()

	db, err := store.Open(context.Background(), filepath.Join(dir, "dbase.sqlite"), nil)
	if err != nil {
		t.Fatalf("testutil: opening test database: %v", err)
	}

	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}

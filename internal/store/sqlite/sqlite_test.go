package sqlite

import (
	"path/filepath"
	"testing"

	"github.com/spigell/job-radar/internal/store"
	"github.com/spigell/job-radar/internal/store/storetest"
)

func TestContract(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		db, err := Open("file::memory:")
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		t.Cleanup(func() { db.Close() })
		return db
	})
}

func TestOpenFileDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobs.db")

	db, err := Open(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("expected schema creation to be idempotent, got %v", err)
	}
	reopened.Close()
}

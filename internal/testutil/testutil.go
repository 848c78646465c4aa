// Package testutil provides shared test helpers for setting up vaults and databases.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/starford/vaultlens/internal/exclude"
	"github.com/starford/vaultlens/internal/index"
	"github.com/starford/vaultlens/internal/storage"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *index.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "vaultlens-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := index.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestVault creates a temporary vault directory with the default exclusions.
func TestVault(t *testing.T) (string, *storage.FS) {
	t.Helper()
	vaultDir := t.TempDir()
	store, err := storage.NewFS(vaultDir, exclude.MustNew(exclude.DefaultPatterns...))
	if err != nil {
		t.Fatal(err)
	}
	return vaultDir, store
}

// WriteNote writes content to the vault-relative path rel, creating parents.
func WriteNote(t *testing.T, vault, rel, content string) {
	t.Helper()
	p := filepath.Join(vault, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

// DiscardLogger returns a logger that drops everything.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// Index runs one index pass over store into db with small batches.
func Index(t *testing.T, db *index.DB, store storage.Provider) *index.Report {
	t.Helper()
	ix, err := index.NewIndexer(db, store, DiscardLogger(), index.Options{
		Workers:      2,
		BatchSize:    3,
		ChunkWindow:  120,
		ChunkOverlap: 20,
		PruneMissing: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := ix.Run(context.Background())
	if err != nil {
		t.Fatalf("index run: %v", err)
	}
	return rep
}

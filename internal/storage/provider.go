// Package storage defines the read-only vault file-system abstraction.
package storage

import "github.com/starford/vaultlens/internal/models"

// Provider is the interface for vault file access. Paths are vault-relative
// and slash-separated.
type Provider interface {
	// Root returns the absolute vault directory.
	Root() string
	// List returns metadata for every non-excluded .md file under dir, sorted
	// by path. Entries that cannot be read are reported as file errors and do
	// not fail the listing.
	List(dir string) ([]models.FileMeta, []models.FileError, error)
	// Stat returns metadata for a single file.
	Stat(path string) (models.FileMeta, error)
	// Excluded reports whether path is filtered out by the exclusion patterns.
	Excluded(path string, isDir bool) bool
	// Read returns the raw bytes of the file at path.
	Read(path string) ([]byte, error)
}

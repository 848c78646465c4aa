//go:build !sqlite_fts5

package index

import (
	"database/sql"

	"github.com/starford/vaultlens/internal/models"
)

// FTSEnabled reports whether chunk text is mirrored into an FTS5 table.
const FTSEnabled = false

func initFTS(_ *sql.DB) error {
	// FTS5 not available; search scans the chunks table directly.
	return nil
}

func dropFTS(_ *sql.DB) error { return nil }

func ftsReplace(_ *sql.Tx, _ int64, _ []models.Chunk) error { return nil }

func ftsDelete(_ *sql.Tx, _ int64) error { return nil }

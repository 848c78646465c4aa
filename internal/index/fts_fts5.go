//go:build sqlite_fts5

package index

import (
	"database/sql"
	"fmt"

	"github.com/starford/vaultlens/internal/models"
)

// FTSEnabled reports whether chunk text is mirrored into an FTS5 table.
const FTSEnabled = true

func initFTS(conn *sql.DB) error {
	_, err := conn.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
			text,
			note_id UNINDEXED,
			chunk_index UNINDEXED,
			tokenize = 'unicode61 remove_diacritics 2'
		);
	`)
	return err
}

func dropFTS(conn *sql.DB) error {
	_, err := conn.Exec(`DROP TABLE IF EXISTS chunks_fts`)
	return err
}

func ftsReplace(tx *sql.Tx, noteID int64, chunks []models.Chunk) error {
	if err := ftsDelete(tx, noteID); err != nil {
		return err
	}
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := tx.Prepare(`INSERT INTO chunks_fts (text, note_id, chunk_index) VALUES (?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare fts insert: %w", err)
	}
	defer stmt.Close()
	for _, c := range chunks {
		if _, err := stmt.Exec(c.Text, noteID, c.Index); err != nil {
			return fmt.Errorf("index: insert fts: %w", err)
		}
	}
	return nil
}

func ftsDelete(tx *sql.Tx, noteID int64) error {
	if _, err := tx.Exec(`DELETE FROM chunks_fts WHERE note_id = ?`, noteID); err != nil {
		return fmt.Errorf("index: delete fts: %w", err)
	}
	return nil
}

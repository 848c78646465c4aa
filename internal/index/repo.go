package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/starford/vaultlens/internal/models"
)

// NoteRecord is everything persisted for one parsed note.
type NoteRecord struct {
	Path        string
	Title       string
	Aliases     []string
	ModTime     time.Time
	Size        int64
	Hash        string
	Frontmatter map[string]any
	Links       []models.Link
	Tags        []string
	Chunks      []models.Chunk
}

// FileState is the change-detection view of a stored note.
type FileState struct {
	ID      int64
	ModTime int64 // unix nanoseconds
	Size    int64
	Hash    string
}

// Unchanged reports whether meta matches the stored mtime and size.
func (s FileState) Unchanged(meta models.FileMeta) bool {
	return s.ModTime == meta.ModTime.UnixNano() && s.Size == meta.Size
}

// FileStates returns the stored change-detection state keyed by path.
func (db *DB) FileStates(ctx context.Context) (map[string]FileState, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, path, mtime, size, hash FROM notes`)
	if err != nil {
		return nil, fmt.Errorf("index: file states: %w", err)
	}
	defer rows.Close()

	out := make(map[string]FileState)
	for rows.Next() {
		var (
			p  string
			st FileState
		)
		if err := rows.Scan(&st.ID, &p, &st.ModTime, &st.Size, &st.Hash); err != nil {
			return nil, fmt.Errorf("index: scan file state: %w", err)
		}
		out[p] = st
	}
	return out, rows.Err()
}

// GetHash returns the stored content hash for a note, or an empty string if
// the path is not indexed.
func (db *DB) GetHash(ctx context.Context, path string) (string, error) {
	var h string
	err := db.conn.QueryRowContext(ctx, `SELECT hash FROM notes WHERE path = ?`, path).Scan(&h)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("index: get hash: %w", err)
	}
	return h, nil
}

// CountUnresolved returns the number of links without a destination.
func (db *DB) CountUnresolved(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM links WHERE dst_note_id IS NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("index: count unresolved: %w", err)
	}
	return n, nil
}

// Batch applies writes inside a single transaction.
type Batch struct {
	tx  *sql.Tx
	ctx context.Context
	now int64
}

// WriteBatch runs fn in one transaction. Either every write in fn commits or
// none does.
func (db *DB) WriteBatch(ctx context.Context, fn func(*Batch) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("index: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := fn(&Batch{tx: tx, ctx: ctx, now: time.Now().UnixNano()}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("index: commit: %w", err)
	}
	return nil
}

// UpsertNote inserts or updates the note row and replaces its links, tags,
// and chunks. The note keeps its id across updates. Links that pointed at
// the note are cleared so the next resolution pass re-evaluates them against
// its new title and aliases.
func (b *Batch) UpsertNote(rec NoteRecord) (int64, error) {
	aliases := rec.Aliases
	if aliases == nil {
		aliases = []string{}
	}
	aliasJSON, err := json.Marshal(aliases)
	if err != nil {
		return 0, fmt.Errorf("index: marshal aliases: %w", err)
	}
	fm := rec.Frontmatter
	if fm == nil {
		fm = map[string]any{}
	}
	fmJSON, err := json.Marshal(fm)
	if err != nil {
		// Frontmatter values that JSON cannot represent degrade to empty.
		fmJSON = []byte("{}")
	}

	var id int64
	err = b.tx.QueryRowContext(b.ctx, `
		INSERT INTO notes (path, title, aliases, mtime, size, hash, frontmatter_json, indexed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			title            = excluded.title,
			aliases          = excluded.aliases,
			mtime            = excluded.mtime,
			size             = excluded.size,
			hash             = excluded.hash,
			frontmatter_json = excluded.frontmatter_json,
			indexed_at       = excluded.indexed_at
		RETURNING id
	`, rec.Path, rec.Title, string(aliasJSON), rec.ModTime.UnixNano(), rec.Size, rec.Hash, string(fmJSON), b.now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("index: upsert note %s: %w", rec.Path, err)
	}

	for _, q := range []string{
		`DELETE FROM links WHERE src_note_id = ?`,
		`DELETE FROM tags WHERE note_id = ?`,
		`DELETE FROM chunks WHERE note_id = ?`,
		`UPDATE links SET dst_note_id = NULL WHERE dst_note_id = ?`,
	} {
		if _, err := b.tx.ExecContext(b.ctx, q, id); err != nil {
			return 0, fmt.Errorf("index: clear note %s: %w", rec.Path, err)
		}
	}

	if err := b.insertLinks(id, rec.Links); err != nil {
		return 0, err
	}
	if err := b.insertTags(id, rec.Tags); err != nil {
		return 0, err
	}
	if err := b.insertChunks(id, rec.Chunks); err != nil {
		return 0, err
	}
	if err := ftsReplace(b.tx, id, rec.Chunks); err != nil {
		return 0, err
	}
	return id, nil
}

func (b *Batch) insertLinks(noteID int64, links []models.Link) error {
	if len(links) == 0 {
		return nil
	}
	stmt, err := b.tx.PrepareContext(b.ctx, `
		INSERT INTO links (src_note_id, dst_note_id, dst_text, kind, is_embed, alias, heading_ref, block_ref)
		VALUES (?, NULL, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("index: prepare link insert: %w", err)
	}
	defer stmt.Close()
	for _, l := range links {
		if _, err := stmt.ExecContext(b.ctx, noteID, l.DstText, string(l.Kind), l.Embed, l.Alias, l.HeadingRef, l.BlockRef); err != nil {
			return fmt.Errorf("index: insert link: %w", err)
		}
	}
	return nil
}

func (b *Batch) insertTags(noteID int64, tags []string) error {
	if len(tags) == 0 {
		return nil
	}
	stmt, err := b.tx.PrepareContext(b.ctx, `INSERT OR IGNORE INTO tags (note_id, tag) VALUES (?, ?)`)
	if err != nil {
		return fmt.Errorf("index: prepare tag insert: %w", err)
	}
	defer stmt.Close()
	for _, t := range tags {
		if _, err := stmt.ExecContext(b.ctx, noteID, t); err != nil {
			return fmt.Errorf("index: insert tag: %w", err)
		}
	}
	return nil
}

func (b *Batch) insertChunks(noteID int64, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	stmt, err := b.tx.PrepareContext(b.ctx, `
		INSERT INTO chunks (note_id, chunk_index, window_size, overlap_size, text)
		VALUES (?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("index: prepare chunk insert: %w", err)
	}
	defer stmt.Close()
	for _, c := range chunks {
		if _, err := stmt.ExecContext(b.ctx, noteID, c.Index, c.Window, c.Overlap, c.Text); err != nil {
			return fmt.Errorf("index: insert chunk: %w", err)
		}
	}
	return nil
}

// TouchNote refreshes the stored mtime and size of a note whose content hash
// did not change.
func (b *Batch) TouchNote(meta models.FileMeta) error {
	_, err := b.tx.ExecContext(b.ctx, `UPDATE notes SET mtime = ?, size = ? WHERE path = ?`,
		meta.ModTime.UnixNano(), meta.Size, meta.Path)
	if err != nil {
		return fmt.Errorf("index: touch note %s: %w", meta.Path, err)
	}
	return nil
}

// DeleteNote removes a note with its links, tags, and chunks. Links from other
// notes that targeted it become unresolved. It reports whether a row existed.
func (b *Batch) DeleteNote(path string) (bool, error) {
	var id int64
	err := b.tx.QueryRowContext(b.ctx, `SELECT id FROM notes WHERE path = ?`, path).Scan(&id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("index: lookup note %s: %w", path, err)
	}
	if err := ftsDelete(b.tx, id); err != nil {
		return false, err
	}
	if _, err := b.tx.ExecContext(b.ctx, `DELETE FROM notes WHERE id = ?`, id); err != nil {
		return false, fmt.Errorf("index: delete note %s: %w", path, err)
	}
	return true, nil
}

// Package query answers structural and textual questions over the index:
// diagnostics, link lookups, tag algebra, search, local graphs, and stats.
//
// Every method is read-only and observes whatever the last index run
// committed.
package query

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/starford/vaultlens/internal/apperr"
	"github.com/starford/vaultlens/internal/exclude"
	"github.com/starford/vaultlens/internal/index"
	"github.com/starford/vaultlens/internal/models"
)

// Options configure an Engine.
type Options struct {
	// Exclude decides which notes are ineligible for diagnostics when
	// DiagnoseOptions.ApplyExcludes is set.
	Exclude       *exclude.Matcher
	CaseSensitive bool
	DefaultLimit  int // search limit when the caller passes <= 0
	MaxDepth      int // graph depth cap
}

// Engine runs queries against one store handle.
type Engine struct {
	db   *index.DB
	conn *sql.DB
	opts Options
}

// New returns an Engine over db.
func New(db *index.DB, opts Options) *Engine {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = 20
	}
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = 3
	}
	return &Engine{db: db, conn: db.Conn(), opts: opts}
}

// NoteRef identifies a note in results.
type NoteRef struct {
	ID    int64  `json:"id"`
	Path  string `json:"path"`
	Title string `json:"title"`
}

// ResolveNote finds a note by path, file name, title, or alias, using the
// same tiers and case policy as link resolution. A numeric reference that
// names no note is tried as a note id.
func (e *Engine) ResolveNote(ctx context.Context, ref string) (NoteRef, error) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return NoteRef{}, fmt.Errorf("query: empty note reference: %w", apperr.ErrInvalidArgument)
	}
	res, err := e.db.LoadResolver(ctx, e.opts.CaseSensitive)
	if err != nil {
		return NoteRef{}, err
	}
	if k, ok := res.Lookup(ref); ok {
		return NoteRef{ID: k.ID, Path: k.Path, Title: k.Title}, nil
	}
	if id, err := strconv.ParseInt(ref, 10, 64); err == nil {
		return e.noteByID(ctx, id)
	}
	return NoteRef{}, fmt.Errorf("query: note %q: %w", ref, apperr.ErrNotFound)
}

func (e *Engine) noteByID(ctx context.Context, id int64) (NoteRef, error) {
	var n NoteRef
	err := e.conn.QueryRowContext(ctx, `SELECT id, path, title FROM notes WHERE id = ?`, id).
		Scan(&n.ID, &n.Path, &n.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return NoteRef{}, fmt.Errorf("query: note %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return NoteRef{}, fmt.Errorf("query: note %d: %w", id, err)
	}
	return n, nil
}

// NoteDetail is a stored note with its tags.
type NoteDetail struct {
	models.Note
	Tags      []string  `json:"tags"`
	IndexedAt time.Time `json:"indexed_at"`
}

// Note returns the stored metadata of one note.
func (e *Engine) Note(ctx context.Context, id int64) (*NoteDetail, error) {
	var (
		d         NoteDetail
		aliases   string
		fm        string
		mtime     int64
		indexedAt int64
	)
	err := e.conn.QueryRowContext(ctx, `
		SELECT id, path, title, aliases, mtime, size, hash, frontmatter_json, indexed_at
		FROM notes WHERE id = ?
	`, id).Scan(&d.ID, &d.Path, &d.Title, &aliases, &mtime, &d.Size, &d.Hash, &fm, &indexedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("query: note %d: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("query: note %d: %w", id, err)
	}
	_ = json.Unmarshal([]byte(aliases), &d.Aliases)
	_ = json.Unmarshal([]byte(fm), &d.Frontmatter)
	d.ModTime = time.Unix(0, mtime)
	d.IndexedAt = time.Unix(0, indexedAt)

	tags, err := e.tagsOf(ctx, id)
	if err != nil {
		return nil, err
	}
	d.Tags = tags
	return &d, nil
}

func (e *Engine) tagsOf(ctx context.Context, id int64) ([]string, error) {
	rows, err := e.conn.QueryContext(ctx, `SELECT tag FROM tags WHERE note_id = ? ORDER BY tag`, id)
	if err != nil {
		return nil, fmt.Errorf("query: tags of %d: %w", id, err)
	}
	defer rows.Close()
	out := []string{}
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func scanRefs(rows *sql.Rows) ([]NoteRef, error) {
	defer rows.Close()
	out := []NoteRef{}
	for rows.Next() {
		var n NoteRef
		if err := rows.Scan(&n.ID, &n.Path, &n.Title); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func boolArg(b bool) int {
	if b {
		return 1
	}
	return 0
}

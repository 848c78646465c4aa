// Package index provides the SQLite-backed vault index: schema, batched
// writes, two-phase link resolution, the Indexer run, and watch mode.
package index

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

// SchemaVersion is bumped whenever the table layout changes. A store with a
// different version is dropped and rebuilt on open.
const SchemaVersion = 1

const coreSchemaSQL = `
CREATE TABLE IF NOT EXISTS notes (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	path             TEXT    NOT NULL UNIQUE,
	title            TEXT    NOT NULL DEFAULT '',
	aliases          TEXT    NOT NULL DEFAULT '[]',
	mtime            INTEGER NOT NULL DEFAULT 0,
	size             INTEGER NOT NULL DEFAULT 0,
	hash             TEXT    NOT NULL DEFAULT '',
	frontmatter_json TEXT    NOT NULL DEFAULT '{}',
	indexed_at       INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS links (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	src_note_id INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	dst_note_id INTEGER REFERENCES notes(id) ON DELETE SET NULL,
	dst_text    TEXT    NOT NULL,
	kind        TEXT    NOT NULL CHECK (kind IN ('wikilink', 'markdown')),
	is_embed    INTEGER NOT NULL DEFAULT 0,
	alias       TEXT    NOT NULL DEFAULT '',
	heading_ref TEXT    NOT NULL DEFAULT '',
	block_ref   TEXT    NOT NULL DEFAULT ''
);

CREATE INDEX IF NOT EXISTS idx_links_src ON links(src_note_id);
CREATE INDEX IF NOT EXISTS idx_links_dst ON links(dst_note_id);

CREATE TABLE IF NOT EXISTS tags (
	note_id INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	tag     TEXT    NOT NULL,
	UNIQUE(note_id, tag)
);

CREATE INDEX IF NOT EXISTS idx_tags_tag ON tags(tag);

CREATE TABLE IF NOT EXISTS chunks (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	note_id      INTEGER NOT NULL REFERENCES notes(id) ON DELETE CASCADE,
	chunk_index  INTEGER NOT NULL,
	window_size  INTEGER NOT NULL,
	overlap_size INTEGER NOT NULL,
	text         TEXT    NOT NULL,
	UNIQUE(note_id, chunk_index)
);
`

const dropSchemaSQL = `
DROP TABLE IF EXISTS chunks;
DROP TABLE IF EXISTS tags;
DROP TABLE IF EXISTS links;
DROP TABLE IF EXISTS notes;
DROP TABLE IF EXISTS schema_version;
`

// DB wraps a sql.DB with index-specific operations. It is the single owned
// handle to the store; every component receives it explicitly.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the SQLite database at path and applies the schema.
// The parent directory is created when missing.
func Open(path string) (*DB, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("index: create db dir: %w", err)
		}
	}
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	return setup(conn)
}

// OpenMemory opens a private in-memory store. It is limited to one
// connection because every new connection would see an empty database.
func OpenMemory() (*DB, error) {
	conn, err := sql.Open("sqlite3", ":memory:?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("index: open db: %w", err)
	}
	conn.SetMaxOpenConns(1)
	return setup(conn)
}

func setup(conn *sql.DB) (*DB, error) {
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("index: ping: %w", err)
	}
	db := &DB{conn: conn}
	if err := db.migrate(context.Background()); err != nil {
		conn.Close()
		return nil, err
	}
	return db, nil
}

// migrate creates the schema, rebuilding it when the stored version differs.
func (db *DB) migrate(ctx context.Context) error {
	if _, err := db.conn.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("index: create schema_version: %w", err)
	}
	var version int
	err := db.conn.QueryRowContext(ctx, `SELECT version FROM schema_version LIMIT 1`).Scan(&version)
	switch {
	case err == sql.ErrNoRows:
		// Fresh store, or one from before versioning: rebuild.
	case err != nil:
		return fmt.Errorf("index: read schema version: %w", err)
	case version == SchemaVersion:
		if _, err := db.conn.ExecContext(ctx, coreSchemaSQL); err != nil {
			return fmt.Errorf("index: apply core schema: %w", err)
		}
		return initFTS(db.conn)
	}
	return db.rebuild(ctx)
}

func (db *DB) rebuild(ctx context.Context) error {
	if err := dropFTS(db.conn); err != nil {
		return fmt.Errorf("index: drop fts schema: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, dropSchemaSQL); err != nil {
		return fmt.Errorf("index: drop schema: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, `CREATE TABLE schema_version (version INTEGER NOT NULL)`); err != nil {
		return fmt.Errorf("index: create schema_version: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, coreSchemaSQL); err != nil {
		return fmt.Errorf("index: apply core schema: %w", err)
	}
	if err := initFTS(db.conn); err != nil {
		return fmt.Errorf("index: apply fts schema: %w", err)
	}
	if _, err := db.conn.ExecContext(ctx, `INSERT INTO schema_version (version) VALUES (?)`, SchemaVersion); err != nil {
		return fmt.Errorf("index: write schema version: %w", err)
	}
	return nil
}

// Reset drops every table and recreates an empty store.
func (db *DB) Reset(ctx context.Context) error {
	return db.rebuild(ctx)
}

// Conn exposes the underlying handle to read-only consumers such as the
// query engine.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

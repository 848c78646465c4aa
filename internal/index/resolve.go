package index

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"net/url"
	"path"
	"sort"
	"strings"

	"github.com/starford/vaultlens/internal/models"
)

// NoteKey is the identity of a note as seen by link resolution.
type NoteKey struct {
	ID      int64
	Path    string
	Title   string
	Aliases []string
}

// Resolver maps raw link text to note ids. Candidates are tried in tiers:
// exact path, path suffix (which covers the bare file name), title, alias.
// The first tier with a hit wins; inside a tier the smallest path wins.
type Resolver struct {
	caseSensitive bool
	byPath        map[string]NoteKey
	bySuffix      map[string]NoteKey
	byTitle       map[string]NoteKey
	byAlias       map[string]NoteKey
}

// NewResolver indexes notes for lookup.
func NewResolver(notes []NoteKey, caseSensitive bool) *Resolver {
	sorted := make([]NoteKey, len(notes))
	copy(sorted, notes)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Path < sorted[j].Path })

	r := &Resolver{
		caseSensitive: caseSensitive,
		byPath:        make(map[string]NoteKey, len(sorted)),
		bySuffix:      make(map[string]NoteKey, len(sorted)),
		byTitle:       make(map[string]NoteKey, len(sorted)),
		byAlias:       make(map[string]NoteKey),
	}
	put := func(m map[string]NoteKey, key string, n NoteKey) {
		if key == "" {
			return
		}
		if _, taken := m[key]; !taken {
			m[key] = n
		}
	}
	for _, n := range sorted {
		p := r.pathKey(n.Path)
		put(r.byPath, p, n)
		segs := strings.Split(p, "/")
		for i := range segs {
			put(r.bySuffix, strings.Join(segs[i:], "/"), n)
		}
		put(r.byTitle, r.fold(n.Title), n)
		for _, a := range n.Aliases {
			put(r.byAlias, r.fold(a), n)
		}
	}
	return r
}

func (r *Resolver) fold(s string) string {
	s = strings.TrimSpace(s)
	if !r.caseSensitive {
		s = strings.ToLower(s)
	}
	return s
}

// pathKey normalises a vault path: slash-cleaned, no leading "./" or "/",
// and without the .md extension.
func (r *Resolver) pathKey(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return ""
	}
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if strings.EqualFold(path.Ext(p), ".md") {
		p = p[:len(p)-len(".md")]
	}
	return r.fold(p)
}

// Resolve finds the target note for a link written in the note at srcPath.
func (r *Resolver) Resolve(dstText string, kind models.LinkKind, srcPath string) (NoteKey, bool) {
	text := dstText
	if kind == models.KindMarkdown {
		if u, err := url.PathUnescape(dstText); err == nil {
			text = u
		}
		if !strings.HasPrefix(text, "/") {
			if n, ok := r.byPath[r.pathKey(path.Join(path.Dir(srcPath), text))]; ok {
				return n, true
			}
		}
	}
	return r.Lookup(text)
}

// Lookup resolves a free-form note reference without a source context.
func (r *Resolver) Lookup(ref string) (NoteKey, bool) {
	key := r.pathKey(ref)
	if key == "" {
		return NoteKey{}, false
	}
	if n, ok := r.byPath[key]; ok {
		return n, true
	}
	if n, ok := r.bySuffix[key]; ok {
		return n, true
	}
	folded := r.fold(ref)
	if n, ok := r.byTitle[folded]; ok {
		return n, true
	}
	if n, ok := r.byAlias[folded]; ok {
		return n, true
	}
	return NoteKey{}, false
}

// NoteKeys loads the resolution view of every note, ordered by path.
func (db *DB) NoteKeys(ctx context.Context) ([]NoteKey, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT id, path, title, aliases FROM notes ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("index: note keys: %w", err)
	}
	defer rows.Close()

	var out []NoteKey
	for rows.Next() {
		var (
			k       NoteKey
			aliases string
		)
		if err := rows.Scan(&k.ID, &k.Path, &k.Title, &aliases); err != nil {
			return nil, fmt.Errorf("index: scan note key: %w", err)
		}
		_ = json.Unmarshal([]byte(aliases), &k.Aliases)
		out = append(out, k)
	}
	return out, rows.Err()
}

// LoadResolver builds a Resolver over the current store contents.
func (db *DB) LoadResolver(ctx context.Context, caseSensitive bool) (*Resolver, error) {
	keys, err := db.NoteKeys(ctx)
	if err != nil {
		return nil, err
	}
	return NewResolver(keys, caseSensitive), nil
}

// ResolveStats summarises one resolution pass.
type ResolveStats struct {
	Resolved int // links that gained a destination
	Broken   int // links left without a destination
}

type linkRow struct {
	id      int64
	dst     sql.NullInt64
	dstText string
	kind    models.LinkKind
	srcPath string
}

// ResolveLinks is the second indexing phase. Every link is matched against
// the notes currently in the store and its destination updated when the
// match differs from what is stored, so an incremental run converges on the
// same graph as a full rebuild. Links with no match are left unresolved.
func (db *DB) ResolveLinks(ctx context.Context, caseSensitive bool) (ResolveStats, error) {
	var stats ResolveStats

	res, err := db.LoadResolver(ctx, caseSensitive)
	if err != nil {
		return stats, err
	}

	links, err := db.allLinks(ctx)
	if err != nil {
		return stats, err
	}

	type update struct {
		id  int64
		dst sql.NullInt64
	}
	var updates []update
	for _, l := range links {
		var want sql.NullInt64
		if n, ok := res.Resolve(l.dstText, l.kind, l.srcPath); ok {
			want = sql.NullInt64{Int64: n.ID, Valid: true}
		}
		if !want.Valid {
			stats.Broken++
		}
		if want == l.dst {
			continue
		}
		if want.Valid && !l.dst.Valid {
			stats.Resolved++
		}
		updates = append(updates, update{id: l.id, dst: want})
	}
	if len(updates) == 0 {
		return stats, nil
	}

	err = db.WriteBatch(ctx, func(b *Batch) error {
		stmt, err := b.tx.PrepareContext(ctx, `UPDATE links SET dst_note_id = ? WHERE id = ?`)
		if err != nil {
			return fmt.Errorf("index: prepare resolve: %w", err)
		}
		defer stmt.Close()
		for _, u := range updates {
			if _, err := stmt.ExecContext(ctx, u.dst, u.id); err != nil {
				return fmt.Errorf("index: resolve link %d: %w", u.id, err)
			}
		}
		return nil
	})
	return stats, err
}

func (db *DB) allLinks(ctx context.Context) ([]linkRow, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT l.id, l.dst_note_id, l.dst_text, l.kind, n.path
		FROM links l
		JOIN notes n ON n.id = l.src_note_id
		ORDER BY l.id
	`)
	if err != nil {
		return nil, fmt.Errorf("index: load links: %w", err)
	}
	defer rows.Close()

	var out []linkRow
	for rows.Next() {
		var (
			l    linkRow
			kind string
		)
		if err := rows.Scan(&l.id, &l.dst, &l.dstText, &kind, &l.srcPath); err != nil {
			return nil, fmt.Errorf("index: scan link: %w", err)
		}
		l.kind = models.LinkKind(kind)
		out = append(out, l)
	}
	return out, rows.Err()
}

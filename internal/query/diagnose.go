package query

import (
	"context"
	"fmt"

	"github.com/starford/vaultlens/internal/models"
)

// DiagnoseOptions are the two toggles of the orphan and dead-end checks.
type DiagnoseOptions struct {
	// IgnoreEmbeds makes embed links not count as connections, so a note
	// that is only ever transcluded can still be reported.
	IgnoreEmbeds bool `json:"ignore_embeds"`
	// ApplyExcludes drops notes matching the diagnostics exclusion patterns
	// from the result.
	ApplyExcludes bool `json:"apply_excludes"`
}

// Connections are resolved links only. A broken outgoing link does not make
// a note "linked", and self-links count in both directions.
const (
	hasOutgoing = `EXISTS (SELECT 1 FROM links l WHERE l.src_note_id = n.id AND l.dst_note_id IS NOT NULL AND (?1 = 0 OR l.is_embed = 0))`
	hasIncoming = `EXISTS (SELECT 1 FROM links l WHERE l.dst_note_id = n.id AND (?1 = 0 OR l.is_embed = 0))`
)

// Orphans returns notes with no incoming and no outgoing connections,
// ordered by path.
func (e *Engine) Orphans(ctx context.Context, opts DiagnoseOptions) ([]NoteRef, error) {
	q := `SELECT n.id, n.path, n.title FROM notes n WHERE NOT ` + hasOutgoing + ` AND NOT ` + hasIncoming + ` ORDER BY n.path`
	return e.diagnose(ctx, "orphans", q, opts)
}

// DeadEnds returns notes that have incoming connections but no outgoing
// ones, ordered by path.
func (e *Engine) DeadEnds(ctx context.Context, opts DiagnoseOptions) ([]NoteRef, error) {
	q := `SELECT n.id, n.path, n.title FROM notes n WHERE NOT ` + hasOutgoing + ` AND ` + hasIncoming + ` ORDER BY n.path`
	return e.diagnose(ctx, "dead ends", q, opts)
}

func (e *Engine) diagnose(ctx context.Context, name, q string, opts DiagnoseOptions) ([]NoteRef, error) {
	rows, err := e.conn.QueryContext(ctx, q, boolArg(opts.IgnoreEmbeds))
	if err != nil {
		return nil, fmt.Errorf("query: %s: %w", name, err)
	}
	refs, err := scanRefs(rows)
	if err != nil {
		return nil, fmt.Errorf("query: %s: %w", name, err)
	}
	if !opts.ApplyExcludes || e.opts.Exclude == nil {
		return refs, nil
	}
	out := refs[:0]
	for _, r := range refs {
		if !e.opts.Exclude.Match(r.Path) {
			out = append(out, r)
		}
	}
	return out, nil
}

// BrokenLink is a link whose destination text matched no note.
type BrokenLink struct {
	LinkID     int64           `json:"link_id"`
	Source     NoteRef         `json:"source"`
	DstText    string          `json:"dst_text"`
	Kind       models.LinkKind `json:"kind"`
	Embed      bool            `json:"embed"`
	Alias      string          `json:"alias,omitempty"`
	HeadingRef string          `json:"heading_ref,omitempty"`
	BlockRef   string          `json:"block_ref,omitempty"`
}

// BrokenLinks lists every unresolved link ordered by source path, then by
// position of the link in the source.
func (e *Engine) BrokenLinks(ctx context.Context) ([]BrokenLink, error) {
	rows, err := e.conn.QueryContext(ctx, `
		SELECT l.id, n.id, n.path, n.title, l.dst_text, l.kind, l.is_embed, l.alias, l.heading_ref, l.block_ref
		FROM links l
		JOIN notes n ON n.id = l.src_note_id
		WHERE l.dst_note_id IS NULL
		ORDER BY n.path, l.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query: broken links: %w", err)
	}
	defer rows.Close()

	out := []BrokenLink{}
	for rows.Next() {
		var (
			b    BrokenLink
			kind string
		)
		if err := rows.Scan(&b.LinkID, &b.Source.ID, &b.Source.Path, &b.Source.Title,
			&b.DstText, &kind, &b.Embed, &b.Alias, &b.HeadingRef, &b.BlockRef); err != nil {
			return nil, fmt.Errorf("query: broken links: %w", err)
		}
		b.Kind = models.LinkKind(kind)
		out = append(out, b)
	}
	return out, rows.Err()
}

package query

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/starford/vaultlens/internal/models"
)

// LinkRecord is one stored link with both endpoints. Target is nil when the
// link is unresolved.
type LinkRecord struct {
	ID         int64           `json:"id"`
	Source     NoteRef         `json:"source"`
	Target     *NoteRef        `json:"target,omitempty"`
	DstText    string          `json:"dst_text"`
	Kind       models.LinkKind `json:"kind"`
	Embed      bool            `json:"embed"`
	Alias      string          `json:"alias,omitempty"`
	HeadingRef string          `json:"heading_ref,omitempty"`
	BlockRef   string          `json:"block_ref,omitempty"`
}

const linkSelect = `
	SELECT l.id, s.id, s.path, s.title, d.id, d.path, d.title,
	       l.dst_text, l.kind, l.is_embed, l.alias, l.heading_ref, l.block_ref
	FROM links l
	JOIN notes s ON s.id = l.src_note_id
	LEFT JOIN notes d ON d.id = l.dst_note_id
`

// Backlinks returns the links that resolve to noteID, ordered by source path.
func (e *Engine) Backlinks(ctx context.Context, noteID int64) ([]LinkRecord, error) {
	if _, err := e.noteByID(ctx, noteID); err != nil {
		return nil, err
	}
	return e.links(ctx, "backlinks", linkSelect+` WHERE l.dst_note_id = ? ORDER BY s.path, l.id`, noteID)
}

// ForwardLinks returns every link written in noteID, resolved or not, in
// the order they were stored.
func (e *Engine) ForwardLinks(ctx context.Context, noteID int64) ([]LinkRecord, error) {
	if _, err := e.noteByID(ctx, noteID); err != nil {
		return nil, err
	}
	return e.links(ctx, "forward links", linkSelect+` WHERE l.src_note_id = ? ORDER BY l.id`, noteID)
}

func (e *Engine) links(ctx context.Context, name, q string, args ...any) ([]LinkRecord, error) {
	rows, err := e.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %s: %w", name, err)
	}
	defer rows.Close()

	out := []LinkRecord{}
	for rows.Next() {
		var (
			r                 LinkRecord
			kind              string
			dstID             sql.NullInt64
			dstPath, dstTitle sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Source.ID, &r.Source.Path, &r.Source.Title,
			&dstID, &dstPath, &dstTitle,
			&r.DstText, &kind, &r.Embed, &r.Alias, &r.HeadingRef, &r.BlockRef); err != nil {
			return nil, fmt.Errorf("query: %s: %w", name, err)
		}
		r.Kind = models.LinkKind(kind)
		if dstID.Valid {
			r.Target = &NoteRef{ID: dstID.Int64, Path: dstPath.String, Title: dstTitle.String}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

//go:build sqlite_fts5

package query

import (
	"context"
	"fmt"
	"strings"
)

// search ranks chunks with FTS5 bm25. Lower bm25 is better, so the score is
// negated to keep "higher is better" across builds.
func (e *Engine) search(ctx context.Context, terms []string, limit int) ([]SearchHit, error) {
	quoted := make([]string, len(terms))
	for i, t := range terms {
		quoted[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	rows, err := e.conn.QueryContext(ctx, `
		SELECT n.id, n.path, n.title, chunks_fts.chunk_index, -bm25(chunks_fts),
		       snippet(chunks_fts, 0, '', '', '…', 24)
		FROM chunks_fts
		JOIN notes n ON n.id = chunks_fts.note_id
		WHERE chunks_fts MATCH ?
		ORDER BY bm25(chunks_fts), n.path, chunks_fts.chunk_index
		LIMIT ?
	`, strings.Join(quoted, " "), limit)
	if err != nil {
		return nil, fmt.Errorf("query: search: %w", err)
	}
	defer rows.Close()

	hits := []SearchHit{}
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ID, &h.Path, &h.Title, &h.ChunkIndex, &h.Score, &h.Snippet); err != nil {
			return nil, fmt.Errorf("query: search: %w", err)
		}
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: search: %w", err)
	}
	sortHits(hits)
	return hits, nil
}

//go:build !sqlite_fts5

package query

import (
	"context"
	"fmt"
	"strings"
)

// search scores chunks by term frequency. SQL LIKE narrows candidates and the
// exact, Unicode-aware match is done here. LIKE only folds ASCII case, so
// terms with other letters are left to the Go side.
func (e *Engine) search(ctx context.Context, terms []string, limit int) ([]SearchHit, error) {
	var (
		where []string
		args  []any
	)
	where = append(where, "1 = 1")
	for _, t := range terms {
		if !isASCII(t) {
			continue
		}
		where = append(where, `c.text LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(t)+"%")
	}
	rows, err := e.conn.QueryContext(ctx, `
		SELECT n.id, n.path, n.title, c.chunk_index, c.text
		FROM chunks c
		JOIN notes n ON n.id = c.note_id
		WHERE `+strings.Join(where, " AND "), args...)
	if err != nil {
		return nil, fmt.Errorf("query: search: %w", err)
	}
	defer rows.Close()

	hits := []SearchHit{}
	for rows.Next() {
		var (
			h    SearchHit
			text string
		)
		if err := rows.Scan(&h.ID, &h.Path, &h.Title, &h.ChunkIndex, &text); err != nil {
			return nil, fmt.Errorf("query: search: %w", err)
		}
		lower := strings.ToLower(text)
		score := 0
		for _, t := range terms {
			n := strings.Count(lower, t)
			if n == 0 {
				score = 0
				break
			}
			score += n
		}
		if score == 0 {
			continue
		}
		h.Score = float64(score)
		h.Snippet = snippet(text, terms, 160)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("query: search: %w", err)
	}

	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] >= 0x80 {
			return false
		}
	}
	return true
}

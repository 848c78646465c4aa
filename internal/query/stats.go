package query

import (
	"context"
	"fmt"

	"github.com/starford/vaultlens/internal/index"
)

// Stats summarizes the index contents.
type Stats struct {
	Notes           int  `json:"notes"`
	Links           int  `json:"links"`
	ResolvedLinks   int  `json:"resolved_links"`
	UnresolvedLinks int  `json:"unresolved_links"`
	Embeds          int  `json:"embeds"`
	Tags            int  `json:"tags"`
	DistinctTags    int  `json:"distinct_tags"`
	Chunks          int  `json:"chunks"`
	FullText        bool `json:"full_text"`
}

// Stats counts rows across the store in one read.
func (e *Engine) Stats(ctx context.Context) (*Stats, error) {
	var s Stats
	err := e.conn.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM notes),
			(SELECT COUNT(*) FROM links),
			(SELECT COUNT(*) FROM links WHERE dst_note_id IS NOT NULL),
			(SELECT COUNT(*) FROM links WHERE dst_note_id IS NULL),
			(SELECT COUNT(*) FROM links WHERE is_embed = 1),
			(SELECT COUNT(*) FROM tags),
			(SELECT COUNT(DISTINCT tag) FROM tags),
			(SELECT COUNT(*) FROM chunks)
	`).Scan(&s.Notes, &s.Links, &s.ResolvedLinks, &s.UnresolvedLinks,
		&s.Embeds, &s.Tags, &s.DistinctTags, &s.Chunks)
	if err != nil {
		return nil, fmt.Errorf("query: stats: %w", err)
	}
	s.FullText = index.FTSEnabled
	return &s, nil
}

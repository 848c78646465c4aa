package query

import (
	"context"
	"fmt"
	"strings"
)

// TaggedNote is a note with its full tag list.
type TaggedNote struct {
	NoteRef
	Tags []string `json:"tags"`
}

// TagCount is a tag with the number of notes carrying it.
type TagCount struct {
	Tag   string `json:"tag"`
	Count int    `json:"count"`
}

// normalizeTags trims a leading '#', drops blanks, and removes duplicates.
func normalizeTags(tags []string) []string {
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.TrimPrefix(strings.TrimSpace(t), "#")
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// TagsAnd returns notes carrying every tag in tags, ordered by path. The
// empty set constrains nothing, so it matches every note.
func (e *Engine) TagsAnd(ctx context.Context, tags []string) ([]TaggedNote, error) {
	tags = normalizeTags(tags)
	if len(tags) == 0 {
		return e.tagged(ctx, "tags and", `SELECT id, path, title FROM notes ORDER BY path`)
	}
	q := `
		SELECT n.id, n.path, n.title
		FROM notes n
		WHERE n.id IN (
			SELECT note_id FROM tags WHERE tag IN (` + placeholders(len(tags)) + `)
			GROUP BY note_id HAVING COUNT(DISTINCT tag) = ?
		)
		ORDER BY n.path`
	args := make([]any, 0, len(tags)+1)
	for _, t := range tags {
		args = append(args, t)
	}
	args = append(args, len(tags))
	return e.tagged(ctx, "tags and", q, args...)
}

// TagsOr returns notes carrying at least one tag in tags, ordered by path.
func (e *Engine) TagsOr(ctx context.Context, tags []string) ([]TaggedNote, error) {
	tags = normalizeTags(tags)
	if len(tags) == 0 {
		return []TaggedNote{}, nil
	}
	q := `
		SELECT n.id, n.path, n.title
		FROM notes n
		WHERE n.id IN (SELECT note_id FROM tags WHERE tag IN (` + placeholders(len(tags)) + `))
		ORDER BY n.path`
	args := make([]any, 0, len(tags))
	for _, t := range tags {
		args = append(args, t)
	}
	return e.tagged(ctx, "tags or", q, args...)
}

// NotesByTag returns notes carrying tag, ordered by path.
func (e *Engine) NotesByTag(ctx context.Context, tag string) ([]TaggedNote, error) {
	tags := normalizeTags([]string{tag})
	if len(tags) == 0 {
		return []TaggedNote{}, nil
	}
	return e.TagsAnd(ctx, tags)
}

// ListTags returns every distinct tag with its note count, ordered by tag.
func (e *Engine) ListTags(ctx context.Context) ([]TagCount, error) {
	rows, err := e.conn.QueryContext(ctx, `SELECT tag, COUNT(*) FROM tags GROUP BY tag ORDER BY tag`)
	if err != nil {
		return nil, fmt.Errorf("query: list tags: %w", err)
	}
	defer rows.Close()
	out := []TagCount{}
	for rows.Next() {
		var tc TagCount
		if err := rows.Scan(&tc.Tag, &tc.Count); err != nil {
			return nil, fmt.Errorf("query: list tags: %w", err)
		}
		out = append(out, tc)
	}
	return out, rows.Err()
}

func (e *Engine) tagged(ctx context.Context, name, q string, args ...any) ([]TaggedNote, error) {
	rows, err := e.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %s: %w", name, err)
	}
	refs, err := scanRefs(rows)
	if err != nil {
		return nil, fmt.Errorf("query: %s: %w", name, err)
	}
	out := make([]TaggedNote, 0, len(refs))
	for _, r := range refs {
		tags, err := e.tagsOf(ctx, r.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, TaggedNote{NoteRef: r, Tags: tags})
	}
	return out, nil
}

package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/starford/vaultlens/internal/apperr"
)

// SearchHit is one matching chunk.
type SearchHit struct {
	NoteRef
	ChunkIndex int     `json:"chunk_index"`
	Score      float64 `json:"score"`
	Snippet    string  `json:"snippet"`
}

// Search returns chunks containing every term of q. Ranking is
// deterministic: best score first, then path, then chunk index. A limit of
// zero or less uses the configured default.
func (e *Engine) Search(ctx context.Context, q string, limit int) ([]SearchHit, error) {
	terms := searchTerms(q)
	if len(terms) == 0 {
		return nil, fmt.Errorf("query: empty search: %w", apperr.ErrInvalidArgument)
	}
	if limit <= 0 {
		limit = e.opts.DefaultLimit
	}
	return e.search(ctx, terms, limit)
}

// searchTerms splits q into lower-cased words.
func searchTerms(q string) []string {
	fields := strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]struct{}, len(fields))
	out := fields[:0]
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

func sortHits(hits []SearchHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		if hits[i].Path != hits[j].Path {
			return hits[i].Path < hits[j].Path
		}
		return hits[i].ChunkIndex < hits[j].ChunkIndex
	})
}

// snippet returns up to width runes of text centred on the first term hit.
func snippet(text string, terms []string, width int) string {
	runes := []rune(text)
	lower := []rune(strings.ToLower(text))
	pos := -1
	for _, t := range terms {
		if i := runeIndex(lower, []rune(t)); i >= 0 && (pos < 0 || i < pos) {
			pos = i
		}
	}
	if pos < 0 {
		pos = 0
	}
	start := max(pos-width/3, 0)
	end := min(start+width, len(runes))
	out := strings.Join(strings.Fields(string(runes[start:end])), " ")
	if start > 0 {
		out = "…" + out
	}
	if end < len(runes) {
		out += "…"
	}
	return out
}

func runeIndex(haystack, needle []rune) int {
	if len(needle) == 0 || len(needle) > len(haystack) {
		return -1
	}
outer:
	for i := 0; i+len(needle) <= len(haystack); i++ {
		for j := range needle {
			if haystack[i+j] != needle[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}

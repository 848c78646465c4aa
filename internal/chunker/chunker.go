// Package chunker splits note text into overlapping windows for search.
//
// All sizes are measured in characters (runes), never bytes, so multi-byte
// text is never cut inside a code point.
package chunker

import (
	"fmt"
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/starford/vaultlens/internal/apperr"
	"github.com/starford/vaultlens/internal/models"
)

const sentenceBoundary = ". "

// OverlapText returns the context carried from the end of text into the next
// chunk: the last overlap characters, shortened to start right after the last
// ". " inside them when there is one.
func OverlapText(text string, overlap int) string {
	if utf8.RuneCountInString(text) <= overlap {
		return text
	}
	if overlap <= 0 {
		return ""
	}
	tail := lastRunes(text, overlap)
	if i := strings.LastIndex(tail, sentenceBoundary); i >= 0 {
		return tail[i+len(sentenceBoundary):]
	}
	return tail
}

// lastRunes returns the suffix of s holding its last n runes.
func lastRunes(s string, n int) string {
	i := len(s)
	for ; n > 0 && i > 0; n-- {
		_, size := utf8.DecodeLastRuneInString(s[:i])
		i -= size
	}
	return s[i:]
}

// Validate checks a window/overlap pair.
func Validate(window, overlap int) error {
	if window < 1 {
		return fmt.Errorf("chunker: window must be positive, got %d: %w", window, apperr.ErrInvalidArgument)
	}
	if overlap < 0 || overlap >= window {
		return fmt.Errorf("chunker: overlap must be in [0, %d), got %d: %w", window, overlap, apperr.ErrInvalidArgument)
	}
	return nil
}

// Split returns the chunks of text. Every chunk after the first starts with
// OverlapText of its predecessor, so stripping that prefix and concatenating
// reconstructs text exactly.
func Split(text string, window, overlap int) ([]models.Chunk, error) {
	if err := Validate(window, overlap); err != nil {
		return nil, err
	}
	var out []models.Chunk
	for c := range All(text, window, overlap) {
		out = append(out, c)
	}
	return out, nil
}

// All yields the chunks of text lazily. The sequence can be ranged over any
// number of times. Invalid sizes yield nothing; use Validate or Split to get
// the error.
func All(text string, window, overlap int) iter.Seq[models.Chunk] {
	return func(yield func(models.Chunk) bool) {
		if Validate(window, overlap) != nil || text == "" {
			return
		}
		runes := []rune(text)
		carry := ""
		for pos, idx := 0, 0; pos < len(runes); idx++ {
			room := window - utf8.RuneCountInString(carry)
			end := breakPoint(runes, pos, min(pos+room, len(runes)))
			chunk := carry + string(runes[pos:end])
			if !yield(models.Chunk{Index: idx, Window: window, Overlap: overlap, Text: chunk}) {
				return
			}
			carry = OverlapText(chunk, overlap)
			pos = end
		}
	}
}

// breakPoint moves end back to just after the last whitespace in the second
// half of runes[pos:end], keeping words whole when possible.
func breakPoint(runes []rune, pos, end int) int {
	if end >= len(runes) {
		return end
	}
	floor := pos + (end-pos)/2
	for i := end - 1; i > floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}

// Reassemble inverts Split.
func Reassemble(chunks []models.Chunk) string {
	var b strings.Builder
	for i, c := range chunks {
		if i == 0 {
			b.WriteString(c.Text)
			continue
		}
		carry := OverlapText(chunks[i-1].Text, c.Overlap)
		b.WriteString(strings.TrimPrefix(c.Text, carry))
	}
	return b.String()
}

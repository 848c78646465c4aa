package chunker

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/starford/vaultlens/internal/apperr"
)

func TestOverlapText_ShortTextUnchanged(t *testing.T) {
	assert.Equal(t, "short", OverlapText("short", 10))
	assert.Equal(t, "exact", OverlapText("exact", 5))
}

func TestOverlapText_Empty(t *testing.T) {
	assert.Equal(t, "", OverlapText("", 10))
	assert.Equal(t, "", OverlapText("", 0))
}

func TestOverlapText_ZeroOverlap(t *testing.T) {
	assert.Equal(t, "", OverlapText("some text here", 0))
}

func TestOverlapText_PrefersSentenceBoundary(t *testing.T) {
	text := "First sentence here. Second one. Tail words"
	// Trailing 20 chars: "nd one. Tail words" plus two more; last ". " is inside.
	got := OverlapText(text, 20)
	assert.Equal(t, "Tail words", got)
}

func TestOverlapText_FallsBackToRawTail(t *testing.T) {
	text := "no sentence boundary anywhere in this text"
	assert.Equal(t, "this text", OverlapText(text, 9))
}

func TestOverlapText_MultiByte(t *testing.T) {
	text := "Привет мир. Как дела сегодня"
	got := OverlapText(text, 18)
	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, "Как дела сегодня", got)

	tail := OverlapText("日本語のテキストです", 4)
	assert.Equal(t, "ストです", tail)
}

func TestValidate(t *testing.T) {
	assert.NoError(t, Validate(100, 0))
	assert.NoError(t, Validate(100, 99))
	assert.ErrorIs(t, Validate(0, 0), apperr.ErrInvalidArgument)
	assert.ErrorIs(t, Validate(10, 10), apperr.ErrInvalidArgument)
	assert.ErrorIs(t, Validate(10, -1), apperr.ErrInvalidArgument)
}

func TestSplit_EmptyText(t *testing.T) {
	chunks, err := Split("", 10, 2)
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestSplit_SingleChunk(t *testing.T) {
	chunks, err := Split("tiny note", 100, 20)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "tiny note", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].Index)
	assert.Equal(t, 100, chunks[0].Window)
	assert.Equal(t, 20, chunks[0].Overlap)
}

func TestSplit_ChunksRespectWindowAndCarryOverlap(t *testing.T) {
	text := strings.Repeat("alpha beta gamma delta. ", 40)
	chunks, err := Split(text, 120, 30)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.LessOrEqual(t, utf8.RuneCountInString(c.Text), 120)
		if i > 0 {
			carry := OverlapText(chunks[i-1].Text, 30)
			assert.True(t, strings.HasPrefix(c.Text, carry), "chunk %d must start with carried overlap", i)
		}
	}
}

func TestSplit_ReassembleReconstructsText(t *testing.T) {
	cases := []struct {
		name            string
		text            string
		window, overlap int
	}{
		{"prose", strings.Repeat("The quick brown fox jumps over the lazy dog. ", 50), 80, 25},
		{"no spaces", strings.Repeat("x", 1000), 64, 16},
		{"no overlap", strings.Repeat("word ", 300), 50, 0},
		{"unicode", strings.Repeat("Съешь же ещё этих мягких французских булок. ", 30), 70, 20},
		{"newlines", strings.Repeat("line one\nline two\n\n", 60), 45, 10},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			chunks, err := Split(tc.text, tc.window, tc.overlap)
			require.NoError(t, err)
			assert.Equal(t, tc.text, Reassemble(chunks))
			for _, c := range chunks {
				assert.True(t, utf8.ValidString(c.Text))
			}
		})
	}
}

func TestAll_IsRestartable(t *testing.T) {
	seq := All(strings.Repeat("abc def ", 30), 20, 5)
	var first, second []string
	for c := range seq {
		first = append(first, c.Text)
	}
	for c := range seq {
		second = append(second, c.Text)
	}
	assert.Equal(t, first, second)
	assert.NotEmpty(t, first)
}

func TestAll_StopsEarly(t *testing.T) {
	n := 0
	for range All(strings.Repeat("abc def ", 100), 20, 5) {
		n++
		if n == 2 {
			break
		}
	}
	assert.Equal(t, 2, n)
}

func TestSplit_InvalidSizes(t *testing.T) {
	_, err := Split("text", 10, 10)
	assert.ErrorIs(t, err, apperr.ErrInvalidArgument)
}

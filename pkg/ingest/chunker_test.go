package ingest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkText_EmptyAndWhitespace(t *testing.T) {
	assert.Empty(t, ChunkText("", 100))
	assert.Empty(t, ChunkText("   \n\n   \n\n", 100))
}

func TestChunkText_SingleShortParagraph(t *testing.T) {
	chunks := ChunkText("The library is open until 22:00.", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "The library is open until 22:00.", chunks[0])
}

func TestChunkText_PacksParagraphs(t *testing.T) {
	text := "First paragraph.\n\nSecond paragraph.\n\nThird paragraph."
	chunks := ChunkText(text, 100)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0], "First paragraph.")
	assert.Contains(t, chunks[0], "Third paragraph.")
}

func TestChunkText_SplitsAtParagraphBudget(t *testing.T) {
	para := strings.Repeat("word ", 12) // ~60 chars
	text := strings.TrimSpace(para) + "\n\n" + strings.TrimSpace(para)

	chunks := ChunkText(text, 80)
	require.Len(t, chunks, 2)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 80)
	}
}

func TestChunkText_LongParagraphSplitBySentence(t *testing.T) {
	var b strings.Builder
	for i := 0; i < 10; i++ {
		b.WriteString("This sentence has a fixed length of some words. ")
	}

	chunks := ChunkText(strings.TrimSpace(b.String()), 120)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c), 120)
		assert.True(t, strings.HasSuffix(c, "."), "chunks end at sentence boundaries: %q", c)
	}
}

func TestChunkText_UnterminatedSentenceKeptWhole(t *testing.T) {
	text := strings.Repeat("a", 300)
	chunks := ChunkText(text, 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, text, chunks[0])
}

func TestChunkText_ZeroSizeUsesDefault(t *testing.T) {
	chunks := ChunkText("hello world.", 0)
	require.Len(t, chunks, 1)
}

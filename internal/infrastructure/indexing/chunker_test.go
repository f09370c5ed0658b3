package indexing

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ContentIngestor/internal/domain"
)

func TestChunkerSplitsLongBodies(t *testing.T) {
	t.Parallel()

	c, err := NewChunker(100, 20)
	require.NoError(t, err)

	paragraph := strings.TrimSpace(strings.Repeat("habits compound over time ", 12))
	item := domain.ContentItem{ID: "item-1", Body: paragraph + "\n\n" + paragraph + "\n\n" + paragraph}

	chunks, err := c.Split(item)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 3)

	for i, ch := range chunks {
		assert.Equal(t, i, ch.Index)
		assert.Equal(t, "item-1", ch.ContentID)
		assert.Equal(t, ChunkID("item-1", i), ch.ID)
		assert.LessOrEqual(t, utf8.RuneCountInString(ch.Text), 100)
		assert.NotEmpty(t, ch.Text)
	}
}

func TestChunkerShortAndEmptyBodies(t *testing.T) {
	t.Parallel()

	c, err := NewChunker(0, 0)
	require.NoError(t, err)

	chunks, err := c.Split(domain.ContentItem{ID: "a", Body: "  "})
	require.NoError(t, err)
	assert.Empty(t, chunks)

	chunks, err = c.Split(domain.ContentItem{ID: "a", Body: "One short note."})
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "One short note.", chunks[0].Text)
}

func TestChunkerRejectsBadSizes(t *testing.T) {
	t.Parallel()

	_, err := NewChunker(100, 100)
	assert.Error(t, err)
	_, err = NewChunker(-1, 10)
	assert.Error(t, err)
}

func TestChunkIDStable(t *testing.T) {
	t.Parallel()

	assert.Equal(t, ChunkID("x", 3), ChunkID("x", 3))
	assert.NotEqual(t, ChunkID("x", 3), ChunkID("x", 4))
}

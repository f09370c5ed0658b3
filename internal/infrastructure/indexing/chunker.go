// Package indexing splits item bodies into overlapping chunks for embedding.
package indexing

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/tmc/langchaingo/textsplitter"

	"ContentIngestor/internal/domain"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// Chunker wraps a recursive character splitter (paragraph, line, word boundaries).
type Chunker struct {
	splitter textsplitter.RecursiveCharacter
}

// NewChunker validates the sizes and builds the splitter. Zero values select the defaults.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size == 0 {
		size = DefaultChunkSize
	}
	if overlap == 0 {
		overlap = DefaultChunkOverlap
	}
	if size < 0 || overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("invalid chunking: size %d, overlap %d", size, overlap)
	}

	return &Chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(size),
			textsplitter.WithChunkOverlap(overlap),
		),
	}, nil
}

// Split chunks the body of item. Chunk ids are stable for a given item id and position.
func (c *Chunker) Split(item domain.ContentItem) ([]domain.Chunk, error) {
	body := strings.TrimSpace(item.Body)
	if body == "" {
		return nil, nil
	}

	parts, err := c.splitter.SplitText(body)
	if err != nil {
		return nil, fmt.Errorf("split item %s: %w", item.ID, err)
	}

	chunks := make([]domain.Chunk, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		idx := len(chunks)
		chunks = append(chunks, domain.Chunk{
			ID:        ChunkID(item.ID, idx),
			ContentID: item.ID,
			Index:     idx,
			Text:      part,
		})
	}
	return chunks, nil
}

// ChunkID derives a name-based UUID from the item id and chunk position.
func ChunkID(contentID string, index int) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(fmt.Sprintf("%s#%d", contentID, index))).String()
}

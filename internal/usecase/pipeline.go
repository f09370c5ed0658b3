package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/ports"
)

// PipelineDeps wires the adapters used after ingestion.
type PipelineDeps struct {
	Repository ports.ContentRepository
	Chunks     ports.ChunkStore
	Splitter   ports.Splitter
	// Embedder is optional; without it chunks are stored without vectors.
	Embedder ports.Embedder
	Logger   *slog.Logger
}

// Pipeline chunks and embeds stored items that have not been processed yet.
type Pipeline struct {
	repository ports.ContentRepository
	chunks     ports.ChunkStore
	splitter   ports.Splitter
	embedder   ports.Embedder
	logger     *slog.Logger
}

// ProcessStats summarizes one processing pass.
type ProcessStats struct {
	Processed int
	Embedded  int
	Chunks    int
	Failed    int
}

// NewPipeline constructs the processing component.
func NewPipeline(deps PipelineDeps) *Pipeline {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		repository: deps.Repository,
		chunks:     deps.Chunks,
		splitter:   deps.Splitter,
		embedder:   deps.Embedder,
		logger:     logger,
	}
}

// ProcessPending handles up to limit pending items (0 = all). Per-item failures are logged and
// counted; the item stays pending and is retried on the next pass.
func (p *Pipeline) ProcessPending(ctx context.Context, filter domain.ItemFilter) (ProcessStats, error) {
	var stats ProcessStats
	if p.repository == nil || p.splitter == nil || p.chunks == nil {
		return stats, errors.New("processing pipeline is not configured")
	}

	filter.OnlyPending = true
	items, err := p.repository.ListItems(ctx, filter)
	if err != nil {
		return stats, fmt.Errorf("list pending items: %w", err)
	}

	for _, stored := range items {
		if err := ctx.Err(); err != nil {
			return stats, domain.Cancelled(err)
		}

		n, embedded, err := p.processItem(ctx, stored.ContentItem)
		if err != nil {
			if errors.Is(err, domain.ErrCancelled) {
				return stats, err
			}
			stats.Failed++
			p.logger.Warn("item processing failed", "item_id", stored.ID, "error", err)
			continue
		}

		stats.Processed++
		stats.Chunks += n
		if embedded {
			stats.Embedded++
		}
	}

	p.logger.Info("processing pass finished",
		"processed", stats.Processed,
		"embedded", stats.Embedded,
		"chunks", stats.Chunks,
		"failed", stats.Failed)
	return stats, nil
}

func (p *Pipeline) processItem(ctx context.Context, item domain.ContentItem) (int, bool, error) {
	chunks, err := p.splitter.Split(item)
	if err != nil {
		return 0, false, fmt.Errorf("split: %w", err)
	}

	embedded := false
	if p.embedder != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, ch := range chunks {
			texts[i] = ch.Text
		}
		vectors, err := p.embedder.Embed(ctx, texts)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return 0, false, domain.Cancelled(ctxErr)
			}
			return 0, false, fmt.Errorf("embed: %w", err)
		}
		if len(vectors) != len(chunks) {
			return 0, false, fmt.Errorf("embed: got %d vectors for %d chunks", len(vectors), len(chunks))
		}
		for i := range chunks {
			chunks[i].Embedding = vectors[i]
		}
		embedded = true
	}

	if len(chunks) > 0 {
		if err := p.chunks.SaveChunks(ctx, chunks); err != nil {
			return 0, false, fmt.Errorf("save chunks: %w", err)
		}
	}
	if err := p.repository.MarkProcessed(ctx, item.ID, embedded); err != nil {
		return 0, false, fmt.Errorf("mark processed: %w", err)
	}
	return len(chunks), embedded, nil
}

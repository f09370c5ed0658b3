package ports

import (
	"context"
	"time"

	"ContentIngestor/internal/domain"
)

// ItemSink receives accepted items. Store is an idempotent upsert keyed by item id.
type ItemSink interface {
	Store(ctx context.Context, items []domain.ContentItem) error
}

// StateStore persists ingestion cursors per (subject, platform).
// Seen ids are written incrementally; a mark never rewrites the pair's history.
type StateStore interface {
	// LoadState returns ok=false when the pair has never been ingested.
	// ItemsSeen comes back in insertion order.
	LoadState(ctx context.Context, subjectID string, platform domain.Platform) (domain.SourceState, bool, error)
	// AppendSeen atomically replaces the cursor fields of state, adds the ids in added and
	// removes the ids in evicted. state.ItemsSeen is ignored.
	AppendSeen(ctx context.Context, state domain.SourceState, added, evicted []string) error
}

// ContentRepository keeps accepted items for downstream processing and audit.
type ContentRepository interface {
	ItemSink
	ListItems(ctx context.Context, filter domain.ItemFilter) ([]domain.StoredItem, error)
	MarkProcessed(ctx context.Context, id string, embedded bool) error
	Stats(ctx context.Context) (domain.RepositoryStats, error)
}

// ChunkStore persists chunks and their embeddings.
type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []domain.Chunk) error
}

// Splitter cuts an item body into chunks ready for embedding.
type Splitter interface {
	Split(item domain.ContentItem) ([]domain.Chunk, error)
}

// Embedder turns texts into vectors, one per input, in order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Recorder collects run metrics.
type Recorder interface {
	ObserveRun(platform domain.Platform, state string, elapsed time.Duration)
	AddItems(platform domain.Platform, outcome string, n int)
}

// Notifier streams run reports to Telegram or other channels.
type Notifier interface {
	PublishReport(ctx context.Context, report string) error
}

// Scheduler controls when ingestion executes.
type Scheduler interface {
	Start(ctx context.Context, job func(time.Time)) error
	Stop(ctx context.Context) error
}

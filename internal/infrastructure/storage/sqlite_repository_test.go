package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ContentIngestor/internal/domain"
)

func openTestRepository(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "content.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func sampleItem(id string, platform domain.Platform, score int) domain.ContentItem {
	published := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	return domain.ContentItem{
		ID:          id,
		SubjectID:   "tim_ferriss",
		Platform:    platform,
		ContentType: domain.ContentArticle,
		Title:       "Post " + id,
		Body:        "body of " + id,
		URL:         "https://tim.blog/" + id,
		PublishedAt: &published,
		FetchedAt:   time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC),
		RawMetadata: map[string]any{"source": "tim.blog"},
		Authenticity: &domain.AuthenticityScore{
			Total:   score,
			Signals: map[string]int{"domain": score},
		},
	}
}

func TestStoreIsIdempotentUpsert(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTestRepository(t)

	item := sampleItem("a", domain.PlatformBlog, 80)
	require.NoError(t, repo.Store(ctx, []domain.ContentItem{item}))
	require.NoError(t, repo.MarkProcessed(ctx, "a", true))

	item.Title = "Updated"
	require.NoError(t, repo.Store(ctx, []domain.ContentItem{item}))

	items, err := repo.ListItems(ctx, domain.ItemFilter{})
	require.NoError(t, err)
	require.Len(t, items, 1)
	got := items[0]
	assert.Equal(t, "Updated", got.Title)
	assert.True(t, got.Processed)
	assert.True(t, got.Embedded)
	assert.Equal(t, 80, got.Score())
	assert.Equal(t, 80, got.Authenticity.Signals["domain"])
	require.NotNil(t, got.PublishedAt)
	assert.True(t, item.PublishedAt.Equal(*got.PublishedAt))
	assert.Equal(t, "tim.blog", got.RawMetadata["source"])
}

func TestStoreChangedBodyResetsProcessing(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTestRepository(t)

	item := sampleItem("a", domain.PlatformBlog, 80)
	require.NoError(t, repo.Store(ctx, []domain.ContentItem{item}))
	require.NoError(t, repo.MarkProcessed(ctx, "a", true))

	item.Body = "rewritten body of a"
	require.NoError(t, repo.Store(ctx, []domain.ContentItem{item}))

	pending, err := repo.ListItems(ctx, domain.ItemFilter{OnlyPending: true})
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "rewritten body of a", pending[0].Body)
	assert.False(t, pending[0].Processed)
	assert.False(t, pending[0].Embedded)
}

func TestListItemsFilters(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTestRepository(t)

	noDate := sampleItem("c", domain.PlatformTwitter, 60)
	noDate.PublishedAt = nil
	require.NoError(t, repo.Store(ctx, []domain.ContentItem{
		sampleItem("a", domain.PlatformBlog, 80),
		sampleItem("b", domain.PlatformPodcast, 20),
		noDate,
	}))
	require.NoError(t, repo.MarkProcessed(ctx, "a", false))

	pending, err := repo.ListItems(ctx, domain.ItemFilter{OnlyPending: true})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	strong, err := repo.ListItems(ctx, domain.ItemFilter{MinScore: 50})
	require.NoError(t, err)
	assert.Len(t, strong, 2)

	podcasts, err := repo.ListItems(ctx, domain.ItemFilter{Platform: domain.PlatformPodcast})
	require.NoError(t, err)
	require.Len(t, podcasts, 1)
	assert.Equal(t, "b", podcasts[0].ID)

	limited, err := repo.ListItems(ctx, domain.ItemFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestMarkProcessedUnknownItem(t *testing.T) {
	t.Parallel()

	err := openTestRepository(t).MarkProcessed(context.Background(), "missing", false)
	assert.Error(t, err)
}

func TestStatsAndChunks(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTestRepository(t)
	require.NoError(t, repo.Store(ctx, []domain.ContentItem{
		sampleItem("a", domain.PlatformBlog, 80),
		sampleItem("b", domain.PlatformBlog, 80),
		sampleItem("c", domain.PlatformYouTube, 60),
	}))

	chunks := []domain.Chunk{
		{ID: "a-0", ContentID: "a", Index: 0, Text: "first", Embedding: []float32{0.5, -1.25}},
		{ID: "a-1", ContentID: "a", Index: 1, Text: "second"},
	}
	require.NoError(t, repo.SaveChunks(ctx, chunks))
	require.NoError(t, repo.SaveChunks(ctx, chunks))
	require.NoError(t, repo.MarkProcessed(ctx, "a", true))

	stored, err := repo.Chunks(ctx, "a")
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, []float32{0.5, -1.25}, stored[0].Embedding)
	assert.Nil(t, stored[1].Embedding)

	stats, err := repo.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Processed)
	assert.Equal(t, 1, stats.Embedded)
	assert.Equal(t, 2, stats.Chunks)
	assert.Equal(t, 3, stats.BySubject["tim_ferriss"])
	assert.Equal(t, 2, stats.ByPlatform[domain.PlatformBlog])
}

func TestExportJSON(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	repo := openTestRepository(t)
	require.NoError(t, repo.Store(ctx, []domain.ContentItem{sampleItem("a", domain.PlatformBlog, 80)}))

	var buf bytes.Buffer
	n, err := ExportJSON(ctx, repo, domain.ItemFilter{SubjectID: "tim_ferriss"}, &buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	var decoded []map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "a", decoded[0]["id"])
	assert.EqualValues(t, 80, decoded[0]["authenticity_score"])
}

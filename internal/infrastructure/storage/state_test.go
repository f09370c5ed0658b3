package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/ports"
)

func TestStateStores(t *testing.T) {
	t.Parallel()

	badgerStore, err := OpenBadgerState("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = badgerStore.Close() })

	stores := map[string]ports.StateStore{
		"badger": badgerStore,
		"memory": NewMemoryStateStore(),
	}

	for name, store := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := store.LoadState(ctx, "tim_ferriss", domain.PlatformBlog)
			require.NoError(t, err)
			assert.False(t, ok)

			cursor := domain.SourceState{
				SubjectID:     "tim_ferriss",
				Platform:      domain.PlatformBlog,
				LastItemID:    "b",
				LastFetchedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
			}
			require.NoError(t, store.AppendSeen(ctx, cursor, []string{"a"}, nil))
			require.NoError(t, store.AppendSeen(ctx, cursor, []string{"b", "c"}, nil))
			require.NoError(t, store.AppendSeen(ctx, cursor, []string{"d"}, []string{"a"}))

			got, ok, err := store.LoadState(ctx, "tim_ferriss", domain.PlatformBlog)
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, []string{"b", "c", "d"}, got.ItemsSeen)
			assert.Equal(t, "b", got.LastItemID)
			assert.True(t, cursor.LastFetchedAt.Equal(got.LastFetchedAt))

			_, ok, err = store.LoadState(ctx, "tim_ferriss", domain.PlatformRSS)
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}

	states, err := badgerStore.States(context.Background())
	require.NoError(t, err)
	require.Len(t, states, 1)
	assert.Equal(t, []string{"b", "c", "d"}, states[0].ItemsSeen)
}

func TestBadgerSeenKeysDoNotLeakAcrossPairs(t *testing.T) {
	t.Parallel()

	store, err := OpenBadgerState("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	ctx := context.Background()

	require.NoError(t, store.AppendSeen(ctx, domain.SourceState{SubjectID: "a", Platform: domain.PlatformBlog}, []string{"x"}, nil))
	require.NoError(t, store.AppendSeen(ctx, domain.SourceState{SubjectID: "a:blog", Platform: domain.PlatformRSS}, []string{"y"}, nil))

	got, ok, err := store.LoadState(ctx, "a", domain.PlatformBlog)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"x"}, got.ItemsSeen)
}

func TestBadgerKeepsInsertionOrderAcrossReopen(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()
	cursor := domain.SourceState{SubjectID: "tim_ferriss", Platform: domain.PlatformPodcast}

	store, err := OpenBadgerState(dir, nil)
	require.NoError(t, err)
	var want []string
	for i := 0; i < 1500; i++ {
		// Ids sort differently from their insertion order.
		id := fmt.Sprintf("ep-%d", 1500-i)
		want = append(want, id)
		require.NoError(t, store.AppendSeen(ctx, cursor, []string{id}, nil))
	}
	require.NoError(t, store.Close())

	store, err = OpenBadgerState(dir, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.AppendSeen(ctx, cursor, []string{"ep-new"}, nil))
	want = append(want, "ep-new")

	got, ok, err := store.LoadState(ctx, "tim_ferriss", domain.PlatformPodcast)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got.ItemsSeen)
}

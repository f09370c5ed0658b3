package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ContentIngestor/internal/domain"
)

type fakeStore struct {
	mu      sync.Mutex
	states  map[string]domain.SourceState
	loads   int
	saves   int
	written []int
	failOn  string
}

func newFakeStore() *fakeStore {
	return &fakeStore{states: map[string]domain.SourceState{}}
}

func storeKey(subjectID string, platform domain.Platform) string {
	return subjectID + "/" + string(platform)
}

func (f *fakeStore) LoadState(_ context.Context, subjectID string, platform domain.Platform) (domain.SourceState, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loads++
	s, ok := f.states[storeKey(subjectID, platform)]
	s.ItemsSeen = append([]string(nil), s.ItemsSeen...)
	return s, ok, nil
}

func (f *fakeStore) AppendSeen(_ context.Context, s domain.SourceState, added, evicted []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range added {
		if id == f.failOn {
			return errors.New("disk full")
		}
	}

	record, err := json.Marshal(s)
	if err != nil {
		return err
	}
	n := len(record)
	for _, id := range append(append([]string(nil), added...), evicted...) {
		n += len(id)
	}
	f.written = append(f.written, n)
	f.saves++

	key := storeKey(s.SubjectID, s.Platform)
	seen := append(f.states[key].ItemsSeen, added...)
	seen = seen[len(evicted):]
	s.ItemsSeen = seen
	f.states[key] = s
	return nil
}

func TestMarkIngestedIsIdempotent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	tr := New(store)
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	isNew, err := tr.IsNew(ctx, "tim_ferriss", domain.PlatformBlog, "a")
	require.NoError(t, err)
	assert.True(t, isNew)

	require.NoError(t, tr.MarkIngested(ctx, "tim_ferriss", domain.PlatformBlog, "a", now))
	require.NoError(t, tr.MarkIngested(ctx, "tim_ferriss", domain.PlatformBlog, "a", now.Add(time.Hour)))

	for i := 0; i < 2; i++ {
		isNew, err = tr.IsNew(ctx, "tim_ferriss", domain.PlatformBlog, "a")
		require.NoError(t, err)
		assert.False(t, isNew)
	}

	assert.Equal(t, 1, store.saves)
	saved := store.states[storeKey("tim_ferriss", domain.PlatformBlog)]
	assert.Equal(t, []string{"a"}, saved.ItemsSeen)
	assert.Equal(t, now, saved.LastFetchedAt)
}

func TestCursorAdvancesOnlyForward(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := New(newFakeStore())
	t0 := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	_, ok, err := tr.CursorFor(ctx, "s", domain.PlatformRSS)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, tr.MarkIngested(ctx, "s", domain.PlatformRSS, "new", t0))
	require.NoError(t, tr.MarkIngested(ctx, "s", domain.PlatformRSS, "old", t0.Add(-time.Hour)))

	cursor, ok, err := tr.CursorFor(ctx, "s", domain.PlatformRSS)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", cursor.LastItemID)
	assert.Equal(t, t0, cursor.LastFetchedAt)
	assert.Equal(t, []string{"new", "old"}, cursor.ItemsSeen)

	cursor.ItemsSeen[0] = "mutated"
	again, _, err := tr.CursorFor(ctx, "s", domain.PlatformRSS)
	require.NoError(t, err)
	assert.Equal(t, "new", again.ItemsSeen[0])
}

func TestStateLoadedLazilyFromStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	store.states[storeKey("s", domain.PlatformYouTube)] = domain.SourceState{
		SubjectID: "s",
		Platform:  domain.PlatformYouTube,
		ItemsSeen: []string{"v1", "v2"},
	}
	tr := New(store)

	for _, id := range []string{"v1", "v2", "v3"} {
		_, err := tr.IsNew(ctx, "s", domain.PlatformYouTube, id)
		require.NoError(t, err)
	}
	isNew, err := tr.IsNew(ctx, "s", domain.PlatformYouTube, "v2")
	require.NoError(t, err)
	assert.False(t, isNew)
	assert.Equal(t, 1, store.loads)
}

func TestPairsAreIndependent(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	tr := New(newFakeStore())
	require.NoError(t, tr.MarkIngested(ctx, "a", domain.PlatformTwitter, "x", time.Now()))

	isNew, err := tr.IsNew(ctx, "a", domain.PlatformPodcast, "x")
	require.NoError(t, err)
	assert.True(t, isNew)

	isNew, err = tr.IsNew(ctx, "b", domain.PlatformTwitter, "x")
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestDedupWindowEvictsOldest(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	tr := New(store, WithDedupWindow(2))

	for _, id := range []string{"1", "2", "3"} {
		require.NoError(t, tr.MarkIngested(ctx, "s", domain.PlatformBlog, id, time.Now()))
	}

	isNew, err := tr.IsNew(ctx, "s", domain.PlatformBlog, "1")
	require.NoError(t, err)
	assert.True(t, isNew)
	assert.Equal(t, []string{"2", "3"}, store.states[storeKey("s", domain.PlatformBlog)].ItemsSeen)
}

func TestFailedSaveLeavesItemNew(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	store.failOn = "bad"
	tr := New(store)

	err := tr.MarkIngested(ctx, "s", domain.PlatformBlog, "bad", time.Now())
	require.Error(t, err)

	isNew, err := tr.IsNew(ctx, "s", domain.PlatformBlog, "bad")
	require.NoError(t, err)
	assert.True(t, isNew)
}

func TestConcurrentMarksPersistEveryItem(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	tr := New(store)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("item-%d", i%25)
			assert.NoError(t, tr.MarkIngested(ctx, "s", domain.PlatformRSS, id, time.Now()))
		}(i)
	}
	wg.Wait()

	assert.Len(t, store.states[storeKey("s", domain.PlatformRSS)].ItemsSeen, 25)
	assert.Equal(t, 25, store.saves)
}

func TestCancelledContextBeforeLoad(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := New(newFakeStore()).IsNew(ctx, "s", domain.PlatformBlog, "x")
	assert.ErrorIs(t, err, domain.ErrCancelled)
}

func TestMarkWritesOnlyTheNewID(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := newFakeStore()
	tr := New(store)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	const marks = 4000
	for i := 0; i < marks; i++ {
		id := fmt.Sprintf("https://tim.blog/2024/post-%05d/", i)
		require.NoError(t, tr.MarkIngested(ctx, "tim_ferriss", domain.PlatformBlog, id, start.Add(time.Duration(i)*time.Minute)))
	}

	require.Len(t, store.written, marks)
	// The cursor record plus one id; independent of how many ids the pair already holds.
	assert.Less(t, store.written[marks-1], 512)
	assert.Equal(t, store.written[10], store.written[marks-1])

	cursor, ok, err := tr.CursorFor(ctx, "tim_ferriss", domain.PlatformBlog)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, cursor.ItemsSeen, marks)
	assert.Equal(t, "https://tim.blog/2024/post-00000/", cursor.ItemsSeen[0])
}

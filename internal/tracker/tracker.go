// Package tracker remembers which items of a (subject, platform) pair were already ingested.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/ports"
)

type pairKey struct {
	subjectID string
	platform  domain.Platform
}

type pairState struct {
	mu     sync.Mutex
	loaded bool
	state  domain.SourceState
	seen   map[string]struct{}
}

// Tracker keeps the dedup set and cursor of every pair and persists them through a StateStore.
type Tracker struct {
	store  ports.StateStore
	window int
	logger *slog.Logger

	mu    sync.Mutex
	pairs map[pairKey]*pairState
}

// Option customizes a Tracker.
type Option func(*Tracker)

// WithDedupWindow bounds the remembered ids per pair; the oldest are evicted first. 0 keeps all.
func WithDedupWindow(n int) Option {
	return func(t *Tracker) {
		if n > 0 {
			t.window = n
		}
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// New builds a tracker on top of a persistent store.
func New(store ports.StateStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:  store,
		logger: slog.Default(),
		pairs:  map[pairKey]*pairState{},
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.With("component", "tracker")
	return t
}

// IsNew reports whether itemID has never been marked ingested for the pair.
func (t *Tracker) IsNew(ctx context.Context, subjectID string, platform domain.Platform, itemID string) (bool, error) {
	ps := t.pair(subjectID, platform)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := t.load(ctx, ps, subjectID, platform); err != nil {
		return false, err
	}
	_, seen := ps.seen[itemID]
	return !seen, nil
}

// MarkIngested records itemID and advances the cursor when fetchedAt is newer.
// It is idempotent and persists the state before returning. Only the new id, the
// cursor fields and any evictions are written.
func (t *Tracker) MarkIngested(ctx context.Context, subjectID string, platform domain.Platform, itemID string, fetchedAt time.Time) error {
	ps := t.pair(subjectID, platform)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := t.load(ctx, ps, subjectID, platform); err != nil {
		return err
	}
	if _, seen := ps.seen[itemID]; seen {
		return nil
	}

	cursor := ps.state
	cursor.ItemsSeen = nil
	if fetchedAt.After(cursor.LastFetchedAt) {
		cursor.LastFetchedAt = fetchedAt
		cursor.LastItemID = itemID
	}

	var evicted []string
	if t.window > 0 && len(ps.state.ItemsSeen)+1 > t.window {
		cut := len(ps.state.ItemsSeen) + 1 - t.window
		evicted = append(evicted, ps.state.ItemsSeen[:cut]...)
	}

	if err := t.store.AppendSeen(ctx, cursor, []string{itemID}, evicted); err != nil {
		return fmt.Errorf("save state %s/%s: %w", subjectID, platform, err)
	}

	cursor.ItemsSeen = append(ps.state.ItemsSeen, itemID)[len(evicted):]
	ps.state = cursor
	ps.seen[itemID] = struct{}{}
	for _, id := range evicted {
		delete(ps.seen, id)
	}
	return nil
}

// CursorFor returns the persisted cursor of the pair; ok is false before the first ingestion.
func (t *Tracker) CursorFor(ctx context.Context, subjectID string, platform domain.Platform) (domain.SourceState, bool, error) {
	ps := t.pair(subjectID, platform)
	ps.mu.Lock()
	defer ps.mu.Unlock()

	if err := t.load(ctx, ps, subjectID, platform); err != nil {
		return domain.SourceState{}, false, err
	}
	if len(ps.state.ItemsSeen) == 0 && ps.state.LastFetchedAt.IsZero() {
		return domain.SourceState{}, false, nil
	}
	return cloneState(ps.state), true, nil
}

func (t *Tracker) pair(subjectID string, platform domain.Platform) *pairState {
	key := pairKey{subjectID: subjectID, platform: platform}

	t.mu.Lock()
	defer t.mu.Unlock()

	ps, ok := t.pairs[key]
	if !ok {
		ps = &pairState{}
		t.pairs[key] = ps
	}
	return ps
}

// load must be called with ps.mu held.
func (t *Tracker) load(ctx context.Context, ps *pairState, subjectID string, platform domain.Platform) error {
	if ps.loaded {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return domain.Cancelled(err)
	}

	state, ok, err := t.store.LoadState(ctx, subjectID, platform)
	if err != nil {
		return fmt.Errorf("load state %s/%s: %w", subjectID, platform, err)
	}
	if !ok {
		state = domain.SourceState{SubjectID: subjectID, Platform: platform}
	}

	ps.state = state
	ps.seen = make(map[string]struct{}, len(state.ItemsSeen))
	for _, id := range state.ItemsSeen {
		ps.seen[id] = struct{}{}
	}
	ps.loaded = true

	t.logger.Debug("state loaded", "subject", subjectID, "platform", platform, "items_seen", len(state.ItemsSeen))
	return nil
}

func cloneState(s domain.SourceState) domain.SourceState {
	s.ItemsSeen = append([]string(nil), s.ItemsSeen...)
	return s
}

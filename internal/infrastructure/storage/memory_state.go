package storage

import (
	"context"
	"sync"

	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/ports"
)

type memoryPair struct {
	cursor domain.SourceState
	seen   []string
}

// MemoryStateStore keeps cursors in process memory; used for dry runs.
type MemoryStateStore struct {
	mu    sync.RWMutex
	pairs map[string]*memoryPair
}

var _ ports.StateStore = (*MemoryStateStore)(nil)

// NewMemoryStateStore builds an empty store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{pairs: map[string]*memoryPair{}}
}

func (m *MemoryStateStore) LoadState(_ context.Context, subjectID string, platform domain.Platform) (domain.SourceState, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.pairs[string(stateKey(subjectID, platform))]
	if !ok {
		return domain.SourceState{}, false, nil
	}
	st := p.cursor
	st.ItemsSeen = append([]string(nil), p.seen...)
	return st, true, nil
}

func (m *MemoryStateStore) AppendSeen(_ context.Context, state domain.SourceState, added, evicted []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := string(stateKey(state.SubjectID, state.Platform))
	p, ok := m.pairs[key]
	if !ok {
		p = &memoryPair{}
		m.pairs[key] = p
	}
	state.ItemsSeen = nil
	p.cursor = state
	p.seen = append(p.seen, added...)

	if len(evicted) > 0 {
		drop := make(map[string]struct{}, len(evicted))
		for _, id := range evicted {
			drop[id] = struct{}{}
		}
		kept := p.seen[:0]
		for _, id := range p.seen {
			if _, gone := drop[id]; !gone {
				kept = append(kept, id)
			}
		}
		p.seen = kept
	}
	return nil
}

package storage

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/dgraph-io/badger/v4/options"

	"ContentIngestor/internal/domain"
	"ContentIngestor/internal/ports"
	"ContentIngestor/pkg/logger"
)

const (
	stateKeyPrefix = "state:"
	seenKeyPrefix  = "seen:"
	seenSeqKey     = "seq:seen"
)

// BadgerStateStore keeps ingestion cursors in an embedded Badger database.
// The cursor of a pair is one small record; every seen id is its own key whose value
// is a sequence number, so marking an item writes a constant amount of data.
type BadgerStateStore struct {
	db  *badger.DB
	seq *badger.Sequence
}

var _ ports.StateStore = (*BadgerStateStore)(nil)

// OpenBadgerState opens the cursor database at dir; an empty dir keeps it in memory.
func OpenBadgerState(dir string, log *slog.Logger) (*BadgerStateStore, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create state dir: %w", err)
		}
		opts = badger.DefaultOptions(dir)
	}
	if log == nil {
		log = slog.Default()
	}
	opts.Logger = logger.NewBadger(log.With("component", "badger"))
	opts.Compression = options.None

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte(seenSeqKey), 1000)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open seen sequence: %w", err)
	}
	return &BadgerStateStore{db: db, seq: seq}, nil
}

// Close releases the sequence lease and the database.
func (s *BadgerStateStore) Close() error {
	return errors.Join(s.seq.Release(), s.db.Close())
}

// LoadState returns the cursor of a pair with its seen ids; ok is false when nothing was saved.
func (s *BadgerStateStore) LoadState(ctx context.Context, subjectID string, platform domain.Platform) (domain.SourceState, bool, error) {
	var (
		state domain.SourceState
		found bool
	)
	err := s.db.View(func(tx *badger.Txn) error {
		item, err := tx.Get(stateKey(subjectID, platform))
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			found = true
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &state)
			}); err != nil {
				return err
			}
		}

		seen, err := readSeen(tx, subjectID, platform)
		if err != nil {
			return err
		}
		if len(seen) > 0 {
			found = true
		}
		state.ItemsSeen = seen
		return nil
	})
	if err != nil {
		return domain.SourceState{}, false, fmt.Errorf("read state: %w", err)
	}
	if found {
		state.SubjectID, state.Platform = subjectID, platform
	}
	return state, found, nil
}

// AppendSeen writes the cursor record, the added ids and the evictions in one transaction.
func (s *BadgerStateStore) AppendSeen(ctx context.Context, state domain.SourceState, added, evicted []string) error {
	state.ItemsSeen = nil
	value, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	orders := make([][]byte, len(added))
	for i := range added {
		n, err := s.seq.Next()
		if err != nil {
			return fmt.Errorf("next sequence: %w", err)
		}
		orders[i] = binary.BigEndian.AppendUint64(nil, n)
	}

	err = s.db.Update(func(tx *badger.Txn) error {
		if err := tx.Set(stateKey(state.SubjectID, state.Platform), value); err != nil {
			return err
		}
		for i, id := range added {
			if err := tx.Set(seenKey(state.SubjectID, state.Platform, id), orders[i]); err != nil {
				return err
			}
		}
		for _, id := range evicted {
			if err := tx.Delete(seenKey(state.SubjectID, state.Platform, id)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	return nil
}

// States lists every stored cursor with its seen ids.
func (s *BadgerStateStore) States(ctx context.Context) ([]domain.SourceState, error) {
	var out []domain.SourceState
	err := s.db.View(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(stateKeyPrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var st domain.SourceState
			if err := iter.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			}); err != nil {
				return err
			}
			seen, err := readSeen(tx, st.SubjectID, st.Platform)
			if err != nil {
				return err
			}
			st.ItemsSeen = seen
			out = append(out, st)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list states: %w", err)
	}
	return out, nil
}

// readSeen collects the seen ids of a pair in insertion order.
func readSeen(tx *badger.Txn, subjectID string, platform domain.Platform) ([]string, error) {
	type entry struct {
		order uint64
		id    string
	}
	prefix := seenPrefix(subjectID, platform)
	opts := badger.DefaultIteratorOptions
	opts.Prefix = prefix
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var entries []entry
	for iter.Rewind(); iter.Valid(); iter.Next() {
		item := iter.Item()
		id := string(item.Key()[len(prefix):])
		var order uint64
		if err := item.Value(func(val []byte) error {
			if len(val) != 8 {
				return fmt.Errorf("seen %q: bad order value", id)
			}
			order = binary.BigEndian.Uint64(val)
			return nil
		}); err != nil {
			return nil, err
		}
		entries = append(entries, entry{order: order, id: id})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].order < entries[j].order })

	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.id)
	}
	return out, nil
}

func stateKey(subjectID string, platform domain.Platform) []byte {
	return []byte(stateKeyPrefix + subjectID + ":" + string(platform))
}

// seenPrefix separates fields with NUL so subject ids containing ':' cannot collide.
func seenPrefix(subjectID string, platform domain.Platform) []byte {
	return []byte(seenKeyPrefix + subjectID + "\x00" + string(platform) + "\x00")
}

func seenKey(subjectID string, platform domain.Platform, id string) []byte {
	return append(seenPrefix(subjectID, platform), id...)
}

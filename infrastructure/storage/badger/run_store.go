package badger

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/felixgeelhaar/merlin-agent/domain/run"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/logging"
)

// RunStore is a BadgerDB-backed implementation of run.Store.
type RunStore struct {
	db        *badger.DB
	keyPrefix string
	gcStop    chan struct{}
	gcWg      sync.WaitGroup
	closeOnce sync.Once
}

// NewRunStore creates a new BadgerDB run store with the given configuration.
func NewRunStore(cfg Config, opts ...Option) (*RunStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := NewRunStoreFromDB(db, cfg.KeyPrefix)

	// Value log GC is meaningless for in-memory databases.
	if cfg.GCInterval > 0 && !cfg.InMemory {
		s.startGC(cfg.GCInterval, cfg.GCDiscardRatio)
	}

	return s, nil
}

// NewRunStoreFromDB creates a run store from an existing BadgerDB database.
func NewRunStoreFromDB(db *badger.DB, keyPrefix string) *RunStore {
	return &RunStore{
		db:        db,
		keyPrefix: keyPrefix,
		gcStop:    make(chan struct{}),
	}
}

func (s *RunStore) startGC(interval time.Duration, discardRatio float64) {
	s.gcWg.Add(1)
	go func() {
		defer s.gcWg.Done()

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.gcStop:
				return
			case <-ticker.C:
				// Rewrite value log files until nothing is left to reclaim.
				for {
					if err := s.db.RunValueLogGC(discardRatio); err != nil {
						if !errors.Is(err, badger.ErrNoRewrite) {
							logging.Debug().
								Add(logging.Component("badger")).
								Add(logging.ErrorField(err)).
								Msg("value log gc stopped")
						}
						break
					}
				}
			}
		}
	}()
}

// Key format: prefix + "run:" + id
func (s *RunStore) runKey(id string) []byte {
	return []byte(s.keyPrefix + "run:" + id)
}

func (s *RunStore) runPrefix() []byte {
	return []byte(s.keyPrefix + "run:")
}

// Save persists a finished run.
func (s *RunStore) Save(ctx context.Context, rec *run.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if rec == nil || rec.ID() == "" {
		return run.ErrInvalidRunID
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := s.runKey(rec.ID())
		_, err := txn.Get(key)
		if err == nil {
			return run.ErrRunExists
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Set(key, data)
	})
}

// Get retrieves a run by ID.
func (s *RunStore) Get(ctx context.Context, id string) (*run.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if id == "" {
		return nil, run.ErrInvalidRunID
	}

	var rec run.Record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.runKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return run.ErrRunNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &rec)
		})
	})
	if err != nil {
		return nil, err
	}

	return &rec, nil
}

// Delete removes a run by ID.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if id == "" {
		return run.ErrInvalidRunID
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := s.runKey(id)
		if _, err := txn.Get(key); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return run.ErrRunNotFound
			}
			return err
		}
		return txn.Delete(key)
	})
}

// List returns runs matching the filter.
func (s *RunStore) List(ctx context.Context, filter run.ListFilter) ([]*run.Record, error) {
	records, err := s.all(ctx)
	if err != nil {
		return nil, err
	}
	return filter.Apply(records), nil
}

// Count returns the number of runs matching the filter.
func (s *RunStore) Count(ctx context.Context, filter run.ListFilter) (int64, error) {
	records, err := s.all(ctx)
	if err != nil {
		return 0, err
	}

	var count int64
	for _, rec := range records {
		if filter.Matches(rec) {
			count++
		}
	}
	return count, nil
}

// Summary returns aggregate statistics.
func (s *RunStore) Summary(ctx context.Context, filter run.ListFilter) (run.Summary, error) {
	records, err := s.all(ctx)
	if err != nil {
		return run.Summary{}, err
	}
	return run.Summarize(records, filter), nil
}

// Close stops background GC and closes the database.
func (s *RunStore) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.gcStop)
		s.gcWg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *RunStore) all(ctx context.Context) ([]*run.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	records := []*run.Record{}
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = s.runPrefix()

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}

			var rec run.Record
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				continue // Skip malformed entries
			}
			records = append(records, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return records, nil
}

var (
	_ run.Store           = (*RunStore)(nil)
	_ run.SummaryProvider = (*RunStore)(nil)
)

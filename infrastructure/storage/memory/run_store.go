// Package memory provides in-memory implementations of storage interfaces.
package memory

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/felixgeelhaar/merlin-agent/domain/run"
)

// RunStore is an in-memory implementation of run.Store. Records are kept as
// JSON so callers never share state with the store.
type RunStore struct {
	runs map[string][]byte
	mu   sync.RWMutex
}

// NewRunStore creates a new in-memory run store.
func NewRunStore() *RunStore {
	return &RunStore{
		runs: make(map[string][]byte),
	}
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[rec.ID()]; exists {
		return run.ErrRunExists
	}

	s.runs[rec.ID()] = data
	return nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(ctx context.Context, id string) (*run.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if id == "" {
		return nil, run.ErrInvalidRunID
	}

	s.mu.RLock()
	data, ok := s.runs[id]
	s.mu.RUnlock()

	if !ok {
		return nil, run.ErrRunNotFound
	}

	var rec run.Record
	if err := json.Unmarshal(data, &rec); err != nil {
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

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[id]; !exists {
		return run.ErrRunNotFound
	}

	delete(s.runs, id)
	return nil
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

// Len returns the number of stored runs.
func (s *RunStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.runs)
}

// Clear removes all runs from the store.
func (s *RunStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = make(map[string][]byte)
}

func (s *RunStore) all(ctx context.Context) ([]*run.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	records := make([]*run.Record, 0, len(s.runs))
	for _, data := range s.runs {
		var rec run.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, nil
}

var (
	_ run.Store           = (*RunStore)(nil)
	_ run.SummaryProvider = (*RunStore)(nil)
)

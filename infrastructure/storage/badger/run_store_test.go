package badger_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
	"github.com/felixgeelhaar/merlin-agent/domain/run"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/storage/badger"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRunStore(t *testing.T, opts ...badger.Option) *badger.RunStore {
	t.Helper()

	opts = append([]badger.Option{badger.WithInMemory(), badger.WithKeyPrefix("test:")}, opts...)
	store, err := badger.NewRunStore(badger.DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("NewRunStore() error = %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newRecord(id string, reason puzzle.TerminationReason, solved int, offset time.Duration) *run.Record {
	return &run.Record{
		Result: puzzle.RunResult{
			RunID:             id,
			LevelsSolved:      solved,
			TerminationReason: reason,
			StartTime:         base.Add(offset),
			EndTime:           base.Add(offset + 30*time.Second),
		},
	}
}

func TestRunStore_SaveGetDelete(t *testing.T) {
	t.Parallel()

	store := newTestRunStore(t)
	ctx := context.Background()

	rec := newRecord("run-1", puzzle.TerminationSuccess, 7, 0)
	rec.Result.LastSubmission = &puzzle.SubmissionOutcome{Succeeded: true}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, rec); !errors.Is(err, run.ErrRunExists) {
		t.Errorf("duplicate Save() error = %v, want ErrRunExists", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Result.LastSubmission == nil || !got.Result.LastSubmission.Succeeded {
		t.Errorf("LastSubmission = %+v", got.Result.LastSubmission)
	}

	if err := store.Delete(ctx, "run-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "run-1"); !errors.Is(err, run.ErrRunNotFound) {
		t.Errorf("Get() after Delete error = %v, want ErrRunNotFound", err)
	}
	if err := store.Delete(ctx, "run-1"); !errors.Is(err, run.ErrRunNotFound) {
		t.Errorf("second Delete() error = %v, want ErrRunNotFound", err)
	}
	if err := store.Save(ctx, newRecord("", puzzle.TerminationFatal, 0, 0)); !errors.Is(err, run.ErrInvalidRunID) {
		t.Errorf("Save(empty id) error = %v, want ErrInvalidRunID", err)
	}
}

func TestRunStore_ListCountSummary(t *testing.T) {
	t.Parallel()

	store := newTestRunStore(t)
	ctx := context.Background()

	for _, rec := range []*run.Record{
		newRecord("a", puzzle.TerminationExhausted, 2, 0),
		newRecord("b", puzzle.TerminationSuccess, 7, time.Minute),
		newRecord("c", puzzle.TerminationExhausted, 5, 2*time.Minute),
	} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save() error = %v", err)
		}
	}

	list, err := store.List(ctx, run.ListFilter{
		Reasons:    []puzzle.TerminationReason{puzzle.TerminationExhausted},
		OrderBy:    run.OrderByLevelsSolved,
		Descending: true,
	})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(list) != 2 || list[0].ID() != "c" || list[1].ID() != "a" {
		t.Errorf("List() = %d records", len(list))
	}

	count, err := store.Count(ctx, run.ListFilter{FromTime: base.Add(time.Minute)})
	if err != nil || count != 2 {
		t.Errorf("Count() = %d, %v, want 2", count, err)
	}

	summary, err := store.Summary(ctx, run.ListFilter{})
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.TotalRuns != 3 || summary.ExhaustedRuns != 2 || summary.AverageDuration != 30*time.Second {
		t.Errorf("Summary() = %+v", summary)
	}
}

func TestRunStore_PrefixIsolation(t *testing.T) {
	t.Parallel()

	store := newTestRunStore(t)
	ctx := context.Background()
	_ = store.Save(ctx, newRecord("x", puzzle.TerminationFatal, 0, 0))

	list, err := store.List(ctx, run.ListFilter{})
	if err != nil || len(list) != 1 {
		t.Fatalf("List() = %d, %v", len(list), err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestRunStore_OnDisk(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	ctx := context.Background()

	store, err := badger.NewRunStore(badger.DefaultConfig(), badger.WithDir(dir), badger.WithGCInterval(time.Hour))
	if err != nil {
		t.Fatalf("NewRunStore() error = %v", err)
	}
	_ = store.Save(ctx, newRecord("persisted", puzzle.TerminationSuccess, 7, 0))
	if err := store.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	reopened, err := badger.NewRunStore(badger.DefaultConfig(), badger.WithDir(dir))
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.Get(ctx, "persisted"); err != nil {
		t.Errorf("Get() after reopen error = %v", err)
	}
}

package sqlite_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
	"github.com/felixgeelhaar/merlin-agent/domain/run"
	"github.com/felixgeelhaar/merlin-agent/infrastructure/storage/sqlite"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRunStore(t *testing.T) *sqlite.RunStore {
	t.Helper()

	cfg := sqlite.DefaultConfig()
	cfg.DSN = "file:" + t.TempDir() + "/runs.db?mode=rwc"

	store, err := sqlite.NewRunStore(cfg)
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
			FinalLevel:        solved + 1,
			LevelsSolved:      solved,
			TerminationReason: reason,
			Iterations:        4,
			StartTime:         base.Add(offset),
			EndTime:           base.Add(offset + 2*time.Minute),
		},
	}
}

func TestRunStore_SaveAndGet(t *testing.T) {
	store := newTestRunStore(t)
	ctx := context.Background()

	rec := newRecord("run-1", puzzle.TerminationExhausted, 2, 0)
	rec.Result.LastReply = "It rhymes with Berlin"
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Result.LastReply != rec.Result.LastReply || got.Result.LevelsSolved != 2 {
		t.Errorf("Get() = %+v", got.Result)
	}
	if !got.Result.StartTime.Equal(rec.Result.StartTime) {
		t.Errorf("StartTime = %v, want %v", got.Result.StartTime, rec.Result.StartTime)
	}
}

func TestRunStore_Errors(t *testing.T) {
	store := newTestRunStore(t)
	ctx := context.Background()

	if err := store.Save(ctx, newRecord("run-1", puzzle.TerminationSuccess, 7, 0)); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, newRecord("run-1", puzzle.TerminationSuccess, 7, 0)); !errors.Is(err, run.ErrRunExists) {
		t.Errorf("duplicate Save() error = %v, want ErrRunExists", err)
	}
	if err := store.Save(ctx, newRecord("", puzzle.TerminationSuccess, 7, 0)); !errors.Is(err, run.ErrInvalidRunID) {
		t.Errorf("Save(empty id) error = %v, want ErrInvalidRunID", err)
	}
	if _, err := store.Get(ctx, "missing"); !errors.Is(err, run.ErrRunNotFound) {
		t.Errorf("Get(missing) error = %v, want ErrRunNotFound", err)
	}
	if err := store.Delete(ctx, "missing"); !errors.Is(err, run.ErrRunNotFound) {
		t.Errorf("Delete(missing) error = %v, want ErrRunNotFound", err)
	}
	if err := store.Delete(ctx, "run-1"); err != nil {
		t.Errorf("Delete() error = %v", err)
	}
}

func TestRunStore_ListFilters(t *testing.T) {
	store := newTestRunStore(t)
	ctx := context.Background()

	for _, rec := range []*run.Record{
		newRecord("a", puzzle.TerminationExhausted, 1, 0),
		newRecord("b", puzzle.TerminationSuccess, 7, time.Hour),
		newRecord("c", puzzle.TerminationFatal, 3, 2*time.Hour),
		newRecord("d", puzzle.TerminationExhausted, 4, 3*time.Hour),
	} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save(%s) error = %v", rec.ID(), err)
		}
	}

	tests := []struct {
		name   string
		filter run.ListFilter
		want   []string
	}{
		{"all by start time", run.ListFilter{}, []string{"a", "b", "c", "d"}},
		{"descending", run.ListFilter{Descending: true}, []string{"d", "c", "b", "a"}},
		{"by reason", run.ListFilter{Reasons: []puzzle.TerminationReason{puzzle.TerminationExhausted}}, []string{"a", "d"}},
		{"min levels", run.ListFilter{MinLevelsSolved: 4, OrderBy: run.OrderByLevelsSolved}, []string{"d", "b"}},
		{"time window", run.ListFilter{FromTime: base.Add(time.Hour), ToTime: base.Add(2 * time.Hour)}, []string{"b", "c"}},
		{"offset without limit", run.ListFilter{Offset: 3}, []string{"d"}},
		{"limit and offset", run.ListFilter{Limit: 2, Offset: 1, OrderBy: run.OrderByID}, []string{"b", "c"}},
		{"offset past end", run.ListFilter{Offset: 10}, []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := store.List(ctx, tt.filter)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("List() = %d records, want %v", len(got), tt.want)
			}
			for i, rec := range got {
				if rec.ID() != tt.want[i] {
					t.Errorf("List()[%d] = %s, want %s", i, rec.ID(), tt.want[i])
				}
			}
		})
	}

	count, err := store.Count(ctx, run.ListFilter{Reasons: []puzzle.TerminationReason{puzzle.TerminationExhausted, puzzle.TerminationFatal}})
	if err != nil || count != 3 {
		t.Errorf("Count() = %d, %v, want 3", count, err)
	}
}

func TestRunStore_Summary(t *testing.T) {
	store := newTestRunStore(t)
	ctx := context.Background()

	empty, err := store.Summary(ctx, run.ListFilter{})
	if err != nil {
		t.Fatalf("Summary() on empty store error = %v", err)
	}
	if empty.TotalRuns != 0 {
		t.Errorf("TotalRuns = %d, want 0", empty.TotalRuns)
	}

	_ = store.Save(ctx, newRecord("a", puzzle.TerminationSuccess, 7, 0))
	_ = store.Save(ctx, newRecord("b", puzzle.TerminationCancelled, 2, time.Hour))

	summary, err := store.Summary(ctx, run.ListFilter{})
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.TotalRuns != 2 || summary.SucceededRuns != 1 || summary.CancelledRuns != 1 {
		t.Errorf("Summary() = %+v", summary)
	}
	if summary.MaxLevelSolved != 7 {
		t.Errorf("MaxLevelSolved = %d, want 7", summary.MaxLevelSolved)
	}
	if summary.AverageDuration != 2*time.Minute {
		t.Errorf("AverageDuration = %v, want 2m", summary.AverageDuration)
	}
}

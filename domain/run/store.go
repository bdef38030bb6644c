// Package run provides the domain interface for persisting finished runs.
package run

import (
	"context"
	"sort"
	"time"

	"github.com/felixgeelhaar/merlin-agent/domain/ledger"
	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
)

// Record is a finished run as persisted: its result plus its audit trail.
type Record struct {
	Result  puzzle.RunResult `json:"result"`
	Entries []ledger.Entry   `json:"entries,omitempty"`
}

// ID returns the run ID of the record.
func (r *Record) ID() string {
	return r.Result.RunID
}

// Store defines the interface for run persistence.
// Implementations may be in-memory, SQLite, Redis or Badger.
type Store interface {
	// Save persists a finished run.
	Save(ctx context.Context, rec *Record) error

	// Get retrieves a run by ID.
	Get(ctx context.Context, id string) (*Record, error)

	// Delete removes a run by ID.
	Delete(ctx context.Context, id string) error

	// List returns runs matching the filter.
	List(ctx context.Context, filter ListFilter) ([]*Record, error)

	// Count returns the number of runs matching the filter.
	Count(ctx context.Context, filter ListFilter) (int64, error)
}

// ListFilter specifies criteria for listing runs.
type ListFilter struct {
	// Reasons filters by termination reason (empty means all).
	Reasons []puzzle.TerminationReason

	// MinLevelsSolved filters out runs that solved fewer levels.
	MinLevelsSolved int

	// FromTime filters runs started after this time.
	FromTime time.Time

	// ToTime filters runs started before this time.
	ToTime time.Time

	// Limit is the maximum number of runs to return (0 = no limit).
	Limit int

	// Offset is the number of runs to skip for pagination.
	Offset int

	// OrderBy specifies the sort order.
	OrderBy OrderBy

	// Descending reverses the sort order.
	Descending bool
}

// OrderBy specifies how to sort run results.
type OrderBy string

const (
	OrderByStartTime    OrderBy = "start_time"
	OrderByEndTime      OrderBy = "end_time"
	OrderByID           OrderBy = "id"
	OrderByLevelsSolved OrderBy = "levels_solved"
)

// Matches reports whether the record satisfies the filter criteria.
// Pagination and ordering are not considered.
func (f ListFilter) Matches(rec *Record) bool {
	r := rec.Result

	if len(f.Reasons) > 0 {
		found := false
		for _, reason := range f.Reasons {
			if r.TerminationReason == reason {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if r.LevelsSolved < f.MinLevelsSolved {
		return false
	}
	if !f.FromTime.IsZero() && r.StartTime.Before(f.FromTime) {
		return false
	}
	if !f.ToTime.IsZero() && r.StartTime.After(f.ToTime) {
		return false
	}
	return true
}

// Apply filters, sorts and paginates records in memory.
func (f ListFilter) Apply(records []*Record) []*Record {
	result := make([]*Record, 0, len(records))
	for _, rec := range records {
		if f.Matches(rec) {
			result = append(result, rec)
		}
	}

	sort.SliceStable(result, func(i, j int) bool {
		a, b := result[i].Result, result[j].Result
		var less bool
		switch f.OrderBy {
		case OrderByEndTime:
			less = a.EndTime.Before(b.EndTime)
		case OrderByID:
			less = a.RunID < b.RunID
		case OrderByLevelsSolved:
			less = a.LevelsSolved < b.LevelsSolved
		default:
			less = a.StartTime.Before(b.StartTime)
		}
		if f.Descending {
			return !less
		}
		return less
	})

	if f.Offset > 0 {
		if f.Offset >= len(result) {
			return []*Record{}
		}
		result = result[f.Offset:]
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result
}

// Summary provides aggregate statistics about runs.
type Summary struct {
	TotalRuns       int64
	SucceededRuns   int64
	ExhaustedRuns   int64
	FatalRuns       int64
	CancelledRuns   int64
	MaxLevelSolved  int
	AverageDuration time.Duration
}

// Summarize computes aggregate statistics over records matching the filter.
func Summarize(records []*Record, filter ListFilter) Summary {
	var s Summary
	var total time.Duration
	for _, rec := range records {
		if !filter.Matches(rec) {
			continue
		}
		s.TotalRuns++
		total += rec.Result.Duration()
		switch rec.Result.TerminationReason {
		case puzzle.TerminationSuccess:
			s.SucceededRuns++
		case puzzle.TerminationExhausted:
			s.ExhaustedRuns++
		case puzzle.TerminationFatal:
			s.FatalRuns++
		case puzzle.TerminationCancelled:
			s.CancelledRuns++
		}
		if rec.Result.LevelsSolved > s.MaxLevelSolved {
			s.MaxLevelSolved = rec.Result.LevelsSolved
		}
	}
	if s.TotalRuns > 0 {
		s.AverageDuration = total / time.Duration(s.TotalRuns)
	}
	return s
}

// SummaryProvider is an optional interface for stores that support summaries.
type SummaryProvider interface {
	Summary(ctx context.Context, filter ListFilter) (Summary, error)
}

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/felixgeelhaar/merlin-agent/domain/run"
)

// RunStore is a SQLite-backed implementation of run.Store.
type RunStore struct {
	db *sql.DB
}

// NewRunStore creates a new SQLite run store with the given configuration.
func NewRunStore(cfg Config, opts ...Option) (*RunStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	db, err := openDB(cfg)
	if err != nil {
		return nil, err
	}

	s := &RunStore{db: db}

	if cfg.AutoMigrate {
		if err := s.migrate(); err != nil {
			_ = db.Close()
			return nil, err
		}
	}

	return s, nil
}

// NewRunStoreFromDB creates a run store from an existing database connection.
func NewRunStoreFromDB(db *sql.DB) (*RunStore, error) {
	s := &RunStore{db: db}

	if err := s.migrate(); err != nil {
		return nil, err
	}

	return s, nil
}

// migrate creates the runs table if it doesn't exist.
func (s *RunStore) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			termination_reason TEXT NOT NULL,
			levels_solved INTEGER NOT NULL,
			final_level INTEGER NOT NULL,
			iterations INTEGER NOT NULL,
			data BLOB NOT NULL,
			start_time INTEGER NOT NULL,
			end_time INTEGER NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_reason ON runs(termination_reason);
		CREATE INDEX IF NOT EXISTS idx_runs_start_time ON runs(start_time);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return errors.Join(ErrMigrationFailed, err)
	}

	return nil
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

	r := rec.Result
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO runs (id, termination_reason, levels_solved, final_level, iterations, data, start_time, end_time, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, string(r.TerminationReason), r.LevelsSolved, r.FinalLevel, r.Iterations,
		data, r.StartTime.UnixNano(), r.EndTime.UnixNano(), time.Now().UnixNano(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return run.ErrRunExists
		}
		return err
	}

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

	var data []byte
	err := s.db.QueryRowContext(ctx, "SELECT data FROM runs WHERE id = ?", id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, run.ErrRunNotFound
	}
	if err != nil {
		return nil, err
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

	result, err := s.db.ExecContext(ctx, "DELETE FROM runs WHERE id = ?", id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return run.ErrRunNotFound
	}

	return nil
}

// List returns runs matching the filter.
func (s *RunStore) List(ctx context.Context, filter run.ListFilter) ([]*run.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	query, args := buildListQuery(filter, false)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	records := []*run.Record{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}

		var rec run.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			continue // Skip malformed entries
		}

		records = append(records, &rec)
	}

	return records, rows.Err()
}

// Count returns the number of runs matching the filter.
func (s *RunStore) Count(ctx context.Context, filter run.ListFilter) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	query, args := buildListQuery(filter, true)

	var count int64
	err := s.db.QueryRowContext(ctx, query, args...).Scan(&count)
	return count, err
}

// Summary returns aggregate statistics.
func (s *RunStore) Summary(ctx context.Context, filter run.ListFilter) (run.Summary, error) {
	if err := ctx.Err(); err != nil {
		return run.Summary{}, err
	}

	where, args := buildWhereClause(filter)

	query := `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN termination_reason = 'success' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN termination_reason = 'exhausted' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN termination_reason = 'fatal' THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN termination_reason = 'cancelled' THEN 1 ELSE 0 END), 0),
			COALESCE(MAX(levels_solved), 0),
			COALESCE(AVG(end_time - start_time), 0)
		FROM runs
	`
	if where != "" {
		query += " WHERE " + where
	}

	var summary run.Summary
	var avgNanos float64

	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&summary.TotalRuns,
		&summary.SucceededRuns,
		&summary.ExhaustedRuns,
		&summary.FatalRuns,
		&summary.CancelledRuns,
		&summary.MaxLevelSolved,
		&avgNanos,
	)
	if err != nil {
		return run.Summary{}, err
	}

	summary.AverageDuration = time.Duration(avgNanos)
	return summary, nil
}

// Close closes the database connection.
func (s *RunStore) Close() error {
	return s.db.Close()
}

// buildListQuery builds the SQL query for listing runs.
func buildListQuery(filter run.ListFilter, countOnly bool) (string, []any) {
	query := "SELECT data FROM runs"
	if countOnly {
		query = "SELECT COUNT(*) FROM runs"
	}

	where, args := buildWhereClause(filter)
	if where != "" {
		query += " WHERE " + where
	}

	if countOnly {
		return query, args
	}

	orderBy := "start_time"
	switch filter.OrderBy {
	case run.OrderByEndTime:
		orderBy = "end_time"
	case run.OrderByID:
		orderBy = "id"
	case run.OrderByLevelsSolved:
		orderBy = "levels_solved"
	}

	query += " ORDER BY " + orderBy
	if filter.Descending {
		query += " DESC"
	}

	// SQLite only accepts OFFSET after a LIMIT; -1 means unbounded.
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += " LIMIT ?"
		args = append(args, limit)
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	return query, args
}

// buildWhereClause builds the WHERE clause for filtering.
func buildWhereClause(filter run.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	if len(filter.Reasons) > 0 {
		placeholders := make([]string, len(filter.Reasons))
		for i, reason := range filter.Reasons {
			placeholders[i] = "?"
			args = append(args, string(reason))
		}
		conditions = append(conditions, "termination_reason IN ("+strings.Join(placeholders, ", ")+")")
	}

	if filter.MinLevelsSolved > 0 {
		conditions = append(conditions, "levels_solved >= ?")
		args = append(args, filter.MinLevelsSolved)
	}

	if !filter.FromTime.IsZero() {
		conditions = append(conditions, "start_time >= ?")
		args = append(args, filter.FromTime.UnixNano())
	}

	if !filter.ToTime.IsZero() {
		conditions = append(conditions, "start_time <= ?")
		args = append(args, filter.ToTime.UnixNano())
	}

	return strings.Join(conditions, " AND "), args
}

// isUniqueViolation checks if the error is a primary key or unique constraint violation.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}

var (
	_ run.Store           = (*RunStore)(nil)
	_ run.SummaryProvider = (*RunStore)(nil)
)

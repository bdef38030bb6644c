package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/felixgeelhaar/merlin-agent/domain/run"
)

// uniqueViolation is the SQLSTATE of a unique constraint violation.
const uniqueViolation = "23505"

// RunStore is a PostgreSQL-backed implementation of run.Store.
type RunStore struct {
	pool   *pgxpool.Pool
	schema string
	owned  bool
}

// NewRunStore connects to PostgreSQL and creates a run store that owns the pool.
func NewRunStore(ctx context.Context, cfg Config, opts ...Option) (*RunStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := NewRunStoreFromPool(pool, cfg.Schema)
	s.owned = true

	if cfg.AutoMigrate {
		if err := s.Migrate(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewRunStoreFromPool creates a run store on an existing pool.
// The pool is not closed by Close.
func NewRunStoreFromPool(pool *pgxpool.Pool, schema string) *RunStore {
	if schema == "" {
		schema = "public"
	}
	return &RunStore{
		pool:   pool,
		schema: schema,
	}
}

// tableName returns the quoted, fully qualified table name.
func (s *RunStore) tableName() string {
	return pgx.Identifier{s.schema, "runs"}.Sanitize()
}

// Migrate creates the runs table if it doesn't exist.
func (s *RunStore) Migrate(ctx context.Context) error {
	statements := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			termination_reason TEXT NOT NULL,
			levels_solved INTEGER NOT NULL,
			final_level INTEGER NOT NULL,
			iterations INTEGER NOT NULL,
			data JSONB NOT NULL,
			start_time TIMESTAMPTZ NOT NULL,
			end_time TIMESTAMPTZ NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, s.tableName()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS runs_termination_reason_idx ON %s (termination_reason)`, s.tableName()),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS runs_start_time_idx ON %s (start_time)`, s.tableName()),
	}

	for _, stmt := range statements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return errors.Join(ErrMigrationFailed, err)
		}
	}
	return nil
}

// Save persists a finished run.
func (s *RunStore) Save(ctx context.Context, rec *run.Record) error {
	if rec == nil || rec.ID() == "" {
		return run.ErrInvalidRunID
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	r := rec.Result
	query := fmt.Sprintf(`
		INSERT INTO %s (id, termination_reason, levels_solved, final_level, iterations, data, start_time, end_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, s.tableName())

	_, err = s.pool.Exec(ctx, query,
		r.RunID,
		string(r.TerminationReason),
		r.LevelsSolved,
		r.FinalLevel,
		r.Iterations,
		data,
		r.StartTime,
		r.EndTime,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return run.ErrRunExists
		}
		return wrapError(err)
	}

	return nil
}

// Get retrieves a run by ID.
func (s *RunStore) Get(ctx context.Context, id string) (*run.Record, error) {
	if id == "" {
		return nil, run.ErrInvalidRunID
	}

	query := fmt.Sprintf(`SELECT data FROM %s WHERE id = $1`, s.tableName())

	var data []byte
	err := s.pool.QueryRow(ctx, query, id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, run.ErrRunNotFound
		}
		return nil, wrapError(err)
	}

	var rec run.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}
	return &rec, nil
}

// Delete removes a run by ID.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return run.ErrInvalidRunID
	}

	query := fmt.Sprintf(`DELETE FROM %s WHERE id = $1`, s.tableName())

	result, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return wrapError(err)
	}

	if result.RowsAffected() == 0 {
		return run.ErrRunNotFound
	}

	return nil
}

// List returns runs matching the filter.
func (s *RunStore) List(ctx context.Context, filter run.ListFilter) ([]*run.Record, error) {
	query, args := s.buildListQuery(filter)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapError(err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (*run.Record, error) {
		var data []byte
		if err := row.Scan(&data); err != nil {
			return nil, err
		}
		var rec run.Record
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("unmarshal run: %w", err)
		}
		return &rec, nil
	})
	if err != nil {
		return nil, wrapError(err)
	}

	return records, nil
}

// Count returns the number of runs matching the filter.
func (s *RunStore) Count(ctx context.Context, filter run.ListFilter) (int64, error) {
	where, args := buildWhereClause(filter)
	query := fmt.Sprintf(`SELECT COUNT(*) FROM %s %s`, s.tableName(), where)

	var count int64
	if err := s.pool.QueryRow(ctx, query, args...).Scan(&count); err != nil {
		return 0, wrapError(err)
	}
	return count, nil
}

// Summary returns aggregate statistics.
func (s *RunStore) Summary(ctx context.Context, filter run.ListFilter) (run.Summary, error) {
	where, args := buildWhereClause(filter)

	query := fmt.Sprintf(`
		SELECT
			COUNT(*),
			COUNT(*) FILTER (WHERE termination_reason = 'success'),
			COUNT(*) FILTER (WHERE termination_reason = 'exhausted'),
			COUNT(*) FILTER (WHERE termination_reason = 'fatal'),
			COUNT(*) FILTER (WHERE termination_reason = 'cancelled'),
			COALESCE(MAX(levels_solved), 0),
			COALESCE(AVG(EXTRACT(EPOCH FROM (end_time - start_time))), 0)::float8
		FROM %s
		%s
	`, s.tableName(), where)

	var summary run.Summary
	var avgSeconds float64

	err := s.pool.QueryRow(ctx, query, args...).Scan(
		&summary.TotalRuns,
		&summary.SucceededRuns,
		&summary.ExhaustedRuns,
		&summary.FatalRuns,
		&summary.CancelledRuns,
		&summary.MaxLevelSolved,
		&avgSeconds,
	)
	if err != nil {
		return run.Summary{}, wrapError(err)
	}

	summary.AverageDuration = time.Duration(avgSeconds * float64(time.Second))
	return summary, nil
}

// Close closes the pool when the store opened it.
func (s *RunStore) Close() error {
	if s.owned {
		s.pool.Close()
	}
	return nil
}

// buildListQuery constructs the SELECT query for listing runs.
func (s *RunStore) buildListQuery(filter run.ListFilter) (string, []any) {
	where, args := buildWhereClause(filter)

	query := fmt.Sprintf(`SELECT data FROM %s %s`, s.tableName(), where)

	orderBy := "start_time"
	switch filter.OrderBy {
	case run.OrderByEndTime:
		orderBy = "end_time"
	case run.OrderByID:
		orderBy = "id"
	case run.OrderByLevelsSolved:
		orderBy = "levels_solved"
	}

	direction := "ASC"
	if filter.Descending {
		direction = "DESC"
	}
	query += fmt.Sprintf(" ORDER BY %s %s", orderBy, direction)

	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if filter.Offset > 0 {
		args = append(args, filter.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	return query, args
}

// buildWhereClause constructs the WHERE clause from filter.
func buildWhereClause(filter run.ListFilter) (string, []any) {
	var conditions []string
	var args []any

	if len(filter.Reasons) > 0 {
		reasons := make([]string, len(filter.Reasons))
		for i, reason := range filter.Reasons {
			reasons[i] = string(reason)
		}
		args = append(args, reasons)
		conditions = append(conditions, fmt.Sprintf("termination_reason = ANY($%d)", len(args)))
	}

	if filter.MinLevelsSolved > 0 {
		args = append(args, filter.MinLevelsSolved)
		conditions = append(conditions, fmt.Sprintf("levels_solved >= $%d", len(args)))
	}

	if !filter.FromTime.IsZero() {
		args = append(args, filter.FromTime)
		conditions = append(conditions, fmt.Sprintf("start_time >= $%d", len(args)))
	}

	if !filter.ToTime.IsZero() {
		args = append(args, filter.ToTime)
		conditions = append(conditions, fmt.Sprintf("start_time <= $%d", len(args)))
	}

	if len(conditions) == 0 {
		return "", args
	}

	return "WHERE " + strings.Join(conditions, " AND "), args
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// wrapError wraps database errors with domain errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return errors.Join(run.ErrConnectionFailed, err)
}

var (
	_ run.Store           = (*RunStore)(nil)
	_ run.SummaryProvider = (*RunStore)(nil)
)

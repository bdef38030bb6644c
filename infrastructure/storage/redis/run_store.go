package redis

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/merlin-agent/domain/run"
)

// ErrOperationTimeout indicates a Redis call exceeded its deadline.
var ErrOperationTimeout = errors.New("redis: operation timed out")

// RunStore is a Redis-backed implementation of run.Store.
//
// Each record is stored as JSON under <prefix>run:<id>; the sorted set
// <prefix>runs indexes run IDs by start time.
type RunStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRunStore creates a new Redis run store and verifies the connection.
func NewRunStore(cfg Config, opts ...ConfigOption) (*RunStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	options, err := cfg.clientOptions()
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.DialTimeout)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Join(run.ErrConnectionFailed, err)
	}

	return NewRunStoreFromClient(client, cfg.KeyPrefix), nil
}

// NewRunStoreFromClient creates a run store from an existing Redis client.
func NewRunStoreFromClient(client *redis.Client, keyPrefix string) *RunStore {
	return &RunStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

func (s *RunStore) runKey(id string) string {
	return s.keyPrefix + "run:" + id
}

func (s *RunStore) indexKey() string {
	return s.keyPrefix + "runs"
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

	created, err := s.client.SetNX(ctx, s.runKey(rec.ID()), data, 0).Result()
	if err != nil {
		return wrapError(err)
	}
	if !created {
		return run.ErrRunExists
	}

	err = s.client.ZAdd(ctx, s.indexKey(), redis.Z{
		Score:  score(rec.Result.StartTime),
		Member: rec.ID(),
	}).Err()
	if err != nil {
		return wrapError(err)
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

	data, err := s.client.Get(ctx, s.runKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, run.ErrRunNotFound
	}
	if err != nil {
		return nil, wrapError(err)
	}

	return decode(data)
}

// Delete removes a run by ID.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if id == "" {
		return run.ErrInvalidRunID
	}

	pipe := s.client.TxPipeline()
	del := pipe.Del(ctx, s.runKey(id))
	pipe.ZRem(ctx, s.indexKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return wrapError(err)
	}

	if del.Val() == 0 {
		return run.ErrRunNotFound
	}
	return nil
}

// List returns runs matching the filter.
func (s *RunStore) List(ctx context.Context, filter run.ListFilter) ([]*run.Record, error) {
	records, err := s.load(ctx, filter)
	if err != nil {
		return nil, err
	}
	return filter.Apply(records), nil
}

// Count returns the number of runs matching the filter.
func (s *RunStore) Count(ctx context.Context, filter run.ListFilter) (int64, error) {
	records, err := s.load(ctx, filter)
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
	records, err := s.load(ctx, filter)
	if err != nil {
		return run.Summary{}, err
	}
	return run.Summarize(records, filter), nil
}

// Close closes the Redis connection.
func (s *RunStore) Close() error {
	return s.client.Close()
}

// load fetches the records whose start time falls in the filter's window.
func (s *RunStore) load(ctx context.Context, filter run.ListFilter) ([]*run.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ids, err := s.client.ZRangeByScore(ctx, s.indexKey(), scoreRange(filter)).Result()
	if err != nil {
		return nil, wrapError(err)
	}
	if len(ids) == 0 {
		return []*run.Record{}, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.runKey(id)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, wrapError(err)
	}

	records := make([]*run.Record, 0, len(values))
	for _, v := range values {
		str, ok := v.(string)
		if !ok {
			continue // deleted between ZRANGE and MGET
		}
		rec, err := decode([]byte(str))
		if err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records, nil
}

func decode(data []byte) (*run.Record, error) {
	var rec run.Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// score maps a start time to a sorted set score with millisecond resolution.
func score(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func scoreRange(filter run.ListFilter) *redis.ZRangeBy {
	by := &redis.ZRangeBy{Min: "-inf", Max: "+inf"}
	if !filter.FromTime.IsZero() {
		by.Min = formatScore(filter.FromTime)
	}
	if !filter.ToTime.IsZero() {
		by.Max = formatScore(filter.ToTime)
	}
	return by
}

func formatScore(t time.Time) string {
	return strconv.FormatFloat(score(t), 'f', -1, 64)
}

// wrapError wraps Redis errors with storage errors.
func wrapError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Join(ErrOperationTimeout, err)
	}

	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return errors.Join(ErrOperationTimeout, err)
	}

	return err
}

var (
	_ run.Store           = (*RunStore)(nil)
	_ run.SummaryProvider = (*RunStore)(nil)
)

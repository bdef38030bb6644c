package mongodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/felixgeelhaar/merlin-agent/domain/run"
)

// runDocument is the MongoDB document representation of a run.
// The indexed fields mirror the result; Data holds the full record.
type runDocument struct {
	ID                string    `bson:"_id"`
	TerminationReason string    `bson:"termination_reason"`
	LevelsSolved      int       `bson:"levels_solved"`
	FinalLevel        int       `bson:"final_level"`
	Iterations        int       `bson:"iterations"`
	StartTime         time.Time `bson:"start_time"`
	EndTime           time.Time `bson:"end_time"`
	DurationMs        int64     `bson:"duration_ms"`
	Data              []byte    `bson:"data"`
}

// RunStore is a MongoDB-backed implementation of run.Store.
type RunStore struct {
	client       *mongo.Client
	collection   *mongo.Collection
	queryTimeout time.Duration
}

// NewRunStore connects to MongoDB and creates a run store that owns the client.
func NewRunStore(ctx context.Context, cfg Config, opts ...Option) (*RunStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	clientOpts := options.Client().
		ApplyURI(cfg.URI).
		SetMaxPoolSize(cfg.MaxPoolSize).
		SetMinPoolSize(cfg.MinPoolSize)

	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, clientOpts)
	if err != nil {
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, errors.Join(ErrConnectionFailed, err)
	}

	s := NewRunStoreFromCollection(client.Database(cfg.Database).Collection(cfg.Collection), cfg.QueryTimeout)
	s.client = client

	if err := s.CreateIndexes(connectCtx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, errors.Join(ErrConnectionFailed, err)
	}
	return s, nil
}

// NewRunStoreFromCollection creates a run store on an existing collection.
func NewRunStoreFromCollection(collection *mongo.Collection, queryTimeout time.Duration) *RunStore {
	if queryTimeout <= 0 {
		queryTimeout = DefaultConfig().QueryTimeout
	}
	return &RunStore{
		collection:   collection,
		queryTimeout: queryTimeout,
	}
}

// CreateIndexes creates the indexes used by List and Summary.
func (s *RunStore) CreateIndexes(ctx context.Context) error {
	_, err := s.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "termination_reason", Value: 1}, {Key: "start_time", Value: -1}}},
		{Keys: bson.D{{Key: "start_time", Value: -1}}},
	})
	return err
}

// Save persists a finished run.
func (s *RunStore) Save(ctx context.Context, rec *run.Record) error {
	if rec == nil || rec.ID() == "" {
		return run.ErrInvalidRunID
	}

	doc, err := toDocument(rec)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	if _, err := s.collection.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
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

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var doc runDocument
	err := s.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, run.ErrRunNotFound
		}
		return nil, wrapError(err)
	}

	return fromDocument(&doc)
}

// Delete removes a run by ID.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return run.ErrInvalidRunID
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	result, err := s.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return wrapError(err)
	}

	if result.DeletedCount == 0 {
		return run.ErrRunNotFound
	}

	return nil
}

// List returns runs matching the filter.
func (s *RunStore) List(ctx context.Context, filter run.ListFilter) ([]*run.Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	cursor, err := s.collection.Find(ctx, buildFilter(filter), buildFindOptions(filter))
	if err != nil {
		return nil, wrapError(err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	records := []*run.Record{}
	for cursor.Next(ctx) {
		var doc runDocument
		if err := cursor.Decode(&doc); err != nil {
			return nil, wrapError(err)
		}
		rec, err := fromDocument(&doc)
		if err != nil {
			continue // Skip malformed entries
		}
		records = append(records, rec)
	}

	if err := cursor.Err(); err != nil {
		return nil, wrapError(err)
	}

	return records, nil
}

// Count returns the number of runs matching the filter.
func (s *RunStore) Count(ctx context.Context, filter run.ListFilter) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	count, err := s.collection.CountDocuments(ctx, buildFilter(filter))
	if err != nil {
		return 0, wrapError(err)
	}

	return count, nil
}

// Summary returns aggregate statistics.
func (s *RunStore) Summary(ctx context.Context, filter run.ListFilter) (run.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	cursor, err := s.collection.Aggregate(ctx, summaryPipeline(filter))
	if err != nil {
		return run.Summary{}, wrapError(err)
	}
	defer func() { _ = cursor.Close(ctx) }()

	var summary run.Summary
	if cursor.Next(ctx) {
		var result struct {
			Total       int64   `bson:"total"`
			Succeeded   int64   `bson:"succeeded"`
			Exhausted   int64   `bson:"exhausted"`
			Fatal       int64   `bson:"fatal"`
			Cancelled   int64   `bson:"cancelled"`
			MaxLevel    int     `bson:"max_level"`
			AvgDuration float64 `bson:"avg_duration"`
		}
		if err := cursor.Decode(&result); err != nil {
			return run.Summary{}, wrapError(err)
		}

		summary.TotalRuns = result.Total
		summary.SucceededRuns = result.Succeeded
		summary.ExhaustedRuns = result.Exhausted
		summary.FatalRuns = result.Fatal
		summary.CancelledRuns = result.Cancelled
		summary.MaxLevelSolved = result.MaxLevel
		summary.AverageDuration = time.Duration(result.AvgDuration * float64(time.Millisecond))
	}

	return summary, cursor.Err()
}

// Close disconnects the client when the store opened it.
func (s *RunStore) Close() error {
	if s.client == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.queryTimeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func countReason(reason string) bson.D {
	return bson.D{{Key: "$sum", Value: bson.D{
		{Key: "$cond", Value: bson.A{bson.D{{Key: "$eq", Value: bson.A{"$termination_reason", reason}}}, 1, 0}},
	}}}
}

func summaryPipeline(filter run.ListFilter) mongo.Pipeline {
	return mongo.Pipeline{
		bson.D{{Key: "$match", Value: buildFilter(filter)}},
		bson.D{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "succeeded", Value: countReason("success")},
			{Key: "exhausted", Value: countReason("exhausted")},
			{Key: "fatal", Value: countReason("fatal")},
			{Key: "cancelled", Value: countReason("cancelled")},
			{Key: "max_level", Value: bson.D{{Key: "$max", Value: "$levels_solved"}}},
			{Key: "avg_duration", Value: bson.D{{Key: "$avg", Value: "$duration_ms"}}},
		}}},
	}
}

// buildFilter constructs a MongoDB filter from the domain filter.
func buildFilter(filter run.ListFilter) bson.M {
	mongoFilter := bson.M{}

	if len(filter.Reasons) > 0 {
		reasons := make([]string, len(filter.Reasons))
		for i, reason := range filter.Reasons {
			reasons[i] = string(reason)
		}
		mongoFilter["termination_reason"] = bson.M{"$in": reasons}
	}

	if filter.MinLevelsSolved > 0 {
		mongoFilter["levels_solved"] = bson.M{"$gte": filter.MinLevelsSolved}
	}

	if !filter.FromTime.IsZero() || !filter.ToTime.IsZero() {
		window := bson.M{}
		if !filter.FromTime.IsZero() {
			window["$gte"] = filter.FromTime
		}
		if !filter.ToTime.IsZero() {
			window["$lte"] = filter.ToTime
		}
		mongoFilter["start_time"] = window
	}

	return mongoFilter
}

// buildFindOptions constructs MongoDB find options from the domain filter.
func buildFindOptions(filter run.ListFilter) *options.FindOptions {
	opts := options.Find()

	sortField := "start_time"
	switch filter.OrderBy {
	case run.OrderByEndTime:
		sortField = "end_time"
	case run.OrderByID:
		sortField = "_id"
	case run.OrderByLevelsSolved:
		sortField = "levels_solved"
	}

	sortDir := 1
	if filter.Descending {
		sortDir = -1
	}
	opts.SetSort(bson.D{{Key: sortField, Value: sortDir}})

	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}
	if filter.Offset > 0 {
		opts.SetSkip(int64(filter.Offset))
	}

	return opts
}

func toDocument(rec *run.Record) (*runDocument, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal run: %w", err)
	}

	r := rec.Result
	return &runDocument{
		ID:                r.RunID,
		TerminationReason: string(r.TerminationReason),
		LevelsSolved:      r.LevelsSolved,
		FinalLevel:        r.FinalLevel,
		Iterations:        r.Iterations,
		StartTime:         r.StartTime,
		EndTime:           r.EndTime,
		DurationMs:        r.Duration().Milliseconds(),
		Data:              data,
	}, nil
}

func fromDocument(doc *runDocument) (*run.Record, error) {
	var rec run.Record
	if err := json.Unmarshal(doc.Data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", doc.ID, err)
	}
	return &rec, nil
}

// wrapError wraps MongoDB errors with domain errors.
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

package dynamodb

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/felixgeelhaar/merlin-agent/domain/ledger"
	"github.com/felixgeelhaar/merlin-agent/domain/puzzle"
	"github.com/felixgeelhaar/merlin-agent/domain/run"
)

// fakeAPI is a map-backed stand-in for the DynamoDB client. Scan ignores
// filter expressions; the store re-applies filters in memory.
type fakeAPI struct {
	mu      sync.Mutex
	items   map[string]map[string]types.AttributeValue
	created int
	scanErr error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{items: make(map[string]map[string]types.AttributeValue)}
}

func idOf(key map[string]types.AttributeValue) string {
	if s, ok := key["id"].(*types.AttributeValueMemberS); ok {
		return s.Value
	}
	return ""
}

func (f *fakeAPI) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := idOf(in.Item)
	if _, ok := f.items[id]; ok && aws.ToString(in.ConditionExpression) != "" {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("exists")}
	}
	f.items[id] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeAPI) GetItem(_ context.Context, in *dynamodb.GetItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &dynamodb.GetItemOutput{Item: f.items[idOf(in.Key)]}, nil
}

func (f *fakeAPI) DeleteItem(_ context.Context, in *dynamodb.DeleteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := idOf(in.Key)
	if _, ok := f.items[id]; !ok {
		return nil, &types.ConditionalCheckFailedException{Message: aws.String("missing")}
	}
	delete(f.items, id)
	return &dynamodb.DeleteItemOutput{}, nil
}

func (f *fakeAPI) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.scanErr != nil {
		return nil, f.scanErr
	}
	out := &dynamodb.ScanOutput{Count: int32(len(f.items))}
	if in.Select == types.SelectCount {
		return out, nil
	}
	for _, item := range f.items {
		out.Items = append(out.Items, item)
	}
	return out, nil
}

func (f *fakeAPI) CreateTable(_ context.Context, _ *dynamodb.CreateTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.created++
	if f.created > 1 {
		return nil, &types.ResourceInUseException{Message: aws.String("table exists")}
	}
	return &dynamodb.CreateTableOutput{}, nil
}

func (f *fakeAPI) DescribeTable(_ context.Context, in *dynamodb.DescribeTableInput, _ ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error) {
	return &dynamodb.DescribeTableOutput{
		Table: &types.TableDescription{
			TableName:   in.TableName,
			TableStatus: types.TableStatusActive,
		},
	}, nil
}

func testRecord(id string, reason puzzle.TerminationReason, solved int, start time.Time) *run.Record {
	l := ledger.New(id)
	l.RecordRunStarted(3, 30)
	return &run.Record{
		Result: puzzle.RunResult{
			RunID:             id,
			FinalLevel:        3,
			LevelsSolved:      solved,
			TerminationReason: reason,
			Iterations:        4,
			History: []puzzle.Exchange{
				{Index: 0, Level: 1, Action: puzzle.Submit("COCOLOCO"), Timestamp: start},
			},
			StartTime: start,
			EndTime:   start.Add(2 * time.Second),
		},
		Entries: l.Entries(),
	}
}

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	for _, opt := range []Option{
		WithRegion("eu-west-1"),
		WithEndpoint("http://localhost:8000"),
		WithStaticCredentials("key", "secret"),
		WithTableName("runs_test"),
		WithQueryTimeout(time.Second),
	} {
		opt(&cfg)
	}

	if cfg.Region != "eu-west-1" || cfg.Endpoint != "http://localhost:8000" {
		t.Errorf("cfg = %+v", cfg)
	}
	if cfg.AccessKeyID != "key" || cfg.SecretAccessKey != "secret" {
		t.Errorf("credentials = %s/%s", cfg.AccessKeyID, cfg.SecretAccessKey)
	}
	if cfg.TableName != "runs_test" || cfg.QueryTimeout != time.Second {
		t.Errorf("table = %s, timeout = %v", cfg.TableName, cfg.QueryTimeout)
	}
	if DefaultConfig().TableName != "merlin_runs" {
		t.Errorf("default table = %s", DefaultConfig().TableName)
	}
}

func TestRunStore_CreateTable(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	store := NewRunStoreFromClient(api, "runs", time.Second)
	ctx := context.Background()

	if err := store.CreateTable(ctx); err != nil {
		t.Fatalf("CreateTable() error = %v", err)
	}
	if err := store.CreateTable(ctx); err != nil {
		t.Errorf("CreateTable() on existing table error = %v", err)
	}

	in := createTableInput("runs")
	if aws.ToString(in.TableName) != "runs" || len(in.KeySchema) != 1 {
		t.Errorf("createTableInput() = %+v", in)
	}
	if in.BillingMode != types.BillingModePayPerRequest {
		t.Errorf("BillingMode = %s", in.BillingMode)
	}
}

func TestRunStore_SaveGetDelete(t *testing.T) {
	t.Parallel()

	store := NewRunStoreFromClient(newFakeAPI(), "", 0)
	ctx := context.Background()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	rec := testRecord("run-1", puzzle.TerminationExhausted, 2, start)

	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}
	if err := store.Save(ctx, rec); !errors.Is(err, run.ErrRunExists) {
		t.Errorf("Save() duplicate error = %v, want ErrRunExists", err)
	}

	got, err := store.Get(ctx, "run-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Result.LevelsSolved != 2 || got.Result.TerminationReason != puzzle.TerminationExhausted {
		t.Errorf("Get() result = %+v", got.Result)
	}
	if len(got.Result.History) != 1 || got.Result.History[0].Action.Password != "COCOLOCO" {
		t.Errorf("History = %+v", got.Result.History)
	}
	if len(got.Entries) != len(rec.Entries) {
		t.Errorf("Entries = %d, want %d", len(got.Entries), len(rec.Entries))
	}

	if err := store.Delete(ctx, "run-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "run-1"); !errors.Is(err, run.ErrRunNotFound) {
		t.Errorf("Get() after delete error = %v, want ErrRunNotFound", err)
	}
	if err := store.Delete(ctx, "run-1"); !errors.Is(err, run.ErrRunNotFound) {
		t.Errorf("Delete() missing error = %v, want ErrRunNotFound", err)
	}
}

func TestRunStore_Validation(t *testing.T) {
	t.Parallel()

	store := NewRunStoreFromClient(newFakeAPI(), "", 0)
	ctx := context.Background()

	if err := store.Save(ctx, nil); !errors.Is(err, run.ErrInvalidRunID) {
		t.Errorf("Save(nil) error = %v", err)
	}
	if _, err := store.Get(ctx, ""); !errors.Is(err, run.ErrInvalidRunID) {
		t.Errorf("Get(\"\") error = %v", err)
	}
	if err := store.Delete(ctx, ""); !errors.Is(err, run.ErrInvalidRunID) {
		t.Errorf("Delete(\"\") error = %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}

func TestRunStore_ListCountSummary(t *testing.T) {
	t.Parallel()

	store := NewRunStoreFromClient(newFakeAPI(), "runs", time.Second)
	ctx := context.Background()
	base := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

	for i, rec := range []*run.Record{
		testRecord("run-a", puzzle.TerminationSuccess, 3, base),
		testRecord("run-b", puzzle.TerminationExhausted, 1, base.Add(time.Hour)),
		testRecord("run-c", puzzle.TerminationFatal, 0, base.Add(2*time.Hour)),
	} {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("Save(%d) error = %v", i, err)
		}
	}

	all, err := store.List(ctx, run.ListFilter{OrderBy: run.OrderByStartTime, Descending: true})
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(all) != 3 || all[0].ID() != "run-c" || all[2].ID() != "run-a" {
		t.Errorf("List() order = %v", ids(all))
	}

	filtered, err := store.List(ctx, run.ListFilter{MinLevelsSolved: 1, Limit: 1})
	if err != nil {
		t.Fatalf("List(filtered) error = %v", err)
	}
	if len(filtered) != 1 || filtered[0].ID() != "run-a" {
		t.Errorf("List(filtered) = %v", ids(filtered))
	}

	count, err := store.Count(ctx, run.ListFilter{})
	if err != nil || count != 3 {
		t.Errorf("Count() = %d, %v", count, err)
	}

	summary, err := store.Summary(ctx, run.ListFilter{})
	if err != nil {
		t.Fatalf("Summary() error = %v", err)
	}
	if summary.TotalRuns != 3 || summary.SucceededRuns != 1 || summary.FatalRuns != 1 {
		t.Errorf("Summary() = %+v", summary)
	}
	if summary.MaxLevelSolved != 3 || summary.AverageDuration != 2*time.Second {
		t.Errorf("Summary() = %+v", summary)
	}
}

func TestRunStore_ScanFailure(t *testing.T) {
	t.Parallel()

	api := newFakeAPI()
	api.scanErr = errors.New("throttled")
	store := NewRunStoreFromClient(api, "runs", time.Second)

	if _, err := store.List(context.Background(), run.ListFilter{}); !errors.Is(err, run.ErrConnectionFailed) {
		t.Errorf("List() error = %v, want ErrConnectionFailed", err)
	}
}

func TestBuildFilterExpression(t *testing.T) {
	t.Parallel()

	expr, err := buildFilterExpression(run.ListFilter{})
	if err != nil || expr != nil {
		t.Errorf("buildFilterExpression(empty) = %v, %v", expr, err)
	}

	expr, err = buildFilterExpression(run.ListFilter{
		Reasons:         []puzzle.TerminationReason{puzzle.TerminationSuccess, puzzle.TerminationFatal},
		MinLevelsSolved: 2,
		FromTime:        time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	if err != nil {
		t.Fatalf("buildFilterExpression() error = %v", err)
	}
	filter := aws.ToString(expr.Filter())
	if !strings.Contains(filter, "IN") || !strings.Contains(filter, "AND") {
		t.Errorf("filter = %s", filter)
	}
	if len(expr.Names()) != 3 {
		t.Errorf("names = %v", expr.Names())
	}
	if len(expr.Values()) != 4 {
		t.Errorf("values = %d, want 4", len(expr.Values()))
	}
}

func TestFormatTime(t *testing.T) {
	t.Parallel()

	early := formatTime(time.Date(2026, 1, 2, 3, 4, 5, 6, time.UTC))
	later := formatTime(time.Date(2026, 1, 2, 3, 4, 5, 70, time.FixedZone("x", 3600)))

	if early != "2026-01-02T03:04:05.000000006Z" {
		t.Errorf("formatTime() = %s", early)
	}
	if later >= early {
		t.Errorf("formatTime() should normalise to UTC: %s vs %s", later, early)
	}
}

func TestWrapError(t *testing.T) {
	t.Parallel()

	if wrapError(nil) != nil {
		t.Error("wrapError(nil) should be nil")
	}
	if err := wrapError(context.Canceled); !errors.Is(err, context.Canceled) || errors.Is(err, run.ErrConnectionFailed) {
		t.Errorf("wrapError(canceled) = %v", err)
	}
	if err := wrapError(errors.New("boom")); !errors.Is(err, run.ErrConnectionFailed) {
		t.Errorf("wrapError(boom) = %v", err)
	}
}

func ids(records []*run.Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.ID()
	}
	return out
}

package dynamodb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/felixgeelhaar/merlin-agent/domain/run"
)

// timeLayout sorts lexicographically, so start_time filters can compare strings.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// tableWaitTimeout bounds waiting for a created table to become active.
const tableWaitTimeout = 2 * time.Minute

// API is the subset of the DynamoDB client used by the run store.
type API interface {
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, opts ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, opts ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	CreateTable(ctx context.Context, in *dynamodb.CreateTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.CreateTableOutput, error)
	DescribeTable(ctx context.Context, in *dynamodb.DescribeTableInput, opts ...func(*dynamodb.Options)) (*dynamodb.DescribeTableOutput, error)
}

// runItem represents a run in DynamoDB. Data holds the full record.
type runItem struct {
	ID                string `dynamodbav:"id"`
	TerminationReason string `dynamodbav:"termination_reason"`
	LevelsSolved      int    `dynamodbav:"levels_solved"`
	FinalLevel        int    `dynamodbav:"final_level"`
	Iterations        int    `dynamodbav:"iterations"`
	StartTime         string `dynamodbav:"start_time"`
	EndTime           string `dynamodbav:"end_time"`
	DurationMs        int64  `dynamodbav:"duration_ms"`
	Data              []byte `dynamodbav:"data"`
}

// RunStore is a DynamoDB-backed implementation of run.Store.
type RunStore struct {
	client       API
	tableName    string
	queryTimeout time.Duration
}

// NewRunStore connects to DynamoDB and creates a run store.
func NewRunStore(ctx context.Context, cfg Config, opts ...Option) (*RunStore, error) {
	for _, opt := range opts {
		opt(&cfg)
	}

	client, err := newClient(ctx, cfg)
	if err != nil {
		return nil, err
	}

	s := NewRunStoreFromClient(client, cfg.TableName, cfg.QueryTimeout)
	if cfg.CreateTable {
		if err := s.CreateTable(ctx); err != nil {
			return nil, errors.Join(ErrConnectionFailed, err)
		}
	}
	return s, nil
}

// NewRunStoreFromClient creates a run store on an existing client.
func NewRunStoreFromClient(client API, tableName string, queryTimeout time.Duration) *RunStore {
	if tableName == "" {
		tableName = DefaultConfig().TableName
	}
	if queryTimeout <= 0 {
		queryTimeout = DefaultConfig().QueryTimeout
	}
	return &RunStore{
		client:       client,
		tableName:    tableName,
		queryTimeout: queryTimeout,
	}
}

// CreateTable creates the runs table if it doesn't exist and waits until it is active.
func (s *RunStore) CreateTable(ctx context.Context) error {
	_, err := s.client.CreateTable(ctx, createTableInput(s.tableName))
	if err != nil {
		var inUse *types.ResourceInUseException
		if errors.As(err, &inUse) {
			return nil
		}
		return err
	}

	waiter := dynamodb.NewTableExistsWaiter(s.client)
	return waiter.Wait(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(s.tableName),
	}, tableWaitTimeout)
}

func createTableInput(tableName string) *dynamodb.CreateTableInput {
	return &dynamodb.CreateTableInput{
		TableName: aws.String(tableName),
		KeySchema: []types.KeySchemaElement{
			{AttributeName: aws.String("id"), KeyType: types.KeyTypeHash},
		},
		AttributeDefinitions: []types.AttributeDefinition{
			{AttributeName: aws.String("id"), AttributeType: types.ScalarAttributeTypeS},
		},
		BillingMode: types.BillingModePayPerRequest,
	}
}

// Save persists a finished run.
func (s *RunStore) Save(ctx context.Context, rec *run.Record) error {
	if rec == nil || rec.ID() == "" {
		return run.ErrInvalidRunID
	}

	item, err := toItem(rec)
	if err != nil {
		return err
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.tableName),
		Item:                av,
		ConditionExpression: aws.String("attribute_not_exists(id)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
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

	result, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(id),
	})
	if err != nil {
		return nil, wrapError(err)
	}

	if result.Item == nil {
		return nil, run.ErrRunNotFound
	}

	return decodeItem(result.Item)
}

// Delete removes a run by ID.
func (s *RunStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return run.ErrInvalidRunID
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	_, err := s.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:           aws.String(s.tableName),
		Key:                 itemKey(id),
		ConditionExpression: aws.String("attribute_exists(id)"),
	})
	if err != nil {
		var conditionFailed *types.ConditionalCheckFailedException
		if errors.As(err, &conditionFailed) {
			return run.ErrRunNotFound
		}
		return wrapError(err)
	}

	return nil
}

// List returns runs matching the filter. DynamoDB scans are unordered, so
// sorting and pagination happen after the filtered scan.
func (s *RunStore) List(ctx context.Context, filter run.ListFilter) ([]*run.Record, error) {
	records, err := s.scan(ctx, filter)
	if err != nil {
		return nil, err
	}
	return filter.Apply(records), nil
}

// Count returns the number of runs matching the filter.
func (s *RunStore) Count(ctx context.Context, filter run.ListFilter) (int64, error) {
	input, err := s.scanInput(filter)
	if err != nil {
		return 0, err
	}
	input.Select = types.SelectCount

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	var count int64
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, wrapError(err)
		}
		count += int64(page.Count)
	}

	return count, nil
}

// Summary returns aggregate statistics computed over a filtered scan.
func (s *RunStore) Summary(ctx context.Context, filter run.ListFilter) (run.Summary, error) {
	records, err := s.scan(ctx, filter)
	if err != nil {
		return run.Summary{}, err
	}
	return run.Summarize(records, filter), nil
}

// Close is a no-op; the AWS client holds no connection.
func (s *RunStore) Close() error {
	return nil
}

func (s *RunStore) scan(ctx context.Context, filter run.ListFilter) ([]*run.Record, error) {
	input, err := s.scanInput(filter)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.queryTimeout)
	defer cancel()

	records := []*run.Record{}
	paginator := dynamodb.NewScanPaginator(s.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, wrapError(err)
		}
		for _, item := range page.Items {
			rec, err := decodeItem(item)
			if err != nil {
				continue // Skip malformed entries
			}
			records = append(records, rec)
		}
	}
	return records, nil
}

func (s *RunStore) scanInput(filter run.ListFilter) (*dynamodb.ScanInput, error) {
	input := &dynamodb.ScanInput{TableName: aws.String(s.tableName)}

	expr, err := buildFilterExpression(filter)
	if err != nil {
		return nil, err
	}
	if expr != nil {
		input.FilterExpression = expr.Filter()
		input.ExpressionAttributeNames = expr.Names()
		input.ExpressionAttributeValues = expr.Values()
	}
	return input, nil
}

// buildFilterExpression translates the filter into a scan filter, or nil when it matches everything.
func buildFilterExpression(filter run.ListFilter) (*expression.Expression, error) {
	var conds []expression.ConditionBuilder

	if len(filter.Reasons) > 0 {
		values := make([]expression.OperandBuilder, len(filter.Reasons))
		for i, reason := range filter.Reasons {
			values[i] = expression.Value(string(reason))
		}
		conds = append(conds, expression.Name("termination_reason").In(values[0], values[1:]...))
	}

	if filter.MinLevelsSolved > 0 {
		conds = append(conds, expression.Name("levels_solved").GreaterThanEqual(expression.Value(filter.MinLevelsSolved)))
	}

	if !filter.FromTime.IsZero() {
		conds = append(conds, expression.Name("start_time").GreaterThanEqual(expression.Value(formatTime(filter.FromTime))))
	}

	if !filter.ToTime.IsZero() {
		conds = append(conds, expression.Name("start_time").LessThanEqual(expression.Value(formatTime(filter.ToTime))))
	}

	if len(conds) == 0 {
		return nil, nil
	}

	cond := conds[0]
	if len(conds) > 1 {
		cond = expression.And(conds[0], conds[1], conds[2:]...)
	}

	expr, err := expression.NewBuilder().WithFilter(cond).Build()
	if err != nil {
		return nil, fmt.Errorf("build filter expression: %w", err)
	}
	return &expr, nil
}

func itemKey(id string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"id": &types.AttributeValueMemberS{Value: id},
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func toItem(rec *run.Record) (*runItem, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("marshal run: %w", err)
	}

	r := rec.Result
	return &runItem{
		ID:                r.RunID,
		TerminationReason: string(r.TerminationReason),
		LevelsSolved:      r.LevelsSolved,
		FinalLevel:        r.FinalLevel,
		Iterations:        r.Iterations,
		StartTime:         formatTime(r.StartTime),
		EndTime:           formatTime(r.EndTime),
		DurationMs:        r.Duration().Milliseconds(),
		Data:              data,
	}, nil
}

func decodeItem(av map[string]types.AttributeValue) (*run.Record, error) {
	var item runItem
	if err := attributevalue.UnmarshalMap(av, &item); err != nil {
		return nil, fmt.Errorf("unmarshal run: %w", err)
	}

	var rec run.Record
	if err := json.Unmarshal(item.Data, &rec); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", item.ID, err)
	}
	return &rec, nil
}

// wrapError wraps DynamoDB errors with domain errors.
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
	_ API                 = (*dynamodb.Client)(nil)
)

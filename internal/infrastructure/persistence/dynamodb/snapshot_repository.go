package dynamodb

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dreschagin/visual-regression/internal/domain/entity"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
)

const (
	maxBatchWriteSize = 25
	maxBatchRetries   = 5

	attrPK                = "PK"
	attrSK                = "SK"
	attrID                = "id"
	attrTestID            = "test_id"
	attrIsBaseline        = "is_baseline"
	attrMatchPercentage   = "match_percentage"
	attrMismatchCount     = "mismatch_count"
	attrTotalPixels       = "total_pixels"
	attrDimensionMismatch = "dimension_mismatch"
	attrStatus            = "status"
	attrCreatedAt         = "created_at"
	attrExpiresAt         = "expires_at"
)

type Config struct {
	TableName       string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	StrongReads     bool
	// Retention если > 0, записи получают атрибут expires_at для DynamoDB TTL
	Retention time.Duration
}

// API подмножество клиента DynamoDB, используемое журналом
type API interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
	BatchWriteItem(ctx context.Context, params *dynamodb.BatchWriteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error)
}

// SnapshotRepository журнал сравнений в DynamoDB.
// PK = TEST#<test_id>, SK = TS#<created_at micros>#ID#<record id>.
type SnapshotRepository struct {
	client      API
	tableName   string
	strongReads bool
	retention   time.Duration
	now         func() time.Time
}

type cursorPayload struct {
	TestID string                 `json:"test_id"`
	Key    map[string]cursorValue `json:"key"`
}

type cursorValue struct {
	S string `json:"s,omitempty"`
	N string `json:"n,omitempty"`
}

func NewSnapshotRepository(ctx context.Context, cfg Config) (*SnapshotRepository, error) {
	if strings.TrimSpace(cfg.TableName) == "" {
		return nil, fmt.Errorf("dynamodb table name is required")
	}

	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}

	loadOptions := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	accessKeyID := strings.TrimSpace(cfg.AccessKeyID)
	secretAccessKey := strings.TrimSpace(cfg.SecretAccessKey)
	if accessKeyID != "" || secretAccessKey != "" {
		if accessKeyID == "" || secretAccessKey == "" {
			return nil, fmt.Errorf("both dynamodb access key id and secret access key are required for static credentials")
		}
		loadOptions = append(loadOptions, awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			accessKeyID,
			secretAccessKey,
			"",
		)))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config for dynamodb: %w", err)
	}

	client := dynamodb.NewFromConfig(awsCfg, func(options *dynamodb.Options) {
		if endpoint := strings.TrimSpace(cfg.Endpoint); endpoint != "" {
			options.BaseEndpoint = &endpoint
		}
	})

	return NewSnapshotRepositoryWithClient(client, cfg), nil
}

// NewSnapshotRepositoryWithClient собирает журнал поверх готового клиента
func NewSnapshotRepositoryWithClient(client API, cfg Config) *SnapshotRepository {
	return &SnapshotRepository{
		client:      client,
		tableName:   strings.TrimSpace(cfg.TableName),
		strongReads: cfg.StrongReads,
		retention:   cfg.Retention,
		now:         time.Now,
	}
}

func (r *SnapshotRepository) Append(ctx context.Context, record entity.SnapshotRecord) error {
	item, err := r.toItem(record)
	if err != nil {
		return err
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           &r.tableName,
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(#pk)"),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
		},
	})
	if err != nil {
		return fmt.Errorf("dynamodb put snapshot record failed: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) List(ctx context.Context, query repository.SnapshotQuery) (repository.SnapshotPage, error) {
	testID := strings.TrimSpace(query.TestID)
	if testID == "" {
		return repository.SnapshotPage{}, fmt.Errorf("test_id is required")
	}
	limit := query.NormalizeLimit()

	keyCondition := "#pk = :pk"
	input := &dynamodb.QueryInput{
		TableName:              &r.tableName,
		KeyConditionExpression: &keyCondition,
		Limit:                  aws.Int32(int32(limit)),
		ScanIndexForward:       aws.Bool(false),
		ConsistentRead:         aws.Bool(r.strongReads),
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: buildPK(testID)},
		},
	}

	if strings.TrimSpace(query.Cursor) != "" {
		exclusiveStartKey, err := decodeCursor(query.Cursor, testID)
		if err != nil {
			return repository.SnapshotPage{}, err
		}
		input.ExclusiveStartKey = exclusiveStartKey
	}

	output, err := r.client.Query(ctx, input)
	if err != nil {
		return repository.SnapshotPage{}, fmt.Errorf("dynamodb query failed: %w", err)
	}

	items := make([]entity.SnapshotRecord, 0, len(output.Items))
	for _, raw := range output.Items {
		record, err := fromItem(raw)
		if err != nil {
			return repository.SnapshotPage{}, err
		}
		items = append(items, record)
	}

	nextCursor := ""
	if len(output.LastEvaluatedKey) > 0 {
		nextCursor, err = encodeCursor(output.LastEvaluatedKey, testID)
		if err != nil {
			return repository.SnapshotPage{}, err
		}
	}

	return repository.SnapshotPage{
		Items:      items,
		NextCursor: nextCursor,
	}, nil
}

func (r *SnapshotRepository) DeleteByTest(ctx context.Context, testID string) error {
	keyCondition := "#pk = :pk"
	projection := "#pk, #sk"
	input := &dynamodb.QueryInput{
		TableName:              &r.tableName,
		KeyConditionExpression: &keyCondition,
		ProjectionExpression:   &projection,
		ExpressionAttributeNames: map[string]string{
			"#pk": attrPK,
			"#sk": attrSK,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":pk": &types.AttributeValueMemberS{Value: buildPK(testID)},
		},
	}

	for {
		output, err := r.client.Query(ctx, input)
		if err != nil {
			return fmt.Errorf("dynamodb query failed: %w", err)
		}
		if _, err := r.deleteKeys(ctx, output.Items); err != nil {
			return err
		}
		if len(output.LastEvaluatedKey) == 0 {
			return nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

// DeleteOlderThan сканирует таблицу; при включенном TTL DynamoDB чистит записи сам
func (r *SnapshotRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	filter := "#created < :cutoff"
	projection := "#pk, #sk"
	input := &dynamodb.ScanInput{
		TableName:            &r.tableName,
		FilterExpression:     &filter,
		ProjectionExpression: &projection,
		ExpressionAttributeNames: map[string]string{
			"#pk":      attrPK,
			"#sk":      attrSK,
			"#created": attrCreatedAt,
		},
		ExpressionAttributeValues: map[string]types.AttributeValue{
			":cutoff": &types.AttributeValueMemberN{Value: strconv.FormatInt(cutoff.UTC().UnixMicro(), 10)},
		},
	}

	var deleted int64
	for {
		output, err := r.client.Scan(ctx, input)
		if err != nil {
			return deleted, fmt.Errorf("dynamodb scan failed: %w", err)
		}
		n, err := r.deleteKeys(ctx, output.Items)
		deleted += n
		if err != nil {
			return deleted, err
		}
		if len(output.LastEvaluatedKey) == 0 {
			return deleted, nil
		}
		input.ExclusiveStartKey = output.LastEvaluatedKey
	}
}

func (r *SnapshotRepository) deleteKeys(ctx context.Context, items []map[string]types.AttributeValue) (int64, error) {
	var deleted int64
	for start := 0; start < len(items); start += maxBatchWriteSize {
		end := start + maxBatchWriteSize
		if end > len(items) {
			end = len(items)
		}

		requests := make([]types.WriteRequest, 0, end-start)
		for _, item := range items[start:end] {
			requests = append(requests, types.WriteRequest{
				DeleteRequest: &types.DeleteRequest{Key: map[string]types.AttributeValue{
					attrPK: item[attrPK],
					attrSK: item[attrSK],
				}},
			})
		}

		if err := r.writeBatchWithRetry(ctx, requests); err != nil {
			return deleted, err
		}
		deleted += int64(len(requests))
	}
	return deleted, nil
}

func (r *SnapshotRepository) writeBatchWithRetry(ctx context.Context, requests []types.WriteRequest) error {
	if len(requests) == 0 {
		return nil
	}

	pending := map[string][]types.WriteRequest{
		r.tableName: requests,
	}

	for attempt := 0; attempt < maxBatchRetries; attempt++ {
		output, err := r.client.BatchWriteItem(ctx, &dynamodb.BatchWriteItemInput{
			RequestItems: pending,
		})
		if err != nil {
			return fmt.Errorf("dynamodb batch write failed: %w", err)
		}

		if len(output.UnprocessedItems) == 0 {
			return nil
		}

		pending = output.UnprocessedItems
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt+1) * 100 * time.Millisecond):
		}
	}

	return fmt.Errorf("dynamodb batch write has unprocessed items after retries")
}

func (r *SnapshotRepository) toItem(record entity.SnapshotRecord) (map[string]types.AttributeValue, error) {
	testID := strings.TrimSpace(record.TestID)
	if testID == "" {
		return nil, fmt.Errorf("test_id is required")
	}
	if strings.TrimSpace(record.ID) == "" {
		return nil, fmt.Errorf("record id is required")
	}

	createdAt := record.CreatedAt.UTC()
	if createdAt.IsZero() {
		createdAt = r.now().UTC()
	}
	createdMicros := createdAt.UnixMicro()

	item := map[string]types.AttributeValue{
		attrPK:                &types.AttributeValueMemberS{Value: buildPK(testID)},
		attrSK:                &types.AttributeValueMemberS{Value: buildSK(createdMicros, record.ID)},
		attrID:                &types.AttributeValueMemberS{Value: record.ID},
		attrTestID:            &types.AttributeValueMemberS{Value: testID},
		attrIsBaseline:        &types.AttributeValueMemberBOOL{Value: record.IsBaseline},
		attrMatchPercentage:   &types.AttributeValueMemberN{Value: strconv.FormatFloat(record.MatchPercentage, 'f', -1, 64)},
		attrMismatchCount:     &types.AttributeValueMemberN{Value: strconv.Itoa(record.MismatchCount)},
		attrTotalPixels:       &types.AttributeValueMemberN{Value: strconv.Itoa(record.TotalPixels)},
		attrDimensionMismatch: &types.AttributeValueMemberBOOL{Value: record.DimensionMismatch},
		attrStatus:            &types.AttributeValueMemberS{Value: record.Status.String()},
		attrCreatedAt:         &types.AttributeValueMemberN{Value: strconv.FormatInt(createdMicros, 10)},
	}

	if r.retention > 0 {
		item[attrExpiresAt] = &types.AttributeValueMemberN{Value: strconv.FormatInt(createdAt.Add(r.retention).Unix(), 10)}
	}

	return item, nil
}

func fromItem(item map[string]types.AttributeValue) (entity.SnapshotRecord, error) {
	id, err := attrString(item, attrID)
	if err != nil {
		return entity.SnapshotRecord{}, err
	}
	testID, err := attrString(item, attrTestID)
	if err != nil {
		return entity.SnapshotRecord{}, err
	}
	rawStatus, err := attrString(item, attrStatus)
	if err != nil {
		return entity.SnapshotRecord{}, err
	}
	status, err := valueobject.ParseTestStatus(rawStatus)
	if err != nil {
		return entity.SnapshotRecord{}, fmt.Errorf("invalid attribute %s: %w", attrStatus, err)
	}
	createdMicros, err := attrInt64(item, attrCreatedAt)
	if err != nil {
		return entity.SnapshotRecord{}, err
	}
	matchPercentage, err := attrFloat64(item, attrMatchPercentage)
	if err != nil {
		return entity.SnapshotRecord{}, err
	}

	return entity.SnapshotRecord{
		ID:                id,
		TestID:            testID,
		IsBaseline:        optionalBool(item, attrIsBaseline),
		MatchPercentage:   matchPercentage,
		MismatchCount:     int(optionalInt64(item, attrMismatchCount)),
		TotalPixels:       int(optionalInt64(item, attrTotalPixels)),
		DimensionMismatch: optionalBool(item, attrDimensionMismatch),
		Status:            status,
		CreatedAt:         time.UnixMicro(createdMicros).UTC(),
	}, nil
}

func buildPK(testID string) string {
	return "TEST#" + testID
}

func buildSK(createdMicros int64, id string) string {
	return fmt.Sprintf("TS#%016d#ID#%s", createdMicros, id)
}

func encodeCursor(key map[string]types.AttributeValue, testID string) (string, error) {
	values := make(map[string]cursorValue, len(key))
	for attributeName, raw := range key {
		switch value := raw.(type) {
		case *types.AttributeValueMemberS:
			values[attributeName] = cursorValue{S: value.Value}
		case *types.AttributeValueMemberN:
			values[attributeName] = cursorValue{N: value.Value}
		default:
			return "", fmt.Errorf("unsupported cursor attribute type for %s", attributeName)
		}
	}

	serialized, err := json.Marshal(cursorPayload{TestID: testID, Key: values})
	if err != nil {
		return "", fmt.Errorf("failed to marshal cursor: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(serialized), nil
}

func decodeCursor(cursor, testID string) (map[string]types.AttributeValue, error) {
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, repository.ErrInvalidCursor
	}

	var payload cursorPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return nil, repository.ErrInvalidCursor
	}

	if payload.TestID != testID {
		return nil, fmt.Errorf("%w: cursor does not belong to test %s", repository.ErrInvalidCursor, testID)
	}

	key := make(map[string]types.AttributeValue, len(payload.Key))
	for attributeName, value := range payload.Key {
		if value.S != "" {
			key[attributeName] = &types.AttributeValueMemberS{Value: value.S}
			continue
		}
		if value.N != "" {
			key[attributeName] = &types.AttributeValueMemberN{Value: value.N}
			continue
		}
		return nil, repository.ErrInvalidCursor
	}
	if len(key) == 0 {
		return nil, repository.ErrInvalidCursor
	}

	return key, nil
}

func attrString(item map[string]types.AttributeValue, name string) (string, error) {
	raw, ok := item[name]
	if !ok {
		return "", fmt.Errorf("missing attribute %s", name)
	}
	value, ok := raw.(*types.AttributeValueMemberS)
	if !ok || strings.TrimSpace(value.Value) == "" {
		return "", fmt.Errorf("invalid attribute %s", name)
	}
	return value.Value, nil
}

func attrInt64(item map[string]types.AttributeValue, name string) (int64, error) {
	raw, ok := item[name]
	if !ok {
		return 0, fmt.Errorf("missing attribute %s", name)
	}
	value, ok := raw.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("invalid attribute %s", name)
	}
	parsed, err := strconv.ParseInt(value.Value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid attribute %s: %w", name, err)
	}
	return parsed, nil
}

func attrFloat64(item map[string]types.AttributeValue, name string) (float64, error) {
	raw, ok := item[name]
	if !ok {
		return 0, fmt.Errorf("missing attribute %s", name)
	}
	value, ok := raw.(*types.AttributeValueMemberN)
	if !ok {
		return 0, fmt.Errorf("invalid attribute %s", name)
	}
	parsed, err := strconv.ParseFloat(value.Value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid attribute %s: %w", name, err)
	}
	return parsed, nil
}

func optionalInt64(item map[string]types.AttributeValue, name string) int64 {
	raw, ok := item[name]
	if !ok {
		return 0
	}
	value, ok := raw.(*types.AttributeValueMemberN)
	if !ok {
		return 0
	}
	parsed, err := strconv.ParseInt(value.Value, 10, 64)
	if err != nil {
		return 0
	}
	return parsed
}

func optionalBool(item map[string]types.AttributeValue, name string) bool {
	raw, ok := item[name]
	if !ok {
		return false
	}
	value, ok := raw.(*types.AttributeValueMemberBOOL)
	return ok && value.Value
}

package dynamodb

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/dreschagin/visual-regression/internal/domain/entity"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTable минимальная эмуляция таблицы с ключом PK/SK
type fakeTable struct {
	mu          sync.Mutex
	items       map[string]map[string]types.AttributeValue
	unprocessed int
	batchCalls  int
}

func newFakeTable() *fakeTable {
	return &fakeTable{items: map[string]map[string]types.AttributeValue{}}
}

func sVal(item map[string]types.AttributeValue, name string) string {
	if v, ok := item[name].(*types.AttributeValueMemberS); ok {
		return v.Value
	}
	return ""
}

func itemKey(item map[string]types.AttributeValue) string {
	return sVal(item, attrPK) + "|" + sVal(item, attrSK)
}

func (f *fakeTable) PutItem(_ context.Context, in *dynamodb.PutItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := itemKey(in.Item)
	if _, exists := f.items[key]; exists {
		return nil, errors.New("ConditionalCheckFailedException")
	}
	f.items[key] = in.Item
	return &dynamodb.PutItemOutput{}, nil
}

func (f *fakeTable) Query(_ context.Context, in *dynamodb.QueryInput, _ ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pk := in.ExpressionAttributeValues[":pk"].(*types.AttributeValueMemberS).Value

	var matched []map[string]types.AttributeValue
	for _, item := range f.items {
		if sVal(item, attrPK) == pk {
			matched = append(matched, item)
		}
	}
	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	sort.Slice(matched, func(i, j int) bool {
		if forward {
			return sVal(matched[i], attrSK) < sVal(matched[j], attrSK)
		}
		return sVal(matched[i], attrSK) > sVal(matched[j], attrSK)
	})

	if start := in.ExclusiveStartKey; start != nil {
		startSK := sVal(start, attrSK)
		for i, item := range matched {
			if sVal(item, attrSK) == startSK {
				matched = matched[i+1:]
				break
			}
		}
	}

	out := &dynamodb.QueryOutput{}
	if in.Limit != nil && int(*in.Limit) < len(matched) {
		matched = matched[:*in.Limit]
		last := matched[len(matched)-1]
		out.LastEvaluatedKey = map[string]types.AttributeValue{attrPK: last[attrPK], attrSK: last[attrSK]}
	}
	out.Items = matched
	return out, nil
}

func (f *fakeTable) Scan(_ context.Context, in *dynamodb.ScanInput, _ ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cutoff, _ := strconv.ParseInt(in.ExpressionAttributeValues[":cutoff"].(*types.AttributeValueMemberN).Value, 10, 64)

	out := &dynamodb.ScanOutput{}
	for _, item := range f.items {
		created, _ := strconv.ParseInt(item[attrCreatedAt].(*types.AttributeValueMemberN).Value, 10, 64)
		if created < cutoff {
			out.Items = append(out.Items, item)
		}
	}
	return out, nil
}

func (f *fakeTable) BatchWriteItem(_ context.Context, in *dynamodb.BatchWriteItemInput, _ ...func(*dynamodb.Options)) (*dynamodb.BatchWriteItemOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	out := &dynamodb.BatchWriteItemOutput{}
	for table, requests := range in.RequestItems {
		for i, req := range requests {
			if f.unprocessed > 0 && i == len(requests)-1 {
				f.unprocessed--
				out.UnprocessedItems = map[string][]types.WriteRequest{table: {req}}
				continue
			}
			if req.DeleteRequest != nil {
				delete(f.items, itemKey(req.DeleteRequest.Key))
			}
		}
	}
	return out, nil
}

func newTestRepo(table *fakeTable) *SnapshotRepository {
	return NewSnapshotRepositoryWithClient(table, Config{TableName: "visual-snapshots", Retention: 24 * time.Hour})
}

func appendRecords(t *testing.T, repo *SnapshotRepository, testID string, n int, base time.Time) []entity.SnapshotRecord {
	t.Helper()
	records := make([]entity.SnapshotRecord, 0, n)
	for i := 0; i < n; i++ {
		record := entity.NewComparisonRecord(testID, valueobject.StatusFail, float64(i), i, 16, false)
		record.CreatedAt = base.Add(time.Duration(i) * time.Second)
		require.NoError(t, repo.Append(context.Background(), record))
		records = append(records, record)
	}
	return records
}

func TestSnapshotRepository_AppendAndListNewestFirst(t *testing.T) {
	table := newFakeTable()
	repo := newTestRepo(table)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	records := appendRecords(t, repo, "t1", 5, base)
	appendRecords(t, repo, "t2", 2, base)

	var got []float64
	cursor := ""
	pages := 0
	for {
		page, err := repo.List(context.Background(), repository.SnapshotQuery{TestID: "t1", Limit: 2, Cursor: cursor})
		require.NoError(t, err)
		pages++
		for _, item := range page.Items {
			assert.Equal(t, "t1", item.TestID)
			got = append(got, item.MatchPercentage)
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}

	assert.Equal(t, []float64{4, 3, 2, 1, 0}, got)
	assert.Equal(t, 3, pages)

	first, err := repo.List(context.Background(), repository.SnapshotQuery{TestID: "t1", Limit: 1})
	require.NoError(t, err)
	require.Len(t, first.Items, 1)
	latest := records[4]
	assert.Equal(t, latest.ID, first.Items[0].ID)
	assert.Equal(t, latest.CreatedAt, first.Items[0].CreatedAt)
	assert.Equal(t, valueobject.StatusFail, first.Items[0].Status)
	assert.Equal(t, 4, first.Items[0].MismatchCount)
	assert.Equal(t, 16, first.Items[0].TotalPixels)
}

func TestSnapshotRepository_AppendSetsTTL(t *testing.T) {
	table := newFakeTable()
	repo := newTestRepo(table)
	record := entity.NewPromotionRecord("t1")
	require.NoError(t, repo.Append(context.Background(), record))

	require.Len(t, table.items, 1)
	for _, item := range table.items {
		expires, ok := item[attrExpiresAt].(*types.AttributeValueMemberN)
		require.True(t, ok)
		assert.Equal(t, strconv.FormatInt(record.CreatedAt.Add(24*time.Hour).Unix(), 10), expires.Value)
		assert.True(t, item[attrIsBaseline].(*types.AttributeValueMemberBOOL).Value)
	}
}

func TestSnapshotRepository_CursorValidation(t *testing.T) {
	repo := newTestRepo(newFakeTable())
	appendRecords(t, repo, "t1", 3, time.Now().UTC())

	_, err := repo.List(context.Background(), repository.SnapshotQuery{TestID: "t1", Cursor: "%%%"})
	assert.ErrorIs(t, err, repository.ErrInvalidCursor)

	page, err := repo.List(context.Background(), repository.SnapshotQuery{TestID: "t1", Limit: 1})
	require.NoError(t, err)
	require.NotEmpty(t, page.NextCursor)

	_, err = repo.List(context.Background(), repository.SnapshotQuery{TestID: "t2", Cursor: page.NextCursor})
	assert.ErrorIs(t, err, repository.ErrInvalidCursor)
}

func TestSnapshotRepository_DeleteByTestAndRetention(t *testing.T) {
	table := newFakeTable()
	repo := newTestRepo(table)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	appendRecords(t, repo, "t1", 30, base)
	appendRecords(t, repo, "t2", 4, base)

	require.NoError(t, repo.DeleteByTest(context.Background(), "t1"))
	page, err := repo.List(context.Background(), repository.SnapshotQuery{TestID: "t1"})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 2, table.batchCalls)

	table.unprocessed = 1
	deleted, err := repo.DeleteOlderThan(context.Background(), base.Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	page, err = repo.List(context.Background(), repository.SnapshotQuery{TestID: "t2"})
	require.NoError(t, err)
	assert.Len(t, page.Items, 2)
}

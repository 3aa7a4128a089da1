package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dreschagin/visual-regression/internal/domain/entity"
)

// ErrInvalidCursor курсор поврежден или выдан для другого теста
var ErrInvalidCursor = errors.New("invalid cursor")

const (
	DefaultSnapshotPageSize = 50
	MaxSnapshotPageSize     = 500
)

// SnapshotQuery параметры постраничного чтения истории
type SnapshotQuery struct {
	TestID string
	Limit  int
	// Cursor непрозрачный курсор, полученный из предыдущей страницы
	Cursor string
}

// SnapshotPage страница истории, от новых к старым
type SnapshotPage struct {
	Items      []entity.SnapshotRecord
	NextCursor string
}

// NormalizeLimit приводит limit к допустимому диапазону
func (q SnapshotQuery) NormalizeLimit() int {
	if q.Limit <= 0 {
		return DefaultSnapshotPageSize
	}
	if q.Limit > MaxSnapshotPageSize {
		return MaxSnapshotPageSize
	}
	return q.Limit
}

// SnapshotRepository append-only журнал сравнений (Snapshot Ledger)
type SnapshotRepository interface {
	Append(ctx context.Context, record entity.SnapshotRecord) error

	// List возвращает записи теста от новых к старым
	List(ctx context.Context, query SnapshotQuery) (SnapshotPage, error)

	// DeleteByTest удаляет всю историю теста (каскад при удалении теста)
	DeleteByTest(ctx context.Context, testID string) error

	// DeleteOlderThan применяет политику хранения, возвращает число удаленных записей
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

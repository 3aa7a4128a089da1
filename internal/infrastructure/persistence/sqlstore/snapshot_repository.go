package sqlstore

import (
	"context"
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/dreschagin/visual-regression/internal/domain/entity"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
)

// SnapshotRepository реализует append-only журнал сравнений
type SnapshotRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewSnapshotRepository(db *sql.DB, dialect Dialect) *SnapshotRepository {
	return &SnapshotRepository{db: db, dialect: dialect}
}

type snapshotCursor struct {
	TestID    string `json:"test_id"`
	CreatedAt int64  `json:"created_at"`
	ID        string `json:"id"`
}

func (r *SnapshotRepository) Append(ctx context.Context, record entity.SnapshotRecord) error {
	query := r.dialect.Rebind(`
		INSERT INTO snapshot_records (` + snapshotColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query,
		record.ID,
		record.TestID,
		record.IsBaseline,
		record.MatchPercentage,
		int64(record.MismatchCount),
		int64(record.TotalPixels),
		record.DimensionMismatch,
		record.Status.String(),
		toMicros(record.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot record: %w", err)
	}
	return nil
}

// List возвращает записи от новых к старым; курсор keyset (created_at, id)
func (r *SnapshotRepository) List(ctx context.Context, query repository.SnapshotQuery) (repository.SnapshotPage, error) {
	limit := query.NormalizeLimit()

	sqlQuery := `SELECT ` + snapshotColumns + ` FROM snapshot_records WHERE test_id = ?`
	args := []any{query.TestID}

	if query.Cursor != "" {
		cursor, err := decodeCursor(query.Cursor)
		if err != nil {
			return repository.SnapshotPage{}, err
		}
		if cursor.TestID != query.TestID {
			return repository.SnapshotPage{}, fmt.Errorf("%w: cursor does not belong to test %s", repository.ErrInvalidCursor, query.TestID)
		}
		sqlQuery += ` AND (created_at < ? OR (created_at = ? AND id < ?))`
		args = append(args, cursor.CreatedAt, cursor.CreatedAt, cursor.ID)
	}
	sqlQuery += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	args = append(args, limit+1)

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(sqlQuery), args...)
	if err != nil {
		return repository.SnapshotPage{}, fmt.Errorf("failed to query snapshot records: %w", err)
	}
	defer rows.Close()

	items := make([]entity.SnapshotRecord, 0, limit)
	for rows.Next() {
		rec, err := scanSnapshot(rows)
		if err != nil {
			return repository.SnapshotPage{}, fmt.Errorf("failed to scan snapshot record: %w", err)
		}
		items = append(items, rec)
	}
	if err := rows.Err(); err != nil {
		return repository.SnapshotPage{}, fmt.Errorf("rows iteration error: %w", err)
	}

	page := repository.SnapshotPage{Items: items}
	if len(items) > limit {
		page.Items = items[:limit]
		last := page.Items[limit-1]
		next, err := encodeCursor(snapshotCursor{
			TestID:    query.TestID,
			CreatedAt: toMicros(last.CreatedAt),
			ID:        last.ID,
		})
		if err != nil {
			return repository.SnapshotPage{}, err
		}
		page.NextCursor = next
	}
	return page, nil
}

func (r *SnapshotRepository) DeleteByTest(ctx context.Context, testID string) error {
	query := r.dialect.Rebind(`DELETE FROM snapshot_records WHERE test_id = ?`)
	if _, err := r.db.ExecContext(ctx, query, testID); err != nil {
		return fmt.Errorf("failed to delete snapshot records: %w", err)
	}
	return nil
}

func (r *SnapshotRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := r.dialect.Rebind(`DELETE FROM snapshot_records WHERE created_at < ?`)
	res, err := r.db.ExecContext(ctx, query, toMicros(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshot records: %w", err)
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return removed, nil
}

func encodeCursor(c snapshotCursor) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("failed to encode cursor: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(data), nil
}

func decodeCursor(raw string) (snapshotCursor, error) {
	var c snapshotCursor
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return c, fmt.Errorf("%w: %v", repository.ErrInvalidCursor, err)
	}
	if err := json.Unmarshal(data, &c); err != nil {
		return c, fmt.Errorf("%w: %v", repository.ErrInvalidCursor, err)
	}
	return c, nil
}

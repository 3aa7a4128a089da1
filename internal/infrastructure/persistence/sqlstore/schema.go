package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
)

// schema общая для sqlite и postgres: время хранится в микросекундах UTC (BIGINT)
var schema = []string{
	`CREATE TABLE IF NOT EXISTS visual_tests (
		id               TEXT PRIMARY KEY,
		project_id       TEXT NOT NULL DEFAULT '',
		name             TEXT NOT NULL,
		target_reference TEXT NOT NULL DEFAULT '',
		status           TEXT NOT NULL,
		match_percentage DOUBLE PRECISION,
		created_at       BIGINT NOT NULL,
		updated_at       BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_visual_tests_project ON visual_tests (project_id, created_at)`,
	`CREATE TABLE IF NOT EXISTS snapshot_records (
		id                 TEXT PRIMARY KEY,
		test_id            TEXT NOT NULL,
		is_baseline        BOOLEAN NOT NULL,
		match_percentage   DOUBLE PRECISION NOT NULL,
		mismatch_count     BIGINT NOT NULL,
		total_pixels       BIGINT NOT NULL,
		dimension_mismatch BOOLEAN NOT NULL,
		status             TEXT NOT NULL,
		created_at         BIGINT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshot_records_test ON snapshot_records (test_id, created_at DESC, id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_snapshot_records_created ON snapshot_records (created_at)`,
}

// Migrate создает таблицы реестра и журнала, идемпотентно
func Migrate(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

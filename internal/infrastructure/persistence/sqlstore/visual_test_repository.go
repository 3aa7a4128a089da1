package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/dreschagin/visual-regression/internal/domain/entity"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
)

// VisualTestRepository реализует repository.VisualTestRepository поверх database/sql
type VisualTestRepository struct {
	db      *sql.DB
	dialect Dialect
}

func NewVisualTestRepository(db *sql.DB, dialect Dialect) *VisualTestRepository {
	return &VisualTestRepository{db: db, dialect: dialect}
}

func (r *VisualTestRepository) Create(ctx context.Context, test *entity.VisualTest) error {
	m := toVisualTestModel(test)
	query := r.dialect.Rebind(`
		INSERT INTO visual_tests (` + visualTestColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)

	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.ProjectID, m.Name, m.TargetReference,
		m.Status, m.MatchPercentage, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert visual test: %w", err)
	}
	return nil
}

func (r *VisualTestRepository) FindByID(ctx context.Context, id string) (*entity.VisualTest, error) {
	query := r.dialect.Rebind(`SELECT ` + visualTestColumns + ` FROM visual_tests WHERE id = ?`)

	test, err := scanVisualTest(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, repository.ErrVisualTestNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan visual test: %w", err)
	}
	return test, nil
}

func (r *VisualTestRepository) List(ctx context.Context, filter repository.VisualTestFilter) ([]*entity.VisualTest, error) {
	var (
		where []string
		args  []any
	)
	if filter.ProjectID != "" {
		where = append(where, "project_id = ?")
		args = append(args, filter.ProjectID)
	}
	if len(filter.ProjectIDs) > 0 {
		where = append(where, "project_id IN ("+placeholders(len(filter.ProjectIDs))+")")
		for _, p := range filter.ProjectIDs {
			args = append(args, p)
		}
	}
	if filter.Name != "" {
		where = append(where, "name = ?")
		args = append(args, filter.Name)
	}

	query := `SELECT ` + visualTestColumns + ` FROM visual_tests`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := r.db.QueryContext(ctx, r.dialect.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query visual tests: %w", err)
	}
	defer rows.Close()

	tests := make([]*entity.VisualTest, 0)
	for rows.Next() {
		test, err := scanVisualTest(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan visual test: %w", err)
		}
		tests = append(tests, test)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}
	return tests, nil
}

func (r *VisualTestRepository) Update(ctx context.Context, test *entity.VisualTest) error {
	m := toVisualTestModel(test)
	query := r.dialect.Rebind(`
		UPDATE visual_tests
		SET name = ?, target_reference = ?, status = ?, match_percentage = ?, updated_at = ?
		WHERE id = ?
	`)

	res, err := r.db.ExecContext(ctx, query,
		m.Name, m.TargetReference, m.Status, m.MatchPercentage, m.UpdatedAt, m.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update visual test: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return repository.ErrVisualTestNotFound
	}
	return nil
}

func (r *VisualTestRepository) Delete(ctx context.Context, id string) error {
	query := r.dialect.Rebind(`DELETE FROM visual_tests WHERE id = ?`)
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to delete visual test: %w", err)
	}
	return nil
}

package sqlstore

import (
	"database/sql"
	"time"

	"github.com/dreschagin/visual-regression/internal/domain/entity"
	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
)

// visualTestModel представляет тест в БД
type visualTestModel struct {
	ID              string
	ProjectID       string
	Name            string
	TargetReference string
	Status          string
	MatchPercentage sql.NullFloat64
	CreatedAt       int64
	UpdatedAt       int64
}

func toVisualTestModel(test *entity.VisualTest) visualTestModel {
	model := visualTestModel{
		ID:              test.ID(),
		ProjectID:       test.ProjectID(),
		Name:            test.Name(),
		TargetReference: test.TargetReference(),
		Status:          test.Status().String(),
		CreatedAt:       toMicros(test.CreatedAt()),
		UpdatedAt:       toMicros(test.UpdatedAt()),
	}
	if pct, ok := test.MatchPercentage(); ok {
		model.MatchPercentage = sql.NullFloat64{Float64: pct, Valid: true}
	}
	return model
}

func (m visualTestModel) toEntity() (*entity.VisualTest, error) {
	status, err := valueobject.ParseTestStatus(m.Status)
	if err != nil {
		return nil, err
	}

	var pct *float64
	if m.MatchPercentage.Valid {
		v := m.MatchPercentage.Float64
		pct = &v
	}

	return entity.ReconstructVisualTest(
		m.ID, m.ProjectID, m.Name, m.TargetReference,
		status, pct, fromMicros(m.CreatedAt), fromMicros(m.UpdatedAt),
	), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

const visualTestColumns = `id, project_id, name, target_reference, status, match_percentage, created_at, updated_at`

func scanVisualTest(row rowScanner) (*entity.VisualTest, error) {
	var m visualTestModel
	if err := row.Scan(
		&m.ID, &m.ProjectID, &m.Name, &m.TargetReference,
		&m.Status, &m.MatchPercentage, &m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return m.toEntity()
}

const snapshotColumns = `id, test_id, is_baseline, match_percentage, mismatch_count, total_pixels, dimension_mismatch, status, created_at`

func scanSnapshot(row rowScanner) (entity.SnapshotRecord, error) {
	var (
		rec       entity.SnapshotRecord
		status    string
		createdAt int64
		mismatch  int64
		total     int64
	)
	if err := row.Scan(
		&rec.ID, &rec.TestID, &rec.IsBaseline, &rec.MatchPercentage,
		&mismatch, &total, &rec.DimensionMismatch, &status, &createdAt,
	); err != nil {
		return rec, err
	}

	parsed, err := valueobject.ParseTestStatus(status)
	if err != nil {
		return rec, err
	}
	rec.Status = parsed
	rec.MismatchCount = int(mismatch)
	rec.TotalPixels = int(total)
	rec.CreatedAt = fromMicros(createdAt)
	return rec, nil
}

func toMicros(t time.Time) int64 {
	return t.UTC().UnixMicro()
}

func fromMicros(us int64) time.Time {
	return time.UnixMicro(us).UTC()
}

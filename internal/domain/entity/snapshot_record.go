package entity

import (
	"time"

	"github.com/dreschagin/visual-regression/internal/domain/valueobject"
	"github.com/google/uuid"
)

// SnapshotRecord запись append-only истории сравнений теста.
// После создания не изменяется.
type SnapshotRecord struct {
	ID                string
	TestID            string
	IsBaseline        bool
	MatchPercentage   float64
	MismatchCount     int
	TotalPixels       int
	DimensionMismatch bool
	Status            valueobject.TestStatus
	CreatedAt         time.Time
}

// NewComparisonRecord создает запись о прогоне сравнения
func NewComparisonRecord(testID string, status valueobject.TestStatus, matchPercentage float64, mismatchCount, totalPixels int, dimensionMismatch bool) SnapshotRecord {
	return SnapshotRecord{
		ID:                uuid.Must(uuid.NewV7()).String(),
		TestID:            testID,
		MatchPercentage:   matchPercentage,
		MismatchCount:     mismatchCount,
		TotalPixels:       totalPixels,
		DimensionMismatch: dimensionMismatch,
		Status:            status,
		CreatedAt:         time.Now().UTC(),
	}
}

// NewPromotionRecord создает запись о принятии нового baseline
func NewPromotionRecord(testID string) SnapshotRecord {
	return SnapshotRecord{
		ID:              uuid.Must(uuid.NewV7()).String(),
		TestID:          testID,
		IsBaseline:      true,
		MatchPercentage: PromotedMatchPercentage,
		Status:          valueobject.StatusPass,
		CreatedAt:       time.Now().UTC(),
	}
}

package dto

import (
	"time"

	"github.com/dreschagin/visual-regression/internal/domain/entity"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
)

// SnapshotRecordDTO запись истории сравнений
type SnapshotRecordDTO struct {
	ID                string    `json:"id"`
	TestID            string    `json:"test_id"`
	IsBaseline        bool      `json:"is_baseline"`
	MatchPercentage   float64   `json:"match_percentage"`
	MismatchCount     int       `json:"mismatch_count"`
	TotalPixels       int       `json:"total_pixels"`
	DimensionMismatch bool      `json:"dimension_mismatch"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
}

// SnapshotPageDTO страница истории
type SnapshotPageDTO struct {
	Items      []*SnapshotRecordDTO `json:"items"`
	NextCursor string               `json:"next_cursor,omitempty"`
}

func FromSnapshotRecord(r entity.SnapshotRecord) *SnapshotRecordDTO {
	return &SnapshotRecordDTO{
		ID:                r.ID,
		TestID:            r.TestID,
		IsBaseline:        r.IsBaseline,
		MatchPercentage:   r.MatchPercentage,
		MismatchCount:     r.MismatchCount,
		TotalPixels:       r.TotalPixels,
		DimensionMismatch: r.DimensionMismatch,
		Status:            r.Status.String(),
		CreatedAt:         r.CreatedAt,
	}
}

func FromSnapshotPage(page repository.SnapshotPage) *SnapshotPageDTO {
	items := make([]*SnapshotRecordDTO, len(page.Items))
	for i, r := range page.Items {
		items[i] = FromSnapshotRecord(r)
	}
	return &SnapshotPageDTO{Items: items, NextCursor: page.NextCursor}
}

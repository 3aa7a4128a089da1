package dto

import (
	"time"

	"github.com/dreschagin/visual-regression/internal/domain/entity"
)

// VisualTestDTO представляет тест для передачи между слоями
type VisualTestDTO struct {
	ID              string    `json:"id"`
	ProjectID       string    `json:"project_id,omitempty"`
	Name            string    `json:"name"`
	TargetReference string    `json:"target_reference,omitempty"`
	Status          string    `json:"status"`
	MatchPercentage *float64  `json:"match_percentage,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// FromVisualTest конвертирует Domain Entity в DTO
func FromVisualTest(test *entity.VisualTest) *VisualTestDTO {
	out := &VisualTestDTO{
		ID:              test.ID(),
		ProjectID:       test.ProjectID(),
		Name:            test.Name(),
		TargetReference: test.TargetReference(),
		Status:          test.Status().String(),
		CreatedAt:       test.CreatedAt(),
		UpdatedAt:       test.UpdatedAt(),
	}
	if pct, ok := test.MatchPercentage(); ok {
		out.MatchPercentage = &pct
	}
	return out
}

// ToVisualTestDTOs конвертирует слайс Entity в слайс DTO
func ToVisualTestDTOs(tests []*entity.VisualTest) []*VisualTestDTO {
	dtos := make([]*VisualTestDTO, len(tests))
	for i, t := range tests {
		dtos[i] = FromVisualTest(t)
	}
	return dtos
}

// ComparisonDTO результат run/compare
type ComparisonDTO struct {
	Test              *VisualTestDTO `json:"test"`
	Compared          bool           `json:"compared"`
	MismatchCount     int            `json:"mismatch_count"`
	TotalPixels       int            `json:"total_pixels"`
	DimensionMismatch bool           `json:"dimension_mismatch"`
	HasDiff           bool           `json:"has_diff"`
}

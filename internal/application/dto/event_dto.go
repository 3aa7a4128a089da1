package dto

import (
	"time"

	"github.com/dreschagin/visual-regression/internal/domain/entity"
)

// EventType тип события жизненного цикла теста
type EventType string

const (
	EventCompared EventType = "visual_test.compared"
	EventPromoted EventType = "visual_test.promoted"
	EventDeleted  EventType = "visual_test.deleted"
)

// VisualTestEvent публикуется в брокер и рассылается по WebSocket
type VisualTestEvent struct {
	Type            EventType `json:"type"`
	TestID          string    `json:"test_id"`
	ProjectID       string    `json:"project_id,omitempty"`
	Status          string    `json:"status,omitempty"`
	MatchPercentage *float64  `json:"match_percentage,omitempty"`
	HasDiff         bool      `json:"has_diff,omitempty"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// NewVisualTestEvent создает событие по текущему состоянию теста
func NewVisualTestEvent(eventType EventType, test *entity.VisualTest) *VisualTestEvent {
	event := &VisualTestEvent{
		Type:       eventType,
		TestID:     test.ID(),
		ProjectID:  test.ProjectID(),
		Status:     test.Status().String(),
		OccurredAt: time.Now().UTC(),
	}
	if pct, ok := test.MatchPercentage(); ok {
		event.MatchPercentage = &pct
	}
	return event
}

package port

import (
	"context"

	"github.com/dreschagin/visual-regression/internal/application/dto"
)

// EventPublisher defines the interface for publishing lifecycle events to a message broker
type EventPublisher interface {
	// Publish отправляет событие, subject выводится из типа события
	Publish(ctx context.Context, event *dto.VisualTestEvent) error

	// Close closes the connection to the message broker
	Close() error
}

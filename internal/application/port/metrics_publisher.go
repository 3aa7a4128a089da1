package port

import (
	"context"
	"time"
)

// ComparisonMetric итог одного сравнения для внешней системы наблюдаемости.
type ComparisonMetric struct {
	TestID            string
	ProjectID         string
	Status            string
	MatchPercentage   float64
	MismatchCount     int
	DimensionMismatch bool
	Duration          time.Duration
	Timestamp         time.Time
}

// MetricsPublisher defines the interface for publishing comparison metrics to external observability platforms.
type MetricsPublisher interface {
	// PublishComparison buffers a comparison result; implementations flush in batches.
	PublishComparison(ctx context.Context, metric ComparisonMetric) error

	// Flush forces immediate publication of any buffered metrics.
	// Should be called during graceful shutdown to prevent data loss.
	Flush(ctx context.Context) error
}

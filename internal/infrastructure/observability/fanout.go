// Package observability объединяет внешние системы метрик.
package observability

import (
	"context"
	"errors"

	"github.com/dreschagin/visual-regression/internal/application/port"
)

// MetricsFanout рассылает итоги сравнений во все подключенные публикаторы
type MetricsFanout struct {
	publishers []port.MetricsPublisher
}

// NewMetricsFanout пропускает nil публикаторы
func NewMetricsFanout(publishers ...port.MetricsPublisher) *MetricsFanout {
	active := make([]port.MetricsPublisher, 0, len(publishers))
	for _, p := range publishers {
		if p != nil {
			active = append(active, p)
		}
	}
	return &MetricsFanout{publishers: active}
}

func (f *MetricsFanout) PublishComparison(ctx context.Context, metric port.ComparisonMetric) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.PublishComparison(ctx, metric); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f *MetricsFanout) Flush(ctx context.Context) error {
	var errs []error
	for _, p := range f.publishers {
		if err := p.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Len число активных публикаторов
func (f *MetricsFanout) Len() int {
	return len(f.publishers)
}

var _ port.MetricsPublisher = (*MetricsFanout)(nil)

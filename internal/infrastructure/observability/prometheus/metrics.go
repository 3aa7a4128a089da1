package prometheus

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles prometheus collectors used by the API.
// Реализует port.MetricsPublisher для итогов сравнений.
type Metrics struct {
	registry *prometheus.Registry

	RequestsTotal      *prometheus.CounterVec
	RequestDurationSec *prometheus.HistogramVec
	AuthFailures       prometheus.Counter
	RateLimitDropped   prometheus.Counter
	ComparisonsTotal   *prometheus.CounterVec
	ComparisonDuration prometheus.Histogram
	MatchPercentage    prometheus.Histogram
	RetentionPruned    prometheus.Counter
}

func New(registry *prometheus.Registry) *Metrics {
	m := &Metrics{
		registry: registry,
		RequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visual_regression_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"route", "method", "status"}),
		RequestDurationSec: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "visual_regression_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		AuthFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visual_regression_auth_failures_total",
			Help: "Total number of auth failures.",
		}),
		RateLimitDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visual_regression_ratelimit_dropped_total",
			Help: "Total number of requests dropped by rate limiter.",
		}),
		ComparisonsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "visual_regression_comparisons_total",
			Help: "Total number of comparisons by resulting status.",
		}, []string{"status", "dimension_mismatch"}),
		ComparisonDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "visual_regression_comparison_duration_seconds",
			Help:    "Duration of capture and comparison under the per-test lock.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		MatchPercentage: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "visual_regression_mismatch_percentage",
			Help:    "Percentage of mismatched pixels per comparison.",
			Buckets: []float64{0, 0.01, 0.1, 0.5, 1, 5, 10, 25, 50, 100},
		}),
		RetentionPruned: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "visual_regression_snapshots_pruned_total",
			Help: "Total number of snapshot records removed by retention.",
		}),
	}

	registry.MustRegister(
		m.RequestsTotal,
		m.RequestDurationSec,
		m.AuthFailures,
		m.RateLimitDropped,
		m.ComparisonsTotal,
		m.ComparisonDuration,
		m.MatchPercentage,
		m.RetentionPruned,
	)

	return m
}

// NewDefault создает registry с Go/process collectors
func NewDefault() *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return New(registry)
}

// Handler отдает метрики в формате Prometheus
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// PublishComparison реализует port.MetricsPublisher
func (m *Metrics) PublishComparison(_ context.Context, metric port.ComparisonMetric) error {
	m.ComparisonsTotal.WithLabelValues(metric.Status, strconv.FormatBool(metric.DimensionMismatch)).Inc()
	if metric.Duration > 0 {
		m.ComparisonDuration.Observe(metric.Duration.Seconds())
	}
	if !metric.DimensionMismatch {
		m.MatchPercentage.Observe(metric.MatchPercentage)
	}
	return nil
}

// Flush no-op: prometheus собирает значения при scrape
func (m *Metrics) Flush(context.Context) error {
	return nil
}

func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		startedAt := time.Now()
		wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		status := strconv.Itoa(wrapped.statusCode)
		route := normalizeRoute(r.URL.Path)
		m.RequestsTotal.WithLabelValues(route, r.Method, status).Inc()
		m.RequestDurationSec.WithLabelValues(route, r.Method, status).Observe(time.Since(startedAt).Seconds())
	})
}

const visualTestsPrefix = "/api/v1/visual-tests"

// normalizeRoute заменяет идентификаторы шаблонами, чтобы не раздувать кардинальность
func normalizeRoute(path string) string {
	switch {
	case path == "/ws", path == "/healthz", path == "/readyz", path == "/metrics":
		return path
	case path == visualTestsPrefix || path == visualTestsPrefix+"/":
		return visualTestsPrefix
	case strings.HasPrefix(path, visualTestsPrefix+"/"):
		rest := strings.Split(strings.TrimPrefix(path, visualTestsPrefix+"/"), "/")
		route := visualTestsPrefix + "/{id}"
		switch {
		case len(rest) == 1:
			return route
		case len(rest) == 2:
			return route + "/" + rest[1]
		case len(rest) == 3 && rest[1] == "artifacts":
			return route + "/artifacts/{slot}"
		default:
			return visualTestsPrefix + "/*"
		}
	case path == "/api/v1" || strings.HasPrefix(path, "/api/v1/"):
		return "/api/v1/*"
	default:
		return "other"
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(statusCode int) {
	rw.statusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

// Hijack passes websocket upgrades through wrapped ResponseWriter.
func (rw *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hijacker, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hijacker.Hijack()
}

// Flush keeps streaming behavior for handlers that require it.
func (rw *statusRecorder) Flush() {
	if flusher, ok := rw.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

var _ port.MetricsPublisher = (*Metrics)(nil)

package prometheus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNormalizeRoute(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/ws", "/ws"},
		{"/metrics", "/metrics"},
		{"/api/v1/visual-tests", "/api/v1/visual-tests"},
		{"/api/v1/visual-tests/0192-abc", "/api/v1/visual-tests/{id}"},
		{"/api/v1/visual-tests/0192-abc/run", "/api/v1/visual-tests/{id}/run"},
		{"/api/v1/visual-tests/0192-abc/artifacts/diff", "/api/v1/visual-tests/{id}/artifacts/{slot}"},
		{"/api/v1/visual-tests/a/b/c/d", "/api/v1/visual-tests/*"},
		{"/api/v1/other", "/api/v1/*"},
		{"/favicon.ico", "other"},
	}

	for _, tt := range tests {
		if got := normalizeRoute(tt.path); got != tt.want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestMiddleware_RecordsStatusAndRoute(t *testing.T) {
	m := New(prometheus.NewRegistry())
	handler := m.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/visual-tests/abc/promote", nil)
	handler.ServeHTTP(httptest.NewRecorder(), req)

	got := testutil.ToFloat64(m.RequestsTotal.WithLabelValues("/api/v1/visual-tests/{id}/promote", http.MethodPost, "409"))
	if got != 1 {
		t.Fatalf("expected 1 request recorded, got %v", got)
	}
}

func TestPublishComparison(t *testing.T) {
	m := New(prometheus.NewRegistry())

	_ = m.PublishComparison(context.Background(), port.ComparisonMetric{Status: "FAIL", MatchPercentage: 6.25, Duration: time.Second})
	_ = m.PublishComparison(context.Background(), port.ComparisonMetric{Status: "FAIL", DimensionMismatch: true})
	_ = m.PublishComparison(context.Background(), port.ComparisonMetric{Status: "PASS"})

	if got := testutil.ToFloat64(m.ComparisonsTotal.WithLabelValues("FAIL", "false")); got != 1 {
		t.Fatalf("FAIL/false = %v", got)
	}
	if got := testutil.ToFloat64(m.ComparisonsTotal.WithLabelValues("FAIL", "true")); got != 1 {
		t.Fatalf("FAIL/true = %v", got)
	}
	if got := testutil.ToFloat64(m.ComparisonsTotal.WithLabelValues("PASS", "false")); got != 1 {
		t.Fatalf("PASS/false = %v", got)
	}
	if err := m.Flush(context.Background()); err != nil {
		t.Fatalf("flush: %v", err)
	}
}

func TestHandler_ExposesMetrics(t *testing.T) {
	m := NewDefault()
	m.AuthFailures.Inc()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), "visual_regression_auth_failures_total 1") {
		t.Fatalf("metric not exposed:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatal("expected go collector metrics")
	}
}

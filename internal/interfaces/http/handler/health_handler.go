package handler

import (
	"context"
	"net/http"

	"github.com/dreschagin/visual-regression/internal/infrastructure/health"
	"github.com/dreschagin/visual-regression/internal/interfaces/http/middleware"
)

// ReadinessChecker реализуется health.Readiness
type ReadinessChecker interface {
	Check(ctx context.Context) health.Report
}

type HealthHandler struct {
	readiness ReadinessChecker
}

func NewHealthHandler(readiness ReadinessChecker) *HealthHandler {
	return &HealthHandler{readiness: readiness}
}

// Live GET /healthz
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": health.StatusOK})
}

// Ready GET /readyz, 503 если хотя бы одна зависимость недоступна
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	if h.readiness == nil {
		middleware.WriteJSON(w, http.StatusOK, health.Report{Status: health.StatusOK, Checks: map[string]health.CheckResult{}})
		return
	}

	report := h.readiness.Check(r.Context())
	status := http.StatusOK
	if !report.Ready() {
		status = http.StatusServiceUnavailable
	}
	middleware.WriteJSON(w, status, report)
}

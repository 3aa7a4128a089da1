package http

import (
	"net/http"

	"github.com/dreschagin/visual-regression/internal/infrastructure/observability/prometheus"
	"github.com/dreschagin/visual-regression/internal/interfaces/http/handler"
	"github.com/dreschagin/visual-regression/internal/interfaces/http/middleware"
	"github.com/dreschagin/visual-regression/pkg/config"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

// Router настраивает маршруты приложения
type Router struct {
	mux               *http.ServeMux
	visualTestHandler *handler.VisualTestHandler
	websocketHandler  *handler.WebSocketHandler
	healthHandler     *handler.HealthHandler
	authHandler       *handler.AuthAPIHandler
	metrics           *prometheus.Metrics
	limiter           *middleware.IPRateLimiter
	security          config.SecurityConfig
	logger            *logger.Logger
}

// NewRouter создает новый router. limiter может быть nil (rate limit выключен).
func NewRouter(
	visualTestHandler *handler.VisualTestHandler,
	websocketHandler *handler.WebSocketHandler,
	healthHandler *handler.HealthHandler,
	authHandler *handler.AuthAPIHandler,
	metrics *prometheus.Metrics,
	limiter *middleware.IPRateLimiter,
	security config.SecurityConfig,
	logger *logger.Logger,
) *Router {
	return &Router{
		mux:               http.NewServeMux(),
		visualTestHandler: visualTestHandler,
		websocketHandler:  websocketHandler,
		healthHandler:     healthHandler,
		authHandler:       authHandler,
		metrics:           metrics,
		limiter:           limiter,
		security:          security,
		logger:            logger,
	}
}

// Setup настраивает все маршруты
func (rt *Router) Setup() http.Handler {
	// Probes и /metrics без аутентификации
	rt.mux.HandleFunc("GET /healthz", rt.healthHandler.Live)
	rt.mux.HandleFunc("GET /readyz", rt.healthHandler.Ready)

	var authFailures, rateLimitDropped middleware.Counter
	if rt.metrics != nil {
		rt.mux.Handle("GET /metrics", rt.metrics.Handler())
		authFailures = rt.metrics.AuthFailures
		rateLimitDropped = rt.metrics.RateLimitDropped
	}

	auth := middleware.Auth(middleware.AuthConfig{
		Enabled:        rt.security.AuthEnabled,
		BearerToken:    rt.security.AuthToken,
		BearerProjects: rt.security.AuthProjects,
		JWTSecret:      rt.security.JWTSecret,
		JWTIssuer:      rt.security.JWTIssuer,
	}, authFailures, rt.logger)

	protected := func(h http.HandlerFunc) http.Handler {
		return auth(h)
	}
	// run/compare запускают браузер и diff, поэтому ограничены по IP
	expensive := func(h http.HandlerFunc) http.Handler {
		if rt.limiter == nil {
			return auth(h)
		}
		return middleware.RateLimit(rt.limiter, rateLimitDropped)(auth(h))
	}
	jsonAPI := func(h http.Handler) http.Handler {
		return middleware.Compression(h)
	}

	// WebSocket
	rt.mux.Handle("GET /ws", protected(rt.websocketHandler.HandleConnection))

	// Auth API
	rt.mux.Handle("GET /api/v1/auth/status", jsonAPI(protected(rt.authHandler.Status)))
	rt.mux.Handle("POST /api/v1/auth/token", jsonAPI(protected(rt.authHandler.IssueToken)))

	// Visual tests API
	vt := rt.visualTestHandler
	rt.mux.Handle("GET /api/v1/visual-tests", jsonAPI(protected(vt.List)))
	rt.mux.Handle("POST /api/v1/visual-tests", jsonAPI(protected(vt.Create)))
	rt.mux.Handle("GET /api/v1/visual-tests/{id}", jsonAPI(protected(vt.Get)))
	rt.mux.Handle("PATCH /api/v1/visual-tests/{id}", jsonAPI(protected(vt.Update)))
	rt.mux.Handle("DELETE /api/v1/visual-tests/{id}", protected(vt.Delete))
	rt.mux.Handle("POST /api/v1/visual-tests/{id}/run", jsonAPI(expensive(vt.Run)))
	rt.mux.Handle("POST /api/v1/visual-tests/{id}/compare", jsonAPI(expensive(vt.Compare)))
	rt.mux.Handle("POST /api/v1/visual-tests/{id}/promote", jsonAPI(protected(vt.Promote)))
	rt.mux.Handle("POST /api/v1/visual-tests/{id}/approve", jsonAPI(protected(vt.Promote)))
	rt.mux.Handle("GET /api/v1/visual-tests/{id}/artifacts/{slot}", protected(vt.Artifact))
	rt.mux.Handle("GET /api/v1/visual-tests/{id}/snapshots", jsonAPI(protected(vt.Snapshots)))

	// Применяем middleware
	var handler http.Handler = rt.mux
	handler = middleware.Logger(rt.logger)(handler)
	if rt.metrics != nil {
		handler = rt.metrics.Middleware(handler)
	}
	handler = middleware.Recovery(rt.logger)(handler)
	handler = middleware.RequestID(handler)

	return handler
}

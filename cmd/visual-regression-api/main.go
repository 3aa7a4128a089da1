package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dreschagin/visual-regression/internal/bootstrap"
	"github.com/dreschagin/visual-regression/internal/infrastructure/notification/websocket"
	httpInterface "github.com/dreschagin/visual-regression/internal/interfaces/http"
	"github.com/dreschagin/visual-regression/internal/interfaces/http/handler"
	"github.com/dreschagin/visual-regression/internal/interfaces/http/middleware"
	"github.com/dreschagin/visual-regression/pkg/config"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

func main() {
	// 1. Загружаем конфигурацию
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load config: " + err.Error())
	}

	// 2. Инициализируем logger
	log := logger.New(cfg.LogLevel)
	log.Info("Starting Visual Regression API",
		"port", cfg.Server.Port,
		"db_driver", cfg.Database.Driver,
		"storage", cfg.Storage.Backend,
		"ledger", cfg.Ledger.Backend,
		"events", cfg.Events.Backend,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Infrastructure + Application layers
	container, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		log.Error("Failed to initialize dependencies", err)
		os.Exit(1)
	}

	// 4. WebSocket hub для событий жизненного цикла
	hub := websocket.NewHub(log)
	container.AttachNotifier(hub)

	// 5. Interfaces Layer (HTTP Handlers)
	visualTestHandler := handler.NewVisualTestHandler(handler.VisualTestUseCases{
		Create:    container.CreateTest,
		List:      container.ListTests,
		Get:       container.GetTest,
		Update:    container.UpdateTest,
		Delete:    container.DeleteTest,
		Artifact:  container.GetArtifact,
		Snapshots: container.ListSnapshots,
		Lifecycle: container.Lifecycle,
	}, cfg.Server.MaxImageBytes, log)
	websocketHandler := handler.NewWebSocketHandler(hub, cfg.Security.AllowedOrigins, log)
	healthHandler := handler.NewHealthHandler(container.Readiness)
	authHandler := handler.NewAuthAPIHandler(middleware.AuthConfig{
		Enabled:        cfg.Security.AuthEnabled,
		BearerToken:    cfg.Security.AuthToken,
		BearerProjects: cfg.Security.AuthProjects,
		JWTSecret:      cfg.Security.JWTSecret,
		JWTIssuer:      cfg.Security.JWTIssuer,
	}, log)

	var limiter *middleware.IPRateLimiter
	if cfg.RateLimit.Enabled {
		limiter = middleware.NewIPRateLimiter(cfg.RateLimit.RPS, cfg.RateLimit.Burst)
		defer limiter.Stop()
	}

	router := httpInterface.NewRouter(
		visualTestHandler,
		websocketHandler,
		healthHandler,
		authHandler,
		container.Metrics,
		limiter,
		cfg.Security,
		log,
	)

	// 6. Запускаем фоновые процессы

	go hub.Run(ctx)
	log.Info("WebSocket hub started")

	if container.Prune.Enabled() {
		go runRetention(ctx, container, cfg.Snapshot.PruneInterval, log)
	} else {
		log.Warn("Snapshot retention is disabled")
	}

	// 7. Настраиваем HTTP сервер

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serverErr := make(chan error, 1)
	go func() {
		log.Info("HTTP server starting", "port", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	// 8. Ожидаем сигнал для graceful shutdown

	select {
	case <-sigChan:
		log.Info("Shutdown signal received, starting graceful shutdown...")
	case err := <-serverErr:
		log.Error("HTTP server failed", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// сначала дожидаемся активных запросов, затем гасим hub и адаптеры
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server shutdown error", err)
	}
	cancel()

	log.Info("Flushing publishers and closing connections...")
	if err := container.Close(shutdownCtx); err != nil {
		log.Error("Failed to close dependencies", err)
	}

	log.Info("Server stopped gracefully")
}

// runRetention периодически удаляет устаревшие записи журнала сравнений
func runRetention(ctx context.Context, c *bootstrap.Container, interval time.Duration, log *logger.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	log.Info("Snapshot retention started", "interval", interval.String())

	prune := func() {
		deleted, err := c.Prune.Execute(ctx)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("Failed to prune snapshots", err)
			}
			return
		}
		c.Metrics.RetentionPruned.Add(float64(deleted))
	}

	prune()
	for {
		select {
		case <-ticker.C:
			prune()
		case <-ctx.Done():
			log.Info("Snapshot retention stopped")
			return
		}
	}
}

// Package bootstrap собирает зависимости приложения из конфигурации.
// Используется API сервером и CLI прогона сьютов.
package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dreschagin/visual-regression/internal/application/lock"
	"github.com/dreschagin/visual-regression/internal/application/port"
	"github.com/dreschagin/visual-regression/internal/application/usecase"
	"github.com/dreschagin/visual-regression/internal/domain/repository"
	"github.com/dreschagin/visual-regression/internal/domain/service"
	redisCache "github.com/dreschagin/visual-regression/internal/infrastructure/cache/redis"
	rodCapture "github.com/dreschagin/visual-regression/internal/infrastructure/capture/rod"
	"github.com/dreschagin/visual-regression/internal/infrastructure/health"
	kafkaMessaging "github.com/dreschagin/visual-regression/internal/infrastructure/messaging/kafka"
	natsMessaging "github.com/dreschagin/visual-regression/internal/infrastructure/messaging/nats"
	"github.com/dreschagin/visual-regression/internal/infrastructure/observability"
	"github.com/dreschagin/visual-regression/internal/infrastructure/observability/cloudwatch"
	"github.com/dreschagin/visual-regression/internal/infrastructure/observability/prometheus"
	dynamoLedger "github.com/dreschagin/visual-regression/internal/infrastructure/persistence/dynamodb"
	"github.com/dreschagin/visual-regression/internal/infrastructure/persistence/postgres"
	"github.com/dreschagin/visual-regression/internal/infrastructure/persistence/sqlite"
	"github.com/dreschagin/visual-regression/internal/infrastructure/persistence/sqlstore"
	"github.com/dreschagin/visual-regression/internal/infrastructure/storage/filesystem"
	s3Storage "github.com/dreschagin/visual-regression/internal/infrastructure/storage/s3"
	"github.com/dreschagin/visual-regression/pkg/config"
	"github.com/dreschagin/visual-regression/pkg/logger"
)

// Container готовые к использованию репозитории, адаптеры и use cases
type Container struct {
	DB        *sql.DB
	Tests     repository.VisualTestRepository
	Snapshots repository.SnapshotRepository
	Storage   port.ArtifactStorage
	Locks     *lock.KeyedLock
	Engine    *service.DiffEngine
	Metrics   *prometheus.Metrics
	Readiness *health.Readiness

	CreateTest    *usecase.CreateVisualTestUseCase
	ListTests     *usecase.ListVisualTestsUseCase
	GetTest       *usecase.GetVisualTestUseCase
	UpdateTest    *usecase.UpdateVisualTestUseCase
	DeleteTest    *usecase.DeleteVisualTestUseCase
	GetArtifact   *usecase.GetArtifactUseCase
	ListSnapshots *usecase.ListSnapshotsUseCase
	Prune         *usecase.PruneSnapshotsUseCase
	Lifecycle     *usecase.VisualTestLifecycleUseCase

	// опциональные адаптеры; nil интерфейс = выключено
	cache     port.Cache
	events    port.EventPublisher
	capture   *rodCapture.Driver
	fanout    *observability.MetricsFanout
	cwMetrics *cloudwatch.MetricsPublisher
	cwLogs    *cloudwatch.LogsPublisher

	logger *logger.Logger
}

// New инициализирует все зависимости. При ошибке уже открытые ресурсы закрываются.
func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (_ *Container, err error) {
	engine, err := service.NewDiffEngine(cfg.Diff.Threshold)
	if err != nil {
		return nil, fmt.Errorf("diff engine: %w", err)
	}

	c := &Container{
		Locks:     lock.NewKeyedLock(),
		Engine:    engine,
		Metrics:   prometheus.NewDefault(),
		Readiness: health.NewReadiness(cfg.Health.Timeout),
		logger:    log,
	}
	defer func() {
		if err != nil {
			_ = c.Close(context.Background())
		}
	}()

	// 1. CloudWatch Logs первым, чтобы остальная инициализация попала в лог
	if cfg.CloudWatch.LogsEnabled {
		logs, err := cloudwatch.NewLogsPublisher(ctx, cloudwatch.LogsPublisherConfig{
			LogGroupName:  cfg.CloudWatch.LogGroup,
			LogStreamName: cfg.CloudWatch.LogStream,
			Region:        cfg.CloudWatch.Region,
			Endpoint:      cfg.CloudWatch.Endpoint,
			AutoCreate:    true,
		})
		if err != nil {
			log.Warn("CloudWatch Logs disabled", "error", err.Error())
		} else {
			c.cwLogs = logs
			log.SetLogPublisher(port.NewLoggerSink(logs))
			log.Info("CloudWatch Logs enabled", "group", cfg.CloudWatch.LogGroup)
		}
	}

	// 2. База данных и журнал снимков
	if err := c.openDatabase(ctx, cfg.Database, log); err != nil {
		return nil, err
	}
	if err := c.openLedger(ctx, cfg, log); err != nil {
		return nil, err
	}

	// 3. Хранилище артефактов
	if err := c.openStorage(ctx, cfg, log); err != nil {
		return nil, err
	}

	// 4. Redis кеш статусов (опционально)
	if cfg.Redis.Enabled {
		cache, err := redisCache.NewRedisCache(ctx, redisCache.Config{
			Addr:      cfg.Redis.Addr,
			Password:  cfg.Redis.Password,
			DB:        cfg.Redis.DB,
			TTL:       cfg.Redis.TTL,
			KeyPrefix: cfg.Redis.KeyPrefix,
		})
		if err != nil {
			log.Warn("Redis cache disabled", "error", err.Error())
		} else {
			c.cache = cache
			c.Readiness.Add("redis", health.PingCheck(cache.Ping))
			log.Info("Redis cache enabled", "addr", cfg.Redis.Addr)
		}
	}

	// 5. Брокер событий
	if err := c.openEvents(cfg.Events, log); err != nil {
		return nil, err
	}

	// 6. Метрики: Prometheus всегда, CloudWatch опционально
	publishers := []port.MetricsPublisher{c.Metrics}
	if cfg.CloudWatch.MetricsEnabled {
		cw, err := cloudwatch.NewMetricsPublisher(ctx, cloudwatch.MetricsPublisherConfig{
			Namespace:        cfg.CloudWatch.Namespace,
			Region:           cfg.CloudWatch.Region,
			Endpoint:         cfg.CloudWatch.Endpoint,
			PerTestDimension: cfg.CloudWatch.PerTestDimension,
			DefaultDimensions: map[string]string{
				"Environment": cfg.CloudWatch.Environment,
			},
		})
		if err != nil {
			log.Warn("CloudWatch metrics disabled", "error", err.Error())
		} else {
			c.cwMetrics = cw
			publishers = append(publishers, cw)
			log.Info("CloudWatch metrics enabled", "namespace", cfg.CloudWatch.Namespace)
		}
	}
	c.fanout = observability.NewMetricsFanout(publishers...)

	if cfg.Health.MaxMemoryPercent > 0 {
		c.Readiness.Add("memory", health.MemoryCheck(cfg.Health.MaxMemoryPercent))
	}

	// 7. Use cases
	c.CreateTest = usecase.NewCreateVisualTestUseCase(c.Tests, log)
	c.ListTests = usecase.NewListVisualTestsUseCase(c.Tests, log)
	c.GetTest = usecase.NewGetVisualTestUseCase(c.Tests, c.Locks, c.cache, log)
	c.UpdateTest = usecase.NewUpdateVisualTestUseCase(c.Tests, c.Locks, c.cache, log)
	c.DeleteTest = usecase.NewDeleteVisualTestUseCase(c.Tests, c.Snapshots, c.Storage, c.Locks, log).
		WithNotifications(c.cache, c.events, nil)
	c.GetArtifact = usecase.NewGetArtifactUseCase(c.Tests, c.Storage, c.Locks)
	c.ListSnapshots = usecase.NewListSnapshotsUseCase(c.Tests, c.Snapshots, log)
	c.Prune = usecase.NewPruneSnapshotsUseCase(c.Snapshots, cfg.Snapshot.Retention(), log)
	c.Lifecycle = usecase.NewVisualTestLifecycleUseCase(
		c.Tests, c.Snapshots, c.Storage, c.Engine, c.Locks,
		usecase.LifecycleConfig{
			CaptureTimeout:    cfg.Capture.Timeout,
			MaxCaptureTimeout: cfg.Capture.MaxTimeout,
		},
		log,
	).WithMetricsPublisher(c.fanout)
	if c.cache != nil {
		c.Lifecycle.WithStatusCache(c.cache)
	}
	if c.events != nil {
		c.Lifecycle.WithEventPublisher(c.events)
	}

	// 8. Браузер для Run, запускается лениво при первом снимке
	if cfg.Capture.Enabled {
		c.capture = rodCapture.NewDriver(rodCapture.Config{
			RemoteURL:      cfg.Capture.RemoteURL,
			ViewportWidth:  cfg.Capture.ViewportWidth,
			ViewportHeight: cfg.Capture.ViewportHeight,
			FullPage:       cfg.Capture.FullPage,
			Stealth:        cfg.Capture.Stealth,
			SettleDelay:    cfg.Capture.SettleDelay,
			Attempts:       cfg.Capture.Attempts,
		}, log)
		c.Lifecycle.WithCaptureDriver(c.capture)
		log.Info("Capture driver configured", "remote", cfg.Capture.RemoteURL != "")
	}

	return c, nil
}

func (c *Container) openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *logger.Logger) error {
	var (
		db      *sql.DB
		dialect sqlstore.Dialect
		err     error
	)
	switch cfg.Driver {
	case "postgres":
		db, err = postgres.Open(ctx, postgres.Config{
			DSN:             cfg.DSN(),
			MaxOpenConns:    cfg.MaxOpenConns,
			MaxIdleConns:    cfg.MaxIdleConns,
			ConnMaxLifetime: cfg.ConnMaxLifetime,
			ConnMaxIdleTime: cfg.ConnMaxIdleTime,
		})
		dialect = sqlstore.DialectPostgres
	default:
		db, err = sqlite.Open(ctx, sqlite.Config{Path: cfg.SQLitePath})
		dialect = sqlstore.DialectSQLite
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	c.DB = db

	if err := sqlstore.Migrate(ctx, db); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	c.Tests = sqlstore.NewVisualTestRepository(db, dialect)
	c.Snapshots = sqlstore.NewSnapshotRepository(db, dialect)
	c.Readiness.Add("database", health.PingCheck(db.PingContext))
	log.Info("Database connected", "driver", dialect.String())
	return nil
}

func (c *Container) openLedger(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.Ledger.Backend != "dynamodb" {
		return nil
	}
	ledger, err := dynamoLedger.NewSnapshotRepository(ctx, dynamoLedger.Config{
		TableName:   cfg.Ledger.DynamoTable,
		Region:      cfg.Ledger.DynamoRegion,
		Endpoint:    cfg.Ledger.DynamoEndpoint,
		StrongReads: cfg.Ledger.DynamoStrongRead,
		Retention:   cfg.Snapshot.Retention(),
	})
	if err != nil {
		return fmt.Errorf("failed to init dynamodb ledger: %w", err)
	}
	c.Snapshots = ledger
	log.Info("Snapshot ledger on DynamoDB", "table", cfg.Ledger.DynamoTable)
	return nil
}

func (c *Container) openStorage(ctx context.Context, cfg *config.Config, log *logger.Logger) error {
	if cfg.Storage.Backend == "s3" {
		storage, err := s3Storage.NewArtifactStorage(ctx, s3Storage.Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
			KeyPrefix:       cfg.Storage.KeyPrefix,
		})
		if err != nil {
			return fmt.Errorf("failed to init s3 storage: %w", err)
		}
		c.Storage = storage
		c.Readiness.Add("storage", health.PingCheck(storage.Ping))
		log.Info("Artifact storage on S3", "bucket", cfg.S3.Bucket)
		return nil
	}

	storage, err := filesystem.NewArtifactStorage(cfg.Storage.Root, cfg.Storage.KeyPrefix)
	if err != nil {
		return fmt.Errorf("failed to init filesystem storage: %w", err)
	}
	c.Storage = storage
	c.Readiness.Add("storage", health.DiskCheck(storage.Root(), cfg.Health.MinFreeDiskMB*1024*1024, 0))
	log.Info("Artifact storage on filesystem", "root", storage.Root())
	return nil
}

func (c *Container) openEvents(cfg config.EventsConfig, log *logger.Logger) error {
	switch cfg.Backend {
	case "nats":
		publisher, err := natsMessaging.NewNATSPublisher(natsMessaging.Config{
			URL:           cfg.NATSURL,
			SubjectPrefix: cfg.NATSSubjectPrefix,
			Stream:        cfg.NATSStream,
		}, log)
		if err != nil {
			// брокер не критичен: события просто не публикуются
			log.Warn("NATS events disabled", "error", err.Error())
			return nil
		}
		c.events = publisher
	case "kafka":
		publisher, err := kafkaMessaging.NewPublisher(kafkaMessaging.Config{
			Brokers: cfg.KafkaBrokers,
			Topic:   cfg.KafkaTopic,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to init kafka publisher: %w", err)
		}
		c.events = publisher
	default:
		return nil
	}
	log.Info("Event publisher enabled", "backend", cfg.Backend)
	return nil
}

// AttachNotifier подключает WebSocket hub к use cases, меняющим статус
func (c *Container) AttachNotifier(notifier port.NotificationService) {
	c.Lifecycle.WithNotifier(notifier)
	c.DeleteTest.WithNotifications(c.cache, c.events, notifier)
}

// Close сбрасывает буферы метрик и логов и закрывает соединения
func (c *Container) Close(ctx context.Context) error {
	var errs []error

	if c.capture != nil {
		if err := c.capture.Close(); err != nil {
			errs = append(errs, fmt.Errorf("capture: %w", err))
		}
	}
	if c.cwMetrics != nil {
		if err := c.cwMetrics.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cloudwatch metrics: %w", err))
		}
	}
	if c.events != nil {
		if err := c.events.Close(); err != nil {
			errs = append(errs, fmt.Errorf("events: %w", err))
		}
	}
	if c.cache != nil {
		if err := c.cache.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache: %w", err))
		}
	}
	if c.DB != nil {
		if err := c.DB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database: %w", err))
		}
	}
	// логи последними, чтобы сохранить сообщения о закрытии
	if c.cwLogs != nil {
		c.logger.SetLogPublisher(nil)
		if err := c.cwLogs.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("cloudwatch logs: %w", err))
		}
	}

	return errors.Join(errs...)
}

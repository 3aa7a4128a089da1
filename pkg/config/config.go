package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	LogLevel   string
	Server     ServerConfig
	Database   DatabaseConfig
	Storage    StorageConfig
	S3         S3Config
	Ledger     LedgerConfig
	Redis      RedisConfig
	Events     EventsConfig
	Capture    CaptureConfig
	Diff       DiffConfig
	Snapshot   SnapshotConfig
	CloudWatch CloudWatchConfig
	Security   SecurityConfig
	RateLimit  RateLimitConfig
	Health     HealthConfig
}

type ServerConfig struct {
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	MaxImageBytes   int64
}

type DatabaseConfig struct {
	// Driver sqlite (по умолчанию) или postgres
	Driver          string
	SQLitePath      string
	Host            string
	Port            string
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

type StorageConfig struct {
	// Backend filesystem (по умолчанию) или s3
	Backend   string
	Root      string
	KeyPrefix string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

// LedgerConfig где хранится история сравнений: sql (та же БД) или dynamodb
type LedgerConfig struct {
	Backend          string
	DynamoTable      string
	DynamoRegion     string
	DynamoEndpoint   string
	DynamoStrongRead bool
}

type RedisConfig struct {
	Enabled   bool
	Addr      string
	Password  string
	DB        int
	TTL       time.Duration
	KeyPrefix string
}

type EventsConfig struct {
	// Backend none, nats или kafka
	Backend           string
	NATSURL           string
	NATSSubjectPrefix string
	NATSStream        string
	KafkaBrokers      []string
	KafkaTopic        string
}

type CaptureConfig struct {
	Enabled        bool
	RemoteURL      string
	ViewportWidth  int
	ViewportHeight int
	Timeout        time.Duration
	MaxTimeout     time.Duration
	FullPage       bool
	Stealth        bool
	SettleDelay    time.Duration
	Attempts       int
}

type DiffConfig struct {
	Threshold float64
}

type SnapshotConfig struct {
	// RetentionDays 0 отключает очистку истории
	RetentionDays int
	PruneInterval time.Duration
}

func (c SnapshotConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

type CloudWatchConfig struct {
	MetricsEnabled   bool
	LogsEnabled      bool
	Region           string
	Endpoint         string
	Namespace        string
	LogGroup         string
	LogStream        string
	PerTestDimension bool
	Environment      string
}

type SecurityConfig struct {
	AllowedOrigins []string
	AuthEnabled    bool
	AuthToken      string
	// AuthProjects область проектов статического токена, пусто = все
	AuthProjects []string
	JWTSecret    string
	JWTIssuer    string
}

type RateLimitConfig struct {
	Enabled bool
	RPS     float64
	Burst   int
}

type HealthConfig struct {
	MinFreeDiskMB    uint64
	MaxMemoryPercent float64
	Timeout          time.Duration
}

func Load() (*Config, error) {
	// Загружаем .env файл (игнорируем ошибку если файла нет)
	_ = godotenv.Load()

	p := &parser{}

	cfg := &Config{
		LogLevel: getEnv("LOG_LEVEL", "info"),
		Server: ServerConfig{
			Port:            getEnv("SERVER_PORT", "8080"),
			ReadTimeout:     p.duration("SERVER_READ_TIMEOUT", "30s"),
			WriteTimeout:    p.duration("SERVER_WRITE_TIMEOUT", "6m"),
			IdleTimeout:     p.duration("SERVER_IDLE_TIMEOUT", "60s"),
			ShutdownTimeout: p.duration("SERVER_SHUTDOWN_TIMEOUT", "30s"),
			MaxImageBytes:   int64(p.int("MAX_IMAGE_MB", 20)) * 1024 * 1024,
		},
		Database: DatabaseConfig{
			Driver:          strings.ToLower(getEnv("DB_DRIVER", "sqlite")),
			SQLitePath:      getEnv("SQLITE_PATH", "data/visual-regression.db"),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnv("DB_PORT", "5432"),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", "postgres"),
			Database:        getEnv("DB_NAME", "visual_regression"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    p.int("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    p.int("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: p.duration("DB_CONN_MAX_LIFETIME", "5m"),
			ConnMaxIdleTime: p.duration("DB_CONN_MAX_IDLE_TIME", "10m"),
		},
		Storage: StorageConfig{
			Backend:   strings.ToLower(getEnv("STORAGE_BACKEND", "filesystem")),
			Root:      getEnv("STORAGE_ROOT", "data/artifacts"),
			KeyPrefix: getEnv("STORAGE_KEY_PREFIX", "visual-tests"),
		},
		S3: S3Config{
			Bucket:          getEnv("S3_BUCKET", ""),
			Region:          getEnv("S3_REGION", "ru-central1"),
			Endpoint:        getEnv("S3_ENDPOINT", "https://storage.yandexcloud.net"),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			UsePathStyle:    p.bool("S3_USE_PATH_STYLE", true),
		},
		Ledger: LedgerConfig{
			Backend:          strings.ToLower(getEnv("LEDGER_BACKEND", "sql")),
			DynamoTable:      getEnv("DYNAMODB_TABLE", "visual-test-snapshots"),
			DynamoRegion:     getEnv("DYNAMODB_REGION", getEnv("AWS_REGION", "us-east-1")),
			DynamoEndpoint:   getEnv("DYNAMODB_ENDPOINT", ""),
			DynamoStrongRead: p.bool("DYNAMODB_STRONG_READS", false),
		},
		Redis: RedisConfig{
			Enabled:   p.bool("REDIS_ENABLED", false),
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        p.int("REDIS_DB", 0),
			TTL:       p.duration("REDIS_TTL", "5m"),
			KeyPrefix: getEnv("REDIS_KEY_PREFIX", ""),
		},
		Events: EventsConfig{
			Backend:           strings.ToLower(getEnv("EVENTS_BACKEND", "none")),
			NATSURL:           getEnv("NATS_URL", "nats://localhost:4222"),
			NATSSubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "visual-regression"),
			NATSStream:        getEnv("NATS_STREAM", ""),
			KafkaBrokers:      splitCSV(getEnv("KAFKA_BROKERS", "localhost:9092")),
			KafkaTopic:        getEnv("KAFKA_TOPIC", "visual-test-events"),
		},
		Capture: CaptureConfig{
			Enabled:        p.bool("CAPTURE_ENABLED", true),
			RemoteURL:      getEnv("CAPTURE_REMOTE_URL", ""),
			ViewportWidth:  p.int("CAPTURE_VIEWPORT_WIDTH", 1280),
			ViewportHeight: p.int("CAPTURE_VIEWPORT_HEIGHT", 720),
			Timeout:        p.duration("CAPTURE_TIMEOUT", "30s"),
			MaxTimeout:     p.duration("CAPTURE_MAX_TIMEOUT", "5m"),
			FullPage:       p.bool("CAPTURE_FULL_PAGE", false),
			Stealth:        p.bool("CAPTURE_STEALTH", false),
			SettleDelay:    p.duration("CAPTURE_SETTLE_DELAY", "500ms"),
			Attempts:       p.int("CAPTURE_ATTEMPTS", 2),
		},
		Diff: DiffConfig{
			Threshold: p.float("DIFF_THRESHOLD", 0.1),
		},
		Snapshot: SnapshotConfig{
			RetentionDays: p.int("SNAPSHOT_RETENTION_DAYS", 30),
			PruneInterval: p.duration("SNAPSHOT_PRUNE_INTERVAL", "1h"),
		},
		CloudWatch: CloudWatchConfig{
			MetricsEnabled:   p.bool("CLOUDWATCH_METRICS_ENABLED", false),
			LogsEnabled:      p.bool("CLOUDWATCH_LOGS_ENABLED", false),
			Region:           getEnv("CLOUDWATCH_REGION", getEnv("AWS_REGION", "us-east-1")),
			Endpoint:         getEnv("CLOUDWATCH_ENDPOINT", ""),
			Namespace:        getEnv("CLOUDWATCH_NAMESPACE", "VisualRegression/Comparisons"),
			LogGroup:         getEnv("CLOUDWATCH_LOG_GROUP", "/visual-regression/api"),
			LogStream:        getEnv("CLOUDWATCH_LOG_STREAM", hostname()),
			PerTestDimension: p.bool("CLOUDWATCH_PER_TEST_DIMENSION", false),
			Environment:      getEnv("ENVIRONMENT", "development"),
		},
		Security: SecurityConfig{
			AllowedOrigins: splitCSV(getEnv("ALLOWED_ORIGINS", "http://localhost:8080,http://127.0.0.1:8080")),
			AuthEnabled:    p.bool("AUTH_ENABLED", false),
			AuthToken:      getEnv("AUTH_BEARER_TOKEN", ""),
			AuthProjects:   splitCSV(getEnv("AUTH_BEARER_PROJECTS", "")),
			JWTSecret:      getEnv("AUTH_JWT_SECRET", ""),
			JWTIssuer:      getEnv("AUTH_JWT_ISSUER", "visual-regression"),
		},
		RateLimit: RateLimitConfig{
			Enabled: p.bool("RATE_LIMIT_ENABLED", true),
			RPS:     p.float("RATE_LIMIT_RPS", 2),
			Burst:   p.int("RATE_LIMIT_BURST", 10),
		},
		Health: HealthConfig{
			MinFreeDiskMB:    uint64(p.int("HEALTH_MIN_FREE_DISK_MB", 256)),
			MaxMemoryPercent: p.float("HEALTH_MAX_MEMORY_PERCENT", 0),
			Timeout:          p.duration("HEALTH_TIMEOUT", "3s"),
		},
	}

	if err := p.err(); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error

	if c.Diff.Threshold < 0 || c.Diff.Threshold > 1 || math.IsNaN(c.Diff.Threshold) {
		errs = append(errs, fmt.Errorf("DIFF_THRESHOLD must be within [0, 1], got %v", c.Diff.Threshold))
	}
	if c.Snapshot.RetentionDays < 0 {
		errs = append(errs, fmt.Errorf("SNAPSHOT_RETENTION_DAYS must not be negative"))
	}
	if c.Capture.Timeout <= 0 || c.Capture.MaxTimeout < c.Capture.Timeout {
		errs = append(errs, fmt.Errorf("CAPTURE_TIMEOUT must be positive and not exceed CAPTURE_MAX_TIMEOUT"))
	}

	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("unsupported DB_DRIVER %q", c.Database.Driver))
	}
	switch c.Storage.Backend {
	case "filesystem":
	case "s3":
		if c.S3.Bucket == "" {
			errs = append(errs, fmt.Errorf("S3_BUCKET is required when STORAGE_BACKEND=s3"))
		}
	default:
		errs = append(errs, fmt.Errorf("unsupported STORAGE_BACKEND %q", c.Storage.Backend))
	}
	switch c.Ledger.Backend {
	case "sql", "dynamodb":
	default:
		errs = append(errs, fmt.Errorf("unsupported LEDGER_BACKEND %q", c.Ledger.Backend))
	}
	switch c.Events.Backend {
	case "none", "nats", "kafka":
	default:
		errs = append(errs, fmt.Errorf("unsupported EVENTS_BACKEND %q", c.Events.Backend))
	}

	if c.Security.AuthEnabled && c.Security.AuthToken == "" && c.Security.JWTSecret == "" {
		errs = append(errs, fmt.Errorf("AUTH_BEARER_TOKEN or AUTH_JWT_SECRET is required when AUTH_ENABLED=true"))
	}
	if c.Snapshot.RetentionDays > 0 && c.Snapshot.PruneInterval <= 0 {
		errs = append(errs, fmt.Errorf("SNAPSHOT_PRUNE_INTERVAL must be positive when retention is enabled"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst <= 0) {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_RPS and RATE_LIMIT_BURST must be positive"))
	}

	return errors.Join(errs...)
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// parser копит ошибки разбора, Load возвращает их все сразу
type parser struct {
	errs []error
}

func (p *parser) err() error {
	return errors.Join(p.errs...)
}

func (p *parser) int(key string, defaultValue int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return value
}

func (p *parser) float(key string, defaultValue float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return value
}

func (p *parser) duration(key, defaultValue string) time.Duration {
	value, err := time.ParseDuration(strings.TrimSpace(getEnv(key, defaultValue)))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return 0
	}
	return value
}

func (p *parser) bool(key string, defaultValue bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(strings.TrimSpace(raw))
	if err != nil {
		p.errs = append(p.errs, fmt.Errorf("invalid %s: %w", key, err))
		return defaultValue
	}
	return value
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitCSV(raw string) []string {
	items := make([]string, 0)
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}

func hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "visual-regression-api"
	}
	return name
}

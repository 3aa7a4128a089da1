package port

import (
	"context"
	"time"

	"github.com/dreschagin/visual-regression/pkg/logger"
)

// LogLevel уровень записи во внешней системе логов
type LogLevel string

const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry структурированная запись для внешней системы логов
type LogEntry struct {
	Timestamp time.Time
	Level     LogLevel
	Message   string
	Fields    map[string]interface{}
}

// LogPublisher публикует логи во внешнюю платформу (CloudWatch Logs).
type LogPublisher interface {
	Publish(ctx context.Context, entry LogEntry) error

	// PublishBatch учитывает лимиты платформы на размер запроса
	PublishBatch(ctx context.Context, entries []LogEntry) error

	// Flush вызывается при graceful shutdown
	Flush(ctx context.Context) error
}

// LoggerSink подключает LogPublisher к pkg/logger через SetLogPublisher.
type LoggerSink struct {
	publisher LogPublisher
}

func NewLoggerSink(publisher LogPublisher) *LoggerSink {
	return &LoggerSink{publisher: publisher}
}

func (s *LoggerSink) Publish(ctx context.Context, entry logger.Entry) error {
	return s.publisher.Publish(ctx, LogEntry{
		Timestamp: entry.Timestamp,
		Level:     LogLevel(entry.Level),
		Message:   entry.Message,
		Fields:    entry.Fields,
	})
}

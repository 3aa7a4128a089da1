package logger

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"time"
)

// Sink получает копию каждой записи лога (например, CloudWatch Logs).
// Ошибки sink'а никогда не влияют на вызывающий код.
type Sink interface {
	Publish(ctx context.Context, entry Entry) error
}

// Entry структурированная запись, передаваемая в Sink.
type Entry struct {
	Timestamp time.Time
	Level     string
	Message   string
	Fields    map[string]interface{}
}

type Logger struct {
	logger *log.Logger
	level  Level
	fields []interface{}
	sink   *sinkHolder
}

type sinkHolder struct {
	mu   sync.RWMutex
	sink Sink
}

type Level int

const (
	DEBUG Level = iota
	INFO
	WARN
	ERROR
)

func New(level string) *Logger {
	return NewWithWriter(level, os.Stdout)
}

// NewWithWriter создает logger, пишущий в произвольный writer (используется в тестах).
func NewWithWriter(level string, w io.Writer) *Logger {
	return &Logger{
		logger: log.New(w, "", 0),
		level:  parseLevel(level),
		sink:   &sinkHolder{},
	}
}

func parseLevel(level string) Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return DEBUG
	case "info":
		return INFO
	case "warn":
		return WARN
	case "error":
		return ERROR
	default:
		return INFO
	}
}

func (l Level) String() string {
	switch l {
	case DEBUG:
		return "DEBUG"
	case WARN:
		return "WARN"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// With возвращает дочерний logger с привязанными полями.
// Sink общий с родителем.
func (l *Logger) With(args ...interface{}) *Logger {
	fields := make([]interface{}, 0, len(l.fields)+len(args))
	fields = append(fields, l.fields...)
	fields = append(fields, args...)
	return &Logger{
		logger: l.logger,
		level:  l.level,
		fields: fields,
		sink:   l.sink,
	}
}

// SetLogPublisher подключает sink ко всем logger'ам, созданным через With.
func (l *Logger) SetLogPublisher(sink Sink) {
	l.sink.mu.Lock()
	l.sink.sink = sink
	l.sink.mu.Unlock()
}

func (l *Logger) Debug(msg string, args ...interface{}) {
	if l.level <= DEBUG {
		l.log(DEBUG, msg, args...)
	}
}

func (l *Logger) Info(msg string, args ...interface{}) {
	if l.level <= INFO {
		l.log(INFO, msg, args...)
	}
}

func (l *Logger) Warn(msg string, args ...interface{}) {
	if l.level <= WARN {
		l.log(WARN, msg, args...)
	}
}

func (l *Logger) Error(msg string, err error, args ...interface{}) {
	if l.level <= ERROR {
		if err != nil {
			args = append(args, "error", err.Error())
		}
		l.log(ERROR, msg, args...)
	}
}

func (l *Logger) log(level Level, msg string, args ...interface{}) {
	now := time.Now()
	all := make([]interface{}, 0, len(l.fields)+len(args))
	all = append(all, l.fields...)
	all = append(all, args...)

	var b strings.Builder
	fmt.Fprintf(&b, "[%s] [%s] %s", now.Format("2006-01-02 15:04:05"), level, msg)
	if len(all) > 1 {
		b.WriteString(" |")
		for i := 0; i+1 < len(all); i += 2 {
			fmt.Fprintf(&b, " %v=%v", all[i], all[i+1])
		}
	}
	l.logger.Println(b.String())

	l.publish(now, level, msg, all)
}

func (l *Logger) publish(ts time.Time, level Level, msg string, kv []interface{}) {
	l.sink.mu.RLock()
	sink := l.sink.sink
	l.sink.mu.RUnlock()
	if sink == nil {
		return
	}

	fields := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}

	_ = sink.Publish(context.Background(), Entry{
		Timestamp: ts,
		Level:     level.String(),
		Message:   msg,
		Fields:    fields,
	})
}

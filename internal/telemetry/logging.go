package telemetry

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"gopkg.in/natefinch/lumberjack.v2"
)

// LogLevel is a logrus level name. Unknown names fall back to info.
type LogLevel string

const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

func (l LogLevel) logrusLevel() logrus.Level {
	level, err := logrus.ParseLevel(string(l))
	if err != nil {
		return logrus.InfoLevel
	}
	return level
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  LogLevel `mapstructure:"level" json:"level"`
	Format string   `mapstructure:"format" json:"format"` // json or text
	Output string   `mapstructure:"output" json:"output"` // stdout, stderr or a file path

	// Rotation settings apply to file output only.
	Rotation   bool `mapstructure:"rotation" json:"rotation"`
	MaxSize    int  `mapstructure:"max_size" json:"max_size"` // MB
	MaxBackups int  `mapstructure:"max_backups" json:"max_backups"`
	MaxAge     int  `mapstructure:"max_age" json:"max_age"` // days
	Compress   bool `mapstructure:"compress" json:"compress"`

	Service string `mapstructure:"-" json:"service"`

	// Writer overrides Output when set. Used by tests.
	Writer io.Writer `mapstructure:"-" json:"-"`
}

func DefaultLogConfig() *LogConfig {
	return &LogConfig{
		Level:      InfoLevel,
		Format:     "json",
		Output:     "stdout",
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     28,
		Compress:   true,
		Service:    "roommates",
	}
}

// Logger is the process-wide logrus logger tagged with the service name.
type Logger struct {
	*logrus.Logger
	service string
}

func NewLogger(config *LogConfig) (*Logger, error) {
	if config == nil {
		config = DefaultLogConfig()
	}

	out, err := logOutput(config)
	if err != nil {
		return nil, err
	}

	base := logrus.New()
	base.SetLevel(config.Level.logrusLevel())
	base.SetFormatter(logFormatter(config.Format))
	base.SetOutput(out)
	base.SetReportCaller(config.Writer == nil)

	return &Logger{Logger: base, service: config.Service}, nil
}

func logFormatter(format string) logrus.Formatter {
	if format == "text" {
		return &logrus.TextFormatter{TimestampFormat: time.RFC3339, FullTimestamp: true}
	}
	return &logrus.JSONFormatter{
		TimestampFormat: time.RFC3339,
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
			logrus.FieldKeyFunc: "function",
		},
	}
}

func logOutput(config *LogConfig) (io.Writer, error) {
	switch {
	case config.Writer != nil:
		return config.Writer, nil
	case config.Output == "" || config.Output == "stdout":
		return os.Stdout, nil
	case config.Output == "stderr":
		return os.Stderr, nil
	case config.Rotation:
		return &lumberjack.Logger{
			Filename:   config.Output,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		}, nil
	}

	file, err := os.OpenFile(config.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", config.Output, err)
	}
	return file, nil
}

// ContextualLogger is a logrus entry preloaded with the service name, the
// correlation id and the active trace of a context.
type ContextualLogger struct {
	*logrus.Entry
}

func (l *Logger) WithContext(ctx context.Context) *ContextualLogger {
	fields := logrus.Fields{}
	if l.service != "" {
		fields["service"] = l.service
	}
	if id := GetCorrelationID(ctx); id != "" {
		fields["correlation_id"] = id
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields["trace_id"] = sc.TraceID().String()
		fields["span_id"] = sc.SpanID().String()
	}
	return &ContextualLogger{Entry: logrus.NewEntry(l.Logger).WithContext(ctx).WithFields(fields)}
}

func (cl *ContextualLogger) WithFields(fields logrus.Fields) *ContextualLogger {
	return &ContextualLogger{Entry: cl.Entry.WithFields(fields)}
}

func (cl *ContextualLogger) WithField(key string, value interface{}) *ContextualLogger {
	return &ContextualLogger{Entry: cl.Entry.WithField(key, value)}
}

func (cl *ContextualLogger) WithError(err error) *ContextualLogger {
	return &ContextualLogger{Entry: cl.Entry.WithError(err)}
}

// Fields returns a copy of the attached fields.
func (cl *ContextualLogger) Fields() logrus.Fields {
	out := make(logrus.Fields, len(cl.Data))
	for k, v := range cl.Data {
		out[k] = v
	}
	return out
}

// ErrorWithStack logs err at error level with the calling frames joined into
// a stack_trace field.
func (cl *ContextualLogger) ErrorWithStack(err error) {
	var frames []string
	for skip := 1; skip < 10; skip++ {
		_, file, line, ok := runtime.Caller(skip)
		if !ok {
			break
		}
		frames = append(frames, fmt.Sprintf("%s:%d", filepath.Base(file), line))
	}
	cl.Entry.WithField("stack_trace", strings.Join(frames, " -> ")).Error(err)
}

type correlationIDKey struct{}

// WithCorrelationID stores id in ctx, generating one when id is empty.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	if id == "" {
		id = NewCorrelationID()
	}
	return context.WithValue(ctx, correlationIDKey{}, id)
}

func GetCorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationIDKey{}).(string)
	return id
}

func NewCorrelationID() string {
	return uuid.NewString()
}

var globalLogger atomic.Pointer[Logger]

// InitGlobalLogger builds a logger from config and makes it the process logger.
func InitGlobalLogger(config *LogConfig) error {
	logger, err := NewLogger(config)
	if err != nil {
		return err
	}
	SetGlobalLogger(logger)
	return nil
}

func SetGlobalLogger(logger *Logger) {
	globalLogger.Store(logger)
}

// GetGlobalLogger returns the process logger, installing a default one on first use.
func GetGlobalLogger() *Logger {
	if logger := globalLogger.Load(); logger != nil {
		return logger
	}
	fallback, _ := NewLogger(DefaultLogConfig())
	globalLogger.CompareAndSwap(nil, fallback)
	return globalLogger.Load()
}

func LogFromContext(ctx context.Context) *ContextualLogger {
	return GetGlobalLogger().WithContext(ctx)
}

// GetContextualLogger is an alias for LogFromContext.
func GetContextualLogger(ctx context.Context) *ContextualLogger {
	return LogFromContext(ctx)
}

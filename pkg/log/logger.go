package log

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"
	"time"
)

// Level represents the severity level of a log message.
type Level int

// Log levels
const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case DebugLevel:
		return "DEBUG"
	case InfoLevel:
		return "INFO"
	case WarnLevel:
		return "WARN"
	case ErrorLevel:
		return "ERROR"
	case FatalLevel:
		return "FATAL"
	default:
		return "UNKNOWN"
	}
}

// Fields is a map of field names to values.
type Fields map[string]interface{}

// Entry represents a single log entry handed to formatters and outputs.
type Entry struct {
	Level     Level
	Message   string
	Fields    Fields
	Timestamp time.Time
}

// Logger defines the core logging interface for Relay components.
type Logger interface {
	Debug(msg string, fields ...Field)
	Info(msg string, fields ...Field)
	Warn(msg string, fields ...Field)
	Error(msg string, fields ...Field)
	// Fatal logs at FatalLevel and exits the process.
	Fatal(msg string, fields ...Field)

	// With returns a Logger that includes the given fields on every entry.
	With(fields ...Field) Logger

	// WithComponent tags logs with a component name.
	WithComponent(component string) Logger

	// SetLevel sets the minimum log level. The level is shared across all
	// loggers derived from the same root.
	SetLevel(level Level)

	// GetLevel returns the current minimum log level.
	GetLevel() Level
}

// Formatter defines the interface for formatting log entries.
type Formatter interface {
	Format(entry *Entry) ([]byte, error)
}

// Output defines the interface for log outputs.
type Output interface {
	Write(entry *Entry, formatted []byte) error
	Close() error
}

// LoggerOption is a function that configures a logger.
type LoggerOption func(*BaseLogger)

// levelVar holds the shared minimum level for a logger family.
type levelVar struct{ v atomic.Int32 }

func (l *levelVar) get() Level  { return Level(l.v.Load()) }
func (l *levelVar) set(n Level) { l.v.Store(int32(n)) }

// BaseLogger implements the Logger interface.
type BaseLogger struct {
	level     *levelVar
	formatter Formatter
	outputs   []Output
	slog      *slog.Logger
}

// exit is overridable in tests.
var exit = os.Exit

// NewLogger creates a new logger with the given options.
func NewLogger(options ...LoggerOption) Logger {
	lv := &levelVar{}
	lv.set(InfoLevel)
	logger := &BaseLogger{
		level:     lv,
		formatter: &TextFormatter{},
	}
	for _, option := range options {
		option(logger)
	}
	if len(logger.outputs) == 0 {
		logger.outputs = append(logger.outputs, NewConsoleOutput())
	}
	logger.slog = slog.New(newBridgeHandler(logger))
	return logger
}

// WithLevel sets the minimum log level.
func WithLevel(level Level) LoggerOption {
	return func(l *BaseLogger) { l.level.set(level) }
}

// WithFormatter sets the log formatter.
func WithFormatter(formatter Formatter) LoggerOption {
	return func(l *BaseLogger) { l.formatter = formatter }
}

// WithOutput adds an output to the logger.
func WithOutput(output Output) LoggerOption {
	return func(l *BaseLogger) { l.outputs = append(l.outputs, output) }
}

func (l *BaseLogger) log(level slog.Level, msg string, fields []Field) {
	l.slog.LogAttrs(context.Background(), level, msg, attrsFromFields(fields)...)
}

// Debug logs at DebugLevel.
func (l *BaseLogger) Debug(msg string, fields ...Field) { l.log(slog.LevelDebug, msg, fields) }

// Info logs at InfoLevel.
func (l *BaseLogger) Info(msg string, fields ...Field) { l.log(slog.LevelInfo, msg, fields) }

// Warn logs at WarnLevel.
func (l *BaseLogger) Warn(msg string, fields ...Field) { l.log(slog.LevelWarn, msg, fields) }

// Error logs at ErrorLevel.
func (l *BaseLogger) Error(msg string, fields ...Field) { l.log(slog.LevelError, msg, fields) }

// Fatal logs at FatalLevel and terminates the process.
func (l *BaseLogger) Fatal(msg string, fields ...Field) {
	l.log(slog.LevelError+4, msg, fields)
	exit(1)
}

// With returns a Logger with additional base fields. Derived loggers share
// the root's level and outputs.
func (l *BaseLogger) With(fields ...Field) Logger {
	if len(fields) == 0 {
		return l
	}
	nl := *l
	nl.slog = l.slog.With(attrsToAny(attrsFromFields(fields))...)
	return &nl
}

// WithComponent tags logs with a component name.
func (l *BaseLogger) WithComponent(component string) Logger {
	return l.With(Component(component))
}

// SetLevel sets the minimum level for this logger and all derived loggers.
func (l *BaseLogger) SetLevel(level Level) { l.level.set(level) }

// GetLevel returns the current minimum level.
func (l *BaseLogger) GetLevel() Level { return l.level.get() }

// NewTestLogger returns a logger that discards all output. Intended for tests.
func NewTestLogger() Logger {
	return NewLogger(WithLevel(ErrorLevel), WithOutput(NullOutput{}))
}

package common

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// LogLevel represents logging verbosity levels
type LogLevel int

const (
	LogLevelError LogLevel = iota
	LogLevelWarn
	LogLevelInfo
	LogLevelDebug
)

// String returns the string representation of the log level
func (l LogLevel) String() string {
	switch l {
	case LogLevelError:
		return "error"
	case LogLevelWarn:
		return "warn"
	case LogLevelInfo:
		return "info"
	case LogLevelDebug:
		return "debug"
	default:
		return "info"
	}
}

// ToSlogLevel converts LogLevel to slog.Level
func (l LogLevel) ToSlogLevel() slog.Level {
	switch l {
	case LogLevelError:
		return slog.LevelError
	case LogLevelWarn:
		return slog.LevelWarn
	case LogLevelInfo:
		return slog.LevelInfo
	case LogLevelDebug:
		return slog.LevelDebug
	default:
		return slog.LevelInfo
	}
}

// ParseLogLevel maps a config string onto a LogLevel. Empty means info.
func ParseLogLevel(s string) (LogLevel, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "error":
		return LogLevelError, true
	case "warn", "warning":
		return LogLevelWarn, true
	case "info", "":
		return LogLevelInfo, true
	case "debug":
		return LogLevelDebug, true
	default:
		return LogLevelInfo, false
	}
}

// Logger provides a centralized logging interface for the migrator
type Logger struct {
	*slog.Logger
	level  LogLevel
	masker *Masker
}

// NewLogger creates a new structured logger with the specified level
func NewLogger(level LogLevel) *Logger {
	return NewLoggerWithWriter(os.Stdout, level)
}

// NewLoggerWithWriter creates a text logger writing to w.
func NewLoggerWithWriter(w io.Writer, level LogLevel) *Logger {
	opts := &slog.HandlerOptions{
		Level:       level.ToSlogLevel(),
		ReplaceAttr: maskAttr(globalMasker),
	}
	return &Logger{
		Logger: slog.New(slog.NewTextHandler(w, opts)),
		level:  level,
		masker: globalMasker,
	}
}

// NewJSONLogger creates a structured logger with JSON output
func NewJSONLogger(level LogLevel) *Logger {
	opts := &slog.HandlerOptions{
		Level:       level.ToSlogLevel(),
		ReplaceAttr: maskAttr(globalMasker),
	}
	return &Logger{
		Logger: slog.New(slog.NewJSONHandler(os.Stdout, opts)),
		level:  level,
		masker: globalMasker,
	}
}

// NewColorLogger creates a logger using the colorized text handler
func NewColorLogger(level LogLevel) *Logger {
	handler := NewColorHandler(os.Stdout, &slog.HandlerOptions{Level: level.ToSlogLevel()})
	handler.SetMasker(globalMasker)
	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		masker: globalMasker,
	}
}

// NewDiscardLogger returns a logger that drops everything. Used by tests.
func NewDiscardLogger() *Logger {
	return NewLoggerWithWriter(io.Discard, LogLevelError)
}

// maskAttr hides values stored under sensitive keys for the stock slog handlers.
func maskAttr(m *Masker) func([]string, slog.Attr) slog.Attr {
	return func(_ []string, a slog.Attr) slog.Attr {
		if m == nil || !m.IsEnabled() {
			return a
		}
		if m.IsSensitiveKey(a.Key) {
			return slog.String(a.Key, MaskedValue)
		}
		return a
	}
}

// Level returns the current log level
func (l *Logger) Level() LogLevel {
	return l.level
}

// EnableMasking toggles masking on the masker shared with this logger's handler.
func (l *Logger) EnableMasking(enabled bool) {
	if l.masker != nil {
		l.masker.SetEnabled(enabled)
	}
}

func (l *Logger) with(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
		level:  l.level,
		masker: l.masker,
	}
}

// WithComponent returns a logger with component context
func (l *Logger) WithComponent(component string) *Logger {
	return l.with("component", component)
}

// WithVersion returns a logger with migration version context
func (l *Logger) WithVersion(version int) *Logger {
	return l.with("version", version)
}

// WithStore returns a logger with store context
func (l *Logger) WithStore(storeType string) *Logger {
	return l.with("store", storeType)
}

// WithFields returns a logger carrying arbitrary key/value context
func (l *Logger) WithFields(args ...any) *Logger {
	return l.with(args...)
}

// WithDocument returns a logger tagged with the document being migrated
func (l *Logger) WithDocument(path string) *Logger {
	return l.with("document", path)
}

// Global default logger instance
var defaultLogger = NewLogger(LogLevelInfo)

// SetDefaultLogger sets the global default logger
func SetDefaultLogger(logger *Logger) {
	defaultLogger = logger
}

// GetLogger returns the default logger
func GetLogger() *Logger {
	return defaultLogger
}

// LogError logs an error with context
func LogError(msg string, err error, attrs ...any) {
	args := append([]any{"error", err}, attrs...)
	defaultLogger.Error(msg, args...)
}

// LogInfo logs informational message
func LogInfo(msg string, attrs ...any) {
	defaultLogger.Info(msg, attrs...)
}

// LogDebug logs debug message
func LogDebug(msg string, attrs ...any) {
	defaultLogger.Debug(msg, attrs...)
}

// LogWarn logs warning message
func LogWarn(msg string, attrs ...any) {
	defaultLogger.Warn(msg, attrs...)
}

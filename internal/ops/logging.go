package ops

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/learnstr/learnstr/internal/config"
)

// Logger is a structured logger wrapper
type Logger struct {
	*slog.Logger
	level  slog.Level
	format string
}

// NewLogger creates a new structured logger based on config
func NewLogger(cfg *config.Logging) *Logger {
	return NewLoggerWithWriter(cfg, os.Stdout)
}

// NewLoggerWithWriter creates a logger with a custom writer
func NewLoggerWithWriter(cfg *config.Logging, w io.Writer) *Logger {
	var level slog.Level
	switch strings.ToLower(cfg.Level) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.TimeKey {
				if t, ok := a.Value.Any().(time.Time); ok {
					a.Value = slog.StringValue(t.Format(time.RFC3339))
				}
			}
			return a
		},
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}

	return &Logger{
		Logger: slog.New(handler),
		level:  level,
		format: cfg.Format,
	}
}

// WithComponent adds a component field to all log messages
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		Logger: l.Logger.With("component", component),
		level:  l.level,
		format: l.format,
	}
}

// WithFields adds custom fields to the logger
func (l *Logger) WithFields(fields ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(fields...),
		level:  l.level,
		format: l.format,
	}
}

// IsDebugEnabled returns true if debug logging is enabled
func (l *Logger) IsDebugEnabled() bool {
	return l.level <= slog.LevelDebug
}

// Component-specific logger helpers

// LogResolveBatch logs the outcome of a batch note resolution
func (l *Logger) LogResolveBatch(requested, found int, duration time.Duration, err error) {
	if err != nil {
		l.Warn("batch resolve failed",
			"requested", requested,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("batch resolve completed",
			"requested", requested,
			"found", found,
			"duration_ms", duration.Milliseconds())
	}
}

// LogPublishStep logs a publish step transition
func (l *Logger) LogPublishStep(draftID, step, status string, errMsg string) {
	if status == "error" {
		l.Error("publish step failed",
			"draft_id", draftID,
			"step", step,
			"error", errMsg)
	} else {
		l.Debug("publish step",
			"draft_id", draftID,
			"step", step,
			"status", status)
	}
}

// LogBroadcast logs a broadcast attempt
func (l *Logger) LogBroadcast(eventID string, accepted, total int, err error) {
	if err != nil {
		l.Warn("broadcast rejected",
			"event_id", eventID,
			"accepted", accepted,
			"relays", total,
			"error", err)
	} else {
		l.Info("event broadcast",
			"event_id", eventID,
			"accepted", accepted,
			"relays", total)
	}
}

// LogPersistenceInconsistency flags the broadcast-succeeded/persist-failed
// condition. The network now has content the local store does not know
// about, so this always logs at error level with a dedicated marker.
func (l *Logger) LogPersistenceInconsistency(draftID, address string, err error) {
	l.Error("PERSISTENCE INCONSISTENCY: event broadcast but local persist failed",
		"draft_id", draftID,
		"address", address,
		"error", err)
}

// LogSubscription logs interaction subscription lifecycle events
func (l *Logger) LogSubscription(rootID string, action string) {
	l.Debug("interaction subscription",
		"root_id", rootID,
		"action", action)
}

// LogCacheOperation logs a note cache operation
func (l *Logger) LogCacheOperation(op string, key string, hit bool) {
	l.Debug("cache operation",
		"operation", op,
		"key", key,
		"hit", hit)
}

// LogStoreOperation logs a local store operation
func (l *Logger) LogStoreOperation(op string, duration time.Duration, err error) {
	if err != nil {
		l.Error("store operation failed",
			"operation", op,
			"duration_ms", duration.Milliseconds(),
			"error", err)
	} else {
		l.Debug("store operation completed",
			"operation", op,
			"duration_ms", duration.Milliseconds())
	}
}

// LogRelayConnection logs a relay connection event
func (l *Logger) LogRelayConnection(relay string, connected bool, err error) {
	if err != nil {
		l.Warn("relay connection failed",
			"relay", relay,
			"error", err)
	} else if connected {
		l.Info("relay connected",
			"relay", relay)
	} else {
		l.Info("relay disconnected",
			"relay", relay)
	}
}

// LogStartup logs application startup information
func (l *Logger) LogStartup(version, commit string, config map[string]interface{}) {
	l.Info("learnstr starting",
		"version", version,
		"commit", commit,
		"config", config)
}

// LogShutdown logs application shutdown
func (l *Logger) LogShutdown(reason string) {
	l.Info("learnstr shutting down",
		"reason", reason)
}

// LogPanic logs a panic with stack trace
func (l *Logger) LogPanic(recovered interface{}, stack string) {
	l.Error("panic recovered",
		"panic", fmt.Sprintf("%v", recovered),
		"stack", stack)
}

// Default logger configuration
var defaultLogger *Logger

func init() {
	defaultLogger = NewLogger(&config.Logging{
		Level:  "info",
		Format: "text",
	})
}

// Default returns the default logger
func Default() *Logger {
	return defaultLogger
}

// SetDefault sets the default logger
func SetDefault(l *Logger) {
	defaultLogger = l
}

// Helper functions for common logging patterns

// Info logs an info message
func Info(msg string, fields ...any) {
	defaultLogger.Info(msg, fields...)
}

// Debug logs a debug message
func Debug(msg string, fields ...any) {
	defaultLogger.Debug(msg, fields...)
}

// Warn logs a warning message
func Warn(msg string, fields ...any) {
	defaultLogger.Warn(msg, fields...)
}

// Error logs an error message
func Error(msg string, fields ...any) {
	defaultLogger.Error(msg, fields...)
}

// Package logging configures the process-wide slog loggers: a structured
// JSON logger on stdout for machine consumption and a human-readable text
// logger on stderr. Per-service file loggers with rotation are created via
// NewFileLogger.
package logging

import (
	"context"
	"fmt"
	"log/slog"
	"io"
	"os"
	"path/filepath"

	"github.com/carebell/carebell-go/internal/conf"
	"gopkg.in/natefinch/lumberjack.v2"
)

var structuredLogger *slog.Logger
var humanReadableLogger *slog.Logger

// structuredLevel tracks the minimum level of the structured logger so
// InitFileOutput can rebuild it without resetting the level.
var structuredLevel = slog.LevelDebug

const (
	LevelTrace = slog.Level(-8)
	LevelFatal = slog.Level(12)
)

var levelNames = map[slog.Leveler]string{
	LevelTrace: "TRACE",
	LevelFatal: "FATAL",
}

// handlerOptions returns slog handler options at the given level with the
// custom TRACE/FATAL level names applied.
func handlerOptions(level slog.Level) *slog.HandlerOptions {
	return &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.LevelKey {
				lvl := a.Value.Any().(slog.Level)
				label, ok := levelNames[lvl]
				if !ok {
					label = lvl.String()
				}
				a.Value = slog.StringValue(label)
			}
			return a
		},
	}
}

// Init initializes the logging system with structured and human-readable
// loggers and installs the structured logger as the slog default.
func Init() {
	structuredLevel = slog.LevelDebug
	structuredLogger = slog.New(slog.NewJSONHandler(os.Stdout, handlerOptions(structuredLevel)))
	humanReadableLogger = slog.New(slog.NewTextHandler(os.Stderr, handlerOptions(slog.LevelInfo)))
	slog.SetDefault(structuredLogger)
}

// SetLevel rebuilds both loggers at the given minimum level.
func SetLevel(level slog.Level) {
	structuredLevel = level
	structuredLogger = slog.New(slog.NewJSONHandler(os.Stdout, handlerOptions(level)))
	humanReadableLogger = slog.New(slog.NewTextHandler(os.Stderr, handlerOptions(level)))
	slog.SetDefault(structuredLogger)
}

// InitFileOutput mirrors the structured log stream into the rotated main
// log file next to stdout. Returns a closer for the file; a disabled
// main log returns a no-op closer.
func InitFileOutput(logConf conf.LogConfig) (func() error, error) {
	if !logConf.Enabled || logConf.Path == "" {
		return func() error { return nil }, nil
	}

	writer, err := newRotatingWriter(logConf)
	if err != nil {
		return nil, err
	}

	structuredLogger = slog.New(slog.NewJSONHandler(io.MultiWriter(os.Stdout, writer), handlerOptions(structuredLevel)))
	slog.SetDefault(structuredLogger)
	return writer.Close, nil
}

// SetOutput redirects both loggers, e.g. for tests capturing log output.
func SetOutput(structuredOutput, humanReadableOutput io.Writer) {
	structuredLogger = slog.New(slog.NewJSONHandler(structuredOutput, handlerOptions(slog.LevelDebug)))
	humanReadableLogger = slog.New(slog.NewTextHandler(humanReadableOutput, handlerOptions(slog.LevelInfo)))
	slog.SetDefault(structuredLogger)
}

// Structured returns the globally configured structured (JSON) logger.
// Returns nil if Init() has not been called.
func Structured() *slog.Logger {
	return structuredLogger
}

// HumanReadable returns the globally configured human-readable (Text) logger.
// Returns nil if Init() has not been called.
func HumanReadable() *slog.Logger {
	return humanReadableLogger
}

// ForService creates a new logger instance with the 'service' attribute added.
// It uses the global structured logger as the base.
// Returns nil if Init() has not been called.
func ForService(serviceName string) *slog.Logger {
	if structuredLogger == nil {
		return nil
	}
	return structuredLogger.With("service", serviceName)
}

// --- Convenience functions using the default logger ---

// Debug logs a debug message using the default slog logger.
func Debug(msg string, args ...any) {
	slog.Debug(msg, args...)
}

// Info logs an info message using the default slog logger.
func Info(msg string, args ...any) {
	slog.Info(msg, args...)
}

// Warn logs a warning message using the default slog logger.
func Warn(msg string, args ...any) {
	slog.Warn(msg, args...)
}

// Error logs an error message using the default slog logger.
func Error(msg string, args ...any) {
	slog.Error(msg, args...)
}

// Fatal logs a message at the custom Fatal level and exits the process.
func Fatal(msg string, args ...any) {
	slog.Log(context.TODO(), LevelFatal, msg, args...)
	os.Exit(1)
}

// Trace logs a message at the custom Trace level.
func Trace(msg string, args ...any) {
	slog.Log(context.TODO(), LevelTrace, msg, args...)
}

// NewFileLogger creates a slog.Logger writing JSON logs to logConf.Path,
// rotated by lumberjack according to the log settings. All records carry
// the 'service' attribute. Returns the logger and a closer for the
// underlying writer.
func NewFileLogger(logConf conf.LogConfig, serviceName string, level slog.Level) (*slog.Logger, func() error, error) {
	logWriter, err := newRotatingWriter(logConf)
	if err != nil {
		return nil, nil, err
	}

	logger := slog.New(slog.NewJSONHandler(logWriter, handlerOptions(level))).With("service", serviceName)
	return logger, logWriter.Close, nil
}

// newRotatingWriter builds a lumberjack writer for logConf.Path with the
// configured rotation policy mapped onto lumberjack's size/age model.
func newRotatingWriter(logConf conf.LogConfig) (*lumberjack.Logger, error) {
	// lumberjack does not create directories
	logDir := filepath.Dir(logConf.Path)
	if logDir != "." {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create log directory %s: %w", logDir, err)
		}
	}

	logWriter := &lumberjack.Logger{
		Filename: logConf.Path,
	}

	maxSizeMB := 100
	maxBackups := 3
	maxAge := 28 // days

	if mb := int(logConf.MaxSize / (1024 * 1024)); mb > 0 {
		maxSizeMB = mb
	}

	switch logConf.Rotation {
	case conf.RotationDaily:
		maxAge = 1
		maxBackups = 30
	case conf.RotationWeekly:
		maxAge = 7
		maxBackups = 4
	case conf.RotationSize:
		// size-based rotation uses maxSizeMB as-is
	default:
		slog.Warn("Unknown log rotation type in config, using size-based defaults", "configuredType", logConf.Rotation)
	}

	logWriter.MaxSize = maxSizeMB
	logWriter.MaxBackups = maxBackups
	logWriter.MaxAge = maxAge
	return logWriter, nil
}

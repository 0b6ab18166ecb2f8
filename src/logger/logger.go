package logger

import (
	"fmt"
	"os"
	"strings"

	"queue-sync/src/models"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// -----------------------------------------------------------------------------

// Logger provides structured logging functionality
type Logger struct {
	name   string
	sugar  *zap.SugaredLogger
	config *models.MConfig
}

// -----------------------------------------------------------------------------

// NewLogger creates a new Logger instance
func NewLogger(config *models.MConfig, name string) *Logger {
	var cfg zap.Config

	level := ""
	if config != nil {
		level = strings.ToUpper(config.LogLevel)
	}

	if level == "DEBUG" {
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(level))
	}

	base, err := cfg.Build()
	if err != nil {
		// Fall back to a bare stderr logger; never fail startup over logging.
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		base = zap.NewExample()
	}

	return &Logger{
		name:   name,
		sugar:  base.Named(name).Sugar(),
		config: config,
	}
}

// -----------------------------------------------------------------------------

// NewNopLogger returns a logger that discards everything. Used by tests.
func NewNopLogger() *Logger {
	return &Logger{name: "nop", sugar: zap.NewNop().Sugar()}
}

// -----------------------------------------------------------------------------

// Named returns a child logger for a component
func (l *Logger) Named(name string) *Logger {
	return &Logger{
		name:   name,
		sugar:  l.sugar.Named(name),
		config: l.config,
	}
}

// -----------------------------------------------------------------------------

// With returns a child logger carrying structured key/value context
func (l *Logger) With(keysAndValues ...interface{}) *Logger {
	return &Logger{
		name:   l.name,
		sugar:  l.sugar.With(keysAndValues...),
		config: l.config,
	}
}

// -----------------------------------------------------------------------------

// Debug logs debugging messages
func (l *Logger) Debug(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// -----------------------------------------------------------------------------

// Warning logs recoverable problems
func (l *Logger) Warning(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// -----------------------------------------------------------------------------

// Info logs informational messages
func (l *Logger) Info(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// -----------------------------------------------------------------------------

// Error logs error messages
func (l *Logger) Error(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// -----------------------------------------------------------------------------

// Critical logs critical errors and exits the application
func (l *Logger) Critical(format string, args ...interface{}) {
	l.sugar.Errorf("CRITICAL: "+format, args...)
	_ = l.sugar.Sync()
	os.Exit(1)
}

// -----------------------------------------------------------------------------

// Sync flushes buffered entries
func (l *Logger) Sync() error {
	return l.sugar.Sync()
}

// -----------------------------------------------------------------------------

func parseLevel(level string) zapcore.Level {
	switch level {
	case "WARN", "WARNING":
		return zapcore.WarnLevel
	case "ERROR":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Package logging wraps Zap with a small context-aware logger used across
// draftflow. Output goes to stderr so workflow content on stdout stays
// machine-consumable.
package logging

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string `koanf:"level"`

	// Format is "json" or "console".
	Format string `koanf:"format"`
}

// NewDefaultConfig returns console logging at info level, appropriate for a
// single-operator CLI.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  "info",
		Format: "console",
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if _, err := zapcore.ParseLevel(c.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Level, err)
	}
	return nil
}

// Logger wraps Zap with context-aware methods.
type Logger struct {
	zap *zap.Logger
}

// NewLogger creates a logger from config.
func NewLogger(cfg *Config) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("failed to parse level: %w", err)
	}

	core := zapcore.NewCore(
		newEncoder(cfg.Format),
		zapcore.Lock(os.Stderr),
		level,
	)

	return &Logger{zap: zap.New(core)}, nil
}

// NewNop returns a logger that discards everything. Used in tests.
func NewNop() *Logger {
	return &Logger{zap: zap.NewNop()}
}

// newEncoder creates JSON or console encoder.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// Context-aware logging methods

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Debug(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Info(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Warn(msg, append(ContextFields(ctx), fields...)...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	l.zap.Error(msg, append(ContextFields(ctx), fields...)...)
}

// Child logger creation

func (l *Logger) With(fields ...zap.Field) *Logger {
	return &Logger{zap: l.zap.With(fields...)}
}

func (l *Logger) Named(name string) *Logger {
	return &Logger{zap: l.zap.Named(name)}
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	// Ignore sync errors on stdout/stderr (common on Linux)
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

// Underlying returns the underlying zap.Logger.
func (l *Logger) Underlying() *zap.Logger {
	return l.zap
}

// isStdoutSyncError checks if error is harmless stdout/stderr sync error.
// On Linux, syncing stdout/stderr returns EINVAL or ENOTTY which are safe to ignore.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}

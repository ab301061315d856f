// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap, providing structured, high-performance logging
// throughout the application.
package logger

import (
	"context"
	"errors"
	"fmt"
	"syscall"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/isdmx/codebot/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "codebot"

// NewFromConfig creates the application logger and flushes it when the fx
// application stops.
func NewFromConfig(lc fx.Lifecycle, cfg *config.Config) (*zap.Logger, error) {
	log, err := New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return Sync(log)
		},
	})
	return log, nil
}

// New creates a new logger instance for mode ("production" or "development")
// at the given level.
func New(mode, level string) (*zap.Logger, error) {
	var cfg zap.Config

	switch mode {
	case "development":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	case "production":
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "timestamp"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		cfg.EncoderConfig.EncodeDuration = zapcore.MillisDurationEncoder
		// Cleanup failures must never be sampled away.
		cfg.Sampling = nil
	default:
		return nil, fmt.Errorf("invalid logging mode: %s, must be 'production' or 'development'", mode)
	}

	logLevel, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid logging level: %s, must be one of 'debug', 'info', 'warn', 'error', 'dpanic', 'panic', 'fatal'", level)
	}
	cfg.Level = zap.NewAtomicLevelAt(logLevel)
	cfg.InitialFields = map[string]any{"service": ServiceName}

	return cfg.Build()
}

// Sync flushes buffered entries. Syncing a terminal stdout/stderr fails with
// EINVAL or ENOTTY on Linux; those errors are ignored.
func Sync(log *zap.Logger) error {
	err := log.Sync()
	if errors.Is(err, syscall.EINVAL) || errors.Is(err, syscall.ENOTTY) {
		return nil
	}
	return err
}

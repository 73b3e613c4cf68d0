// Package observability provides the structured logger used by every component.
package observability

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/cory-johannsen/matchrelay/internal/config"
)

// NewLogger creates a structured logger from the given logging configuration.
// Every entry carries a "service" field taken from cfg.Service.
//
// Precondition: cfg.Level must be one of "debug", "info", "warn", "error".
// Precondition: cfg.Format must be "json" or "console".
// Postcondition: Returns a configured zap.Logger or a non-nil error.
func NewLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parsing log level %q: %w", cfg.Level, err)
	}

	zapCfg, err := baseConfig(cfg.Format)
	if err != nil {
		return nil, err
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if cfg.Service != "" {
		zapCfg.InitialFields = map[string]interface{}{"service": cfg.Service}
	}

	logger, err := zapCfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

func baseConfig(format string) (zap.Config, error) {
	switch format {
	case "json":
		cfg := zap.NewProductionConfig()
		// Relay bursts log per-member failures; sampling would hide them.
		cfg.Sampling = nil
		return cfg, nil
	case "console":
		return zap.NewDevelopmentConfig(), nil
	default:
		return zap.Config{}, fmt.Errorf("unknown log format %q", format)
	}
}

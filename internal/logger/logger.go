// Package logger builds the process-wide zap logger.
package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a JSON production logger for "prod"/"production" and a
// colored development logger for anything else.
func New(env string) (*zap.Logger, error) {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "prod", "production":
		cfg := zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return cfg.Build()
	case "test":
		return zap.NewNop(), nil
	default:
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}
}

// Must is New that panics; for main packages only.
func Must(env string) *zap.Logger {
	l, err := New(env)
	if err != nil {
		panic(err)
	}
	return l
}

// Package logging builds the process-wide zap logger.
package logging

import (
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// level is shared by every logger New returns so SetLevel can adjust
// verbosity after startup.
var level = zap.NewAtomicLevelAt(zapcore.InfoLevel)

// New returns a JSON production logger for APP_ENV=prod and a console
// development logger otherwise.  LOG_LEVEL overrides the default level.
func New(env string) (*zap.Logger, error) {
	var cfg zap.Config
	if strings.EqualFold(env, "prod") || strings.EqualFold(env, "production") {
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		cfg = zap.NewDevelopmentConfig()
		level.SetLevel(zapcore.DebugLevel)
	}
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		if err := SetLevel(raw); err != nil {
			return nil, err
		}
	}
	cfg.Level = level
	return cfg.Build(zap.AddCaller())
}

// SetLevel changes the level of all loggers built by New.
func SetLevel(raw string) error {
	lvl, err := zapcore.ParseLevel(raw)
	if err != nil {
		return err
	}
	level.SetLevel(lvl)
	return nil
}

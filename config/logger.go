package config

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/wippyai/script-bridge/errors"
)

// NewLogger builds a zap logger for l: the production preset, or the
// development preset with colored levels when l.Development is set.
func NewLogger(l Log) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if l.Level != "" {
		if err := level.UnmarshalText([]byte(l.Level)); err != nil {
			return nil, errors.New(errors.PhaseConfig, errors.KindInvalidData).
				Path("log", "level").Detail("unknown log level %q", l.Level).Build()
		}
	}

	var zc zap.Config
	if l.Development {
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zc = zap.NewProductionConfig()
		zc.Sampling = nil
	}
	zc.Level = zap.NewAtomicLevelAt(level)
	zc.OutputPaths = []string{"stderr"}

	logger, err := zc.Build()
	if err != nil {
		return nil, errors.New(errors.PhaseConfig, errors.KindInvalidInput).
			Detail("cannot build logger").Cause(err).Build()
	}
	return logger, nil
}

package zaplogging

import (
	"strings"

	"github.com/core-tools/hsu-launcher-go/pkg/errors"
	"github.com/core-tools/hsu-launcher-go/pkg/logging"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ParseLevel maps a config level name to a zap level. Empty means info.
func ParseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	default:
		return zapcore.InfoLevel, errors.NewValidationError("unknown log level", nil).WithContext("level", level)
	}
}

// NewZapLogger builds a console zap logger writing to stderr.
// The returned sync func should be called before the process exits.
func NewZapLogger(level string) (*zap.SugaredLogger, func(), error) {
	zapLevel, err := ParseLevel(level)
	if err != nil {
		return nil, nil, err
	}

	config := zap.NewDevelopmentConfig()
	config.Level = zap.NewAtomicLevelAt(zapLevel)
	config.Development = false
	config.DisableStacktrace = true
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.OutputPaths = []string{"stderr"}
	config.ErrorOutputPaths = []string{"stderr"}

	zapLogger, err := config.Build()
	if err != nil {
		return nil, nil, errors.NewInternalError("failed to build zap logger", err)
	}

	sugar := zapLogger.Sugar()
	return sugar, func() { _ = sugar.Sync() }, nil
}

// NewLogger adapts a sugared zap logger to logging.Logger with the given prefix
func NewLogger(prefix string, sugar *zap.SugaredLogger) logging.Logger {
	return logging.NewLogger(prefix, logging.LogFuncs{
		Debugf: sugar.Debugf,
		Infof:  sugar.Infof,
		Warnf:  sugar.Warnf,
		Errorf: sugar.Errorf,
	})
}

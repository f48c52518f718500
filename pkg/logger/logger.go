// Package logger provides the structured logging used across the bridge
// core. Components receive a Logger explicitly; there is no package-level
// global.
package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the logging interface the core components depend on.
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	With(fields ...zap.Field) Logger
	Sync() error
}

type zapLogger struct {
	sugar *zap.SugaredLogger
	base  *zap.Logger
}

// New creates a zap-backed Logger at the given level ("debug", "info",
// "warn", "error"; anything else falls back to info), emitting JSON to
// stdout.
func New(level string) (Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	cfg := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &zapLogger{sugar: base.Sugar(), base: base}, nil
}

// NewNop returns a Logger that discards everything. Used by tests.
func NewNop() Logger {
	base := zap.NewNop()
	return &zapLogger{sugar: base.Sugar(), base: base}
}

func (l *zapLogger) Debugf(format string, args ...interface{}) { l.sugar.Debugf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})  { l.sugar.Infof(format, args...) }
func (l *zapLogger) Warnf(format string, args ...interface{})  { l.sugar.Warnf(format, args...) }
func (l *zapLogger) Errorf(format string, args ...interface{}) { l.sugar.Errorf(format, args...) }

// With returns a child logger carrying the given structured fields on every
// entry (order id, step id, and so on).
func (l *zapLogger) With(fields ...zap.Field) Logger {
	child := l.base.With(fields...)
	return &zapLogger{sugar: child.Sugar(), base: child}
}

func (l *zapLogger) Sync() error { return l.base.Sync() }

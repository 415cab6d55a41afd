// Package logging wraps zap.Logger with the field set every component
// uses for lifecycle and failure logs, per SPEC_FULL.md §6.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is a thin zap.Logger wrapper that standardizes the component
// and subsystem fields every eventcore log line carries.
type Logger struct {
	*zap.Logger
}

// New builds a production-profile Logger at level, encoding either
// "json" (the default) or "console".
func New(level string, encoding string) (*Logger, error) {
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = zapcore.InfoLevel
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	if encoding != "" {
		cfg.Encoding = encoding
	}

	base, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return &Logger{Logger: base}, nil
}

// Nop returns a Logger that discards everything, for tests and defaults.
func Nop() *Logger {
	return &Logger{Logger: zap.NewNop()}
}

// With returns a child Logger carrying component as a structured field,
// alongside any additional fields.
func (l *Logger) With(component string, fields ...zap.Field) *Logger {
	return &Logger{Logger: l.Logger.With(append([]zap.Field{zap.String("component", component)}, fields...)...)}
}

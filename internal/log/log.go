// Package log builds the process-wide Zap logger used by every component.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options controls the logger's verbosity and encoding.
type Options struct {
	Debug bool // enable debug-level logging
	JSON  bool // JSON encoding instead of the colorized console encoding
}

// New builds a ready-to-use logger. Development encoding mirrors the
// console format a human operator tails; JSON is used for production
// log shipping.
func New(opts Options) (*zap.Logger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	cfg.DisableStacktrace = true
	cfg.DisableCaller = true

	if opts.JSON {
		cfg.Encoding = "json"
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}
	if opts.Debug {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}

	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests and library
// callers that don't want log output.
func Nop() *zap.Logger { return zap.NewNop() }

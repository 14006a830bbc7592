package main

import (
	"fmt"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger builds the process logger. Verbose enables V(1) debug output;
// jsonFormat switches from the human console encoder to JSON lines.
func newLogger(verbose, jsonFormat bool) (logr.Logger, func(), error) {
	cfg := zap.NewProductionConfig()
	if !jsonFormat {
		cfg.Encoding = "console"
		cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	}
	if verbose {
		// logr V(1) maps to zap level -1.
		cfg.Level = zap.NewAtomicLevelAt(zapcore.Level(-1))
	}

	zl, err := cfg.Build()
	if err != nil {
		return logr.Logger{}, nil, fmt.Errorf("failed to build logger: %w", err)
	}
	return zapr.NewLogger(zl), func() { _ = zl.Sync() }, nil
}

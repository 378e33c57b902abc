// Package logging configures the process-wide zap logger. Logs go to
// stderr so stdout stays reserved for rendered SQL and test output.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger = zap.NewNop()

// Init builds the logger: Info level by default, Debug under --debug.
func Init(debug bool) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "console"
	cfg.EncoderConfig = zap.NewDevelopmentEncoderConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	if debug {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	l, err := cfg.Build()
	if err != nil {
		return
	}
	logger = l
}

// L returns the process logger.
func L() *zap.Logger { return logger }

// Sync flushes buffered log entries at process exit.
func Sync() { _ = logger.Sync() }

package logger

import (
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the process logger. "production" selects the JSON encoder with
// ISO8601 timestamps, anything else the colored development console.
func New(env string) (*zap.Logger, error) {
	return build(env, nil)
}

// NewFile is New writing to path instead of stderr, for interactive programs
// that own the terminal.
func NewFile(env, path string) (*zap.Logger, error) {
	return build(env, []string{path})
}

func build(env string, outputs []string) (*zap.Logger, error) {
	var config zap.Config

	if strings.EqualFold(strings.TrimSpace(env), "production") {
		config = zap.NewProductionConfig()
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	} else {
		config = zap.NewDevelopmentConfig()
		config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}
	if len(outputs) > 0 {
		config.OutputPaths = outputs
		config.ErrorOutputPaths = outputs
		config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	return config.Build()
}

// MustNew is New for binaries that cannot start without a logger.
func MustNew(env string) *zap.Logger {
	log, err := New(env)
	if err != nil {
		panic(err)
	}
	return log
}

// ReplaceGlobals installs log as zap's global logger and redirects the
// standard library logger to it. The returned func restores both.
func ReplaceGlobals(log *zap.Logger) func() {
	undoGlobals := zap.ReplaceGlobals(log)
	undoStd := zap.RedirectStdLog(log)
	return func() {
		undoStd()
		undoGlobals()
	}
}

// Package pythlog builds the zap loggers the daemon threads through every
// component constructor. There is no package-level logger: callers that
// need one build it with New and pass it down explicitly (spec §9 — no
// global singletons).
package pythlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a production console logger at the given level ("debug",
// "info", "warn", "error"). An empty level defaults to "info".
func New(level string) (*zap.Logger, error) {
	var lvl zapcore.Level
	if level == "" {
		level = "info"
	}
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.Encoding = "console"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	return cfg.Build()
}

// Nop returns a logger that discards everything, for tests and library
// callers that haven't wired one up yet.
func Nop() *zap.Logger {
	return zap.NewNop()
}

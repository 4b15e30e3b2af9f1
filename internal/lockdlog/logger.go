// Package lockdlog builds the zap.Logger used throughout lockd: a console,
// colorized, debug-level encoder in development mode and a JSON production
// encoder otherwise.
package lockdlog

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures logger construction.
type Options struct {
	// Dev switches to a human-readable console encoder at debug level.
	Dev bool
	// Level is the minimum level logged in production mode. Ignored when
	// Dev is set. Valid values are zap's level names (debug, info, warn,
	// error). Empty defaults to "info".
	Level string
}

// New builds a *zap.Logger per opts.
func New(opts Options) (*zap.Logger, error) {
	if opts.Dev {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}

	cfg := zap.NewProductionConfig()
	level := opts.Level
	if level == "" {
		level = "info"
	}
	var zl zap.AtomicLevel
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}
	cfg.Level = zl
	return cfg.Build()
}

// Package logging builds the diagnostic logger used by the queue owner
// and ACP client. This is distinct from the per-session NDJSON event log
// (internal/eventlog): it carries free-form operational messages, not a
// protocol mirror.
package logging

import (
	"os"

	lumberjack "gopkg.in/natefinch/lumberjack.v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the diagnostic logger.
type Options struct {
	// FilePath, if set, routes logs through a rotated file instead of
	// stderr. Rotation reuses lumberjack the same way the event log does,
	// but with its own (much looser) size/backup policy.
	FilePath string
	Debug    bool
}

// New builds a *zap.Logger per Options. With FilePath empty the logger
// writes to stderr; without Debug it logs at Info level and above.
func New(opts Options) *zap.Logger {
	level := zapcore.InfoLevel
	if opts.Debug {
		level = zapcore.DebugLevel
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var sink zapcore.WriteSyncer
	if opts.FilePath != "" {
		sink = zapcore.AddSync(&lumberjack.Logger{
			Filename:   opts.FilePath,
			MaxSize:    20, // megabytes
			MaxBackups: 3,
			MaxAge:     14, // days
		})
	} else {
		sink = zapcore.Lock(os.Stderr)
	}

	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, level)
	return zap.New(core)
}

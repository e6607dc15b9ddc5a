package log

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type logCtxKey int

// New builds a development style console logger at the given level
// ("debug", "info", "warn", "error").
func New(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	cfg.DisableStacktrace = lvl > zapcore.DebugLevel
	return cfg.Build()
}

func IntoContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, logCtxKey(0), logger)
}

func FromContext(ctx context.Context) *zap.Logger {
	val := ctx.Value(logCtxKey(0))
	if val != nil {
		return val.(*zap.Logger)
	}
	zap.L().Warn("No logger in context, passing default")
	return zap.L()
}

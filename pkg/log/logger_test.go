package log_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptime-industries/pixcut-link/pkg/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	t.Parallel()

	logger, err := log.New("warn")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = log.New("loud")
	assert.Error(t, err)
}

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.DebugLevel)
	ctx := log.IntoContext(context.Background(), zap.New(core))

	log.FromContext(ctx).Info("hello", zap.Int("id", 628))

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "hello", entry.Message)
	assert.Equal(t, int64(628), entry.ContextMap()["id"])
}

func TestFromContextFallback(t *testing.T) {
	t.Parallel()

	assert.NotNil(t, log.FromContext(context.Background()))
}

package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNewDevelopmentLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Development: true})
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	assert.True(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Info("development logger ready")
}

func TestNewProductionLogger(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{})
	require.NoError(t, err)
	defer logger.Sync() //nolint:errcheck // best-effort flush
	assert.False(t, logger.Core().Enabled(zapcore.DebugLevel))
	logger.Info("production logger ready")
}

func TestNewLoggerLevelOverride(t *testing.T) {
	t.Parallel()

	logger, err := New(Options{Level: "warn"})
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, logger.Core().Enabled(zapcore.WarnLevel))

	_, err = New(Options{Level: "chatty"})
	assert.Error(t, err)
}

package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kandev/kanrun/internal/common/config"
	"github.com/kandev/kanrun/internal/common/logger"
)

func TestProvideDefaultsToMemoryBus(t *testing.T) {
	provided, cleanup, err := Provide(&config.Config{}, logger.NewNop())
	require.NoError(t, err)
	assert.NotNil(t, provided.Memory)
	assert.Nil(t, provided.NATS)
	assert.True(t, provided.Bus.IsConnected())
	require.NoError(t, cleanup())
	assert.False(t, provided.Bus.IsConnected())
}

func TestExecutorOptionsSubject(t *testing.T) {
	assert.Equal(t, "executor.options.CODEX", ExecutorOptionsSubject("CODEX"))
}

package logger

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLogger_InvalidLevelFallsBackToInfo(t *testing.T) {
	log, err := NewLogger(LoggingConfig{Level: "loud", Format: "json", OutputPath: "stderr"})
	require.NoError(t, err)
	assert.True(t, log.Zap().Core().Enabled(zap.InfoLevel))
	assert.False(t, log.Zap().Core().Enabled(zap.DebugLevel))
}

func TestNewLogger_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")
	log, err := NewLogger(LoggingConfig{Level: "debug", Format: "text", OutputPath: path})
	require.NoError(t, err)
	log.Info("hello")
	_ = log.Sync()
	assert.FileExists(t, path)
}

func TestWithFieldsAccumulates(t *testing.T) {
	base := NewNop()
	child := base.WithTaskID("t1").WithScheduleID("s1")
	assert.Len(t, child.fields, 2)
	assert.Empty(t, base.fields)
}

func TestWithContext(t *testing.T) {
	base := NewNop()
	assert.Same(t, base, base.WithContext(context.Background()))

	ctx := context.WithValue(context.Background(), RequestIDKey, "req-1")
	child := base.WithContext(ctx)
	assert.Len(t, child.fields, 1)
}

func TestDetectFormat(t *testing.T) {
	t.Setenv("KUBERNETES_SERVICE_HOST", "")
	t.Setenv("KANRUN_ENV", "production")
	assert.Equal(t, "json", DetectFormat())

	t.Setenv("KANRUN_ENV", "")
	assert.Equal(t, "text", DetectFormat())
}

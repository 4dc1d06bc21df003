package logging

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestContextRoundTrip(t *testing.T) {
	t.Parallel()
	logger := zap.NewNop()
	ctx := NewContext(context.Background(), logger)
	assert.Same(t, logger, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestNewWritesLogFile(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "dair.log")
	logger := New(zap.InfoLevel, path, true)
	logger.Info("hello", zap.String("place", "P1"))
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"place":"P1"`)
}

package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/layer-3/dair/config"
)

func TestParseFlags(t *testing.T) {
	t.Parallel()
	cfg, err := config.ParseFlags(config.DefaultConfig(), []string{
		"--listen", ":8080",
		"--coord.job-timeout", "30s",
		"--ws.send-queue", "8",
		"--cors-origin", "http://localhost:3000",
	})
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Listen)
	require.Equal(t, 30*time.Second, cfg.Coordinator.JobTimeout)
	require.Equal(t, 15*time.Second, cfg.Coordinator.SweepInterval)
	require.Equal(t, 8, cfg.Socket.SendQueue)
	require.Equal(t, []string{"http://localhost:3000"}, cfg.CORSOrigins)
}

func TestValidate(t *testing.T) {
	t.Parallel()
	cfg := config.DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Coordinator.JobTimeout = 0
	cfg.Socket.SendQueue = -1
	err := cfg.Validate()
	require.ErrorContains(t, err, "job timeout")
	require.ErrorContains(t, err, "send queue")
}

package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "./definitions", cfg.PlatformPath)
	assert.Equal(t, 10*time.Second, cfg.GCGrace)
	assert.Equal(t, 1024, cfg.WebhookQueueCapacity)
	assert.Equal(t, 8, cfg.AgentConcurrency["http_agent"])
}

func TestLoadReadsEnvironmentOverride(t *testing.T) {
	require.NoError(t, os.Setenv("FERROFLUX_PLATFORM_PATH", "/tmp/defs"))
	require.NoError(t, os.Setenv("FERROFLUX_WEBHOOK_QUEUE_CAPACITY", "256"))
	defer os.Unsetenv("FERROFLUX_PLATFORM_PATH")
	defer os.Unsetenv("FERROFLUX_WEBHOOK_QUEUE_CAPACITY")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/defs", cfg.PlatformPath)
	assert.Equal(t, 256, cfg.WebhookQueueCapacity)
}

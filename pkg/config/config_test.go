package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, time.Hour, cfg.Pairing.SessionTTL)
	assert.Equal(t, 5*time.Minute, cfg.Pairing.SweepInterval)
	assert.Equal(t, 10, cfg.Pairing.MaxCreates)
	assert.Equal(t, 5*time.Second, cfg.Device.ConnectTimeout)
	assert.Equal(t, 2*time.Second, cfg.Device.StatsInterval)
}

func TestLoadMissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":8080", cfg.Server.Address)
}

func TestLoadParsesYAMLAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
server:
  address: ":9000"
pairing:
  max_creates: 3
  rate_limit_window: 10m
logging:
  level: debug
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Address)
	assert.Equal(t, 3, cfg.Pairing.MaxCreates)
	assert.Equal(t, 10*time.Minute, cfg.Pairing.RateLimitWindow)
	assert.Equal(t, "debug", cfg.Logging.Level)
	// untouched sections keep defaults
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Pairing.MaxCreates = 0
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Signal.PongTimeout = cfg.Signal.PingInterval
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.Redis.Enabled = true
	cfg.Redis.Address = ""
	assert.Error(t, cfg.Validate())
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("PAIRCAST_SERVER_ADDRESS", ":7777")
	t.Setenv("PAIRCAST_LOG_LEVEL", "warn")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, ":7777", cfg.Server.Address)
	assert.Equal(t, "warn", cfg.Logging.Level)
}

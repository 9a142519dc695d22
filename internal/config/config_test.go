package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
homeAssistant:
  url: http://ha.local:8123
  token: abc123
discovery:
  timeoutSeconds: 10
logging:
  level: debug
vendors:
  franklin:
    - franklin_wh
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "http://ha.local:8123", cfg.HomeAssistant.URL)
	assert.Equal(t, "abc123", cfg.HomeAssistant.Token)
	assert.Equal(t, 10, cfg.Discovery.TimeoutSeconds)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, []string{"franklin_wh"}, cfg.Vendors["franklin"])
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("HA_URL", "http://env.local:8123")
	t.Setenv("HASS_API_TOKEN", "envtoken")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "http://env.local:8123", cfg.HomeAssistant.URL)
	assert.Equal(t, "envtoken", cfg.HomeAssistant.Token)
	assert.Equal(t, 5, cfg.Discovery.TimeoutSeconds, "default discovery timeout")
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, `
homeAssistant:
  url: http://file.local:8123
  token: filetoken
`)
	t.Setenv("HA_URL", "http://env.local:8123")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://env.local:8123", cfg.HomeAssistant.URL)
	assert.Equal(t, "filetoken", cfg.HomeAssistant.Token)
}

func TestLoadRejectsBadYAML(t *testing.T) {
	path := writeConfig(t, "homeAssistant: [")
	_, err := Load(path)
	require.Error(t, err)
}

package config

import (
	"fmt"
	"os"

	"github.com/goccy/go-yaml"
)

type HAConfig struct {
	URL   string `yaml:"url"`
	Token string `yaml:"token"`
}

type DiscoveryConfig struct {
	TimeoutSeconds int `yaml:"timeoutSeconds"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text" or "json"
}

type Config struct {
	HomeAssistant HAConfig        `yaml:"homeAssistant"`
	Discovery     DiscoveryConfig `yaml:"discovery,omitempty"`
	Logging       LoggingConfig   `yaml:"logging,omitempty"`
	// Vendors extends the built-in vendor→platform table. Keys are
	// lower-case vendor name fragments, values are integration platforms.
	Vendors map[string][]string `yaml:"vendors,omitempty"`
	DryRun  bool                `yaml:"-"`
	Debug   bool                `yaml:"-"`
}

// Load reads the YAML config file and applies environment overrides.
// A missing file is not an error: URL and token may come entirely from
// HA_URL and HASS_API_TOKEN.
func Load(filename string) (*Config, error) {
	c := &Config{}

	buf, err := os.ReadFile(filename)
	switch {
	case os.IsNotExist(err):
		// env-only setup
	case err != nil:
		return nil, fmt.Errorf("reading config file: %w", err)
	default:
		if err := yaml.Unmarshal(buf, c); err != nil {
			return nil, fmt.Errorf("parsing yaml: %w", err)
		}
	}

	if url := os.Getenv("HA_URL"); url != "" {
		c.HomeAssistant.URL = url
	}
	if token := os.Getenv("HASS_API_TOKEN"); token != "" {
		c.HomeAssistant.Token = token
	}
	if c.Discovery.TimeoutSeconds <= 0 {
		c.Discovery.TimeoutSeconds = 5
	}
	return c, nil
}

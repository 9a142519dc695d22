package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/electrification-bus/hass-atlas/internal/config"
)

// Setup creates a zerolog logger according to the provided configuration.
func Setup(cfg config.LoggingConfig) (zerolog.Logger, error) {
	level := zerolog.InfoLevel
	if cfg.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
		if err != nil {
			return zerolog.Logger{}, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}

	var out io.Writer = os.Stderr
	if !strings.EqualFold(cfg.Format, "json") {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}

	return zerolog.New(out).With().Timestamp().Logger().Level(level), nil
}

package integration

import (
	"log/slog"
	"strings"

	"github.com/quailyquaily/slackrelay/tools"
)

// Config controls initialization and wiring behavior.
type Config struct {
	// Viper key overrides applied last (highest precedence).
	Overrides map[string]any

	// Tools are in-process tools offered next to the MCP servers. On a name
	// clash they win.
	Tools []tools.Tool

	// Logger overrides the logger built from logging.level/logging.format.
	Logger *slog.Logger
}

func DefaultConfig() Config {
	return Config{
		Overrides: map[string]any{},
	}
}

func (c *Config) Set(key string, value any) {
	if c == nil {
		return
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	if c.Overrides == nil {
		c.Overrides = map[string]any{}
	}
	c.Overrides[key] = value
}

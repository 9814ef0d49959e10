package config

import (
	"fmt"
	"strings"

	"github.com/caarlos0/env/v11"
)

// Overrides are process-environment settings layered on top of the config
// file. They win over file values and survive hot reloads.
type Overrides struct {
	// ConfigPath replaces the -config flag value when set.
	ConfigPath string `env:"BROKER_CONFIG"`

	// Node replaces node from the config file.
	Node string `env:"BROKER_NODE"`

	// LogLevel replaces logging.level from the config file.
	LogLevel string `env:"BROKER_LOG_LEVEL"`
}

// LoadOverrides reads override values from the process environment.
func LoadOverrides() (Overrides, error) {
	var o Overrides
	if err := env.Parse(&o); err != nil {
		return Overrides{}, fmt.Errorf("parse env overrides: %w", err)
	}
	return o, nil
}

// Apply mutates cfg with any set override values. Nil cfg is a no-op.
func (o Overrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if v := strings.TrimSpace(o.Node); v != "" {
		cfg.Node = v
	}
	if v := strings.TrimSpace(o.LogLevel); v != "" {
		cfg.Logging.Level = v
	}
}

package config

import "testing"

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("BROKER_CONFIG", "/etc/broker/config.yaml")
	t.Setenv("BROKER_NODE", "env-node")
	t.Setenv("BROKER_LOG_LEVEL", "debug")

	o, err := LoadOverrides()
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	if o.ConfigPath != "/etc/broker/config.yaml" || o.Node != "env-node" || o.LogLevel != "debug" {
		t.Fatalf("unexpected overrides: %+v", o)
	}
}

func TestOverridesApply(t *testing.T) {
	t.Parallel()

	cfg := &Config{Node: "file-node", Logging: LoggingConfig{Level: "INFO"}}
	Overrides{Node: "env-node", LogLevel: "warn"}.Apply(cfg)
	if cfg.Node != "env-node" || cfg.Logging.Level != "warn" {
		t.Fatalf("overrides not applied: %+v", cfg)
	}

	// Empty override values leave the file values alone.
	cfg = &Config{Node: "file-node", Logging: LoggingConfig{Level: "INFO"}}
	Overrides{Node: "  "}.Apply(cfg)
	if cfg.Node != "file-node" || cfg.Logging.Level != "INFO" {
		t.Fatalf("blank overrides clobbered config: %+v", cfg)
	}

	// Nil config is a no-op, not a panic.
	Overrides{Node: "x"}.Apply(nil)
}

package app

import (
	"fmt"
	"strings"
	"time"

	"github.com/Asitha/message-broker/internal/config"
	"github.com/Asitha/message-broker/internal/maintenance"
	"github.com/Asitha/message-broker/internal/ops"
	"github.com/Asitha/message-broker/internal/storage"
	"github.com/Asitha/message-broker/internal/task"
)

// validateConfig is the gate for both startup and hot reload: a config that
// fails here is never committed or published.
func validateConfig(cfg *config.Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if cfg.Task.Workers < 0 {
		return fmt.Errorf("task.workers must be >= 0")
	}
	if cfg.Task.FailureLogPerSec < 0 {
		return fmt.Errorf("task.failure_log_per_sec must be >= 0")
	}
	if cfg.Connections.MaxReapPerCycle < 0 {
		return fmt.Errorf("connections.max_reap_per_cycle must be >= 0")
	}
	if cfg.Queues.StatsBatch < 0 {
		return fmt.Errorf("queues.stats_batch must be >= 0")
	}
	if _, err := mapTaskConfig(cfg); err != nil {
		return err
	}
	if _, err := config.ParseDurationField("connections.idle_timeout", cfg.Connections.IdleTimeout); err != nil {
		return err
	}
	if _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapMaintenanceConfig(cfg); err != nil {
		return err
	}
	if _, err := mapOpsConfig(cfg); err != nil {
		return err
	}
	return nil
}

func mapTaskConfig(cfg *config.Config) (task.Config, error) {
	if cfg == nil {
		return task.Config{}, nil
	}
	idle, err := config.ParseDurationOrDefault("task.idle_wait", cfg.Task.IdleWait, 500*time.Millisecond)
	if err != nil {
		return task.Config{}, err
	}
	return task.Config{Workers: cfg.Task.Workers, IdleWait: idle}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.TrimSpace(sc.Driver)
	if driver == "" || strings.EqualFold(driver, "none") {
		return storage.Config{}, false, nil
	}
	path := strings.TrimSpace(sc.Path)

	dl := strings.ToLower(driver)
	switch dl {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: dl, Path: path, BusyTimeout: busy}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", driver)
	}
}

func mapMaintenanceConfig(cfg *config.Config) (maintenance.Config, error) {
	if cfg == nil || cfg.Maintenance == nil {
		return maintenance.Config{}, nil
	}
	mc := cfg.Maintenance
	out := maintenance.Config{
		Enabled:   mc.Enabled,
		PruneSpec: strings.TrimSpace(mc.PruneSpec),
		Timezone:  strings.TrimSpace(mc.Timezone),
	}
	if out.PruneSpec != "" {
		if err := maintenance.ValidateSpec(out.PruneSpec); err != nil {
			return maintenance.Config{}, fmt.Errorf("maintenance.prune_spec: %w", err)
		}
	}
	if out.Timezone != "" {
		if _, err := time.LoadLocation(out.Timezone); err != nil {
			return maintenance.Config{}, fmt.Errorf("maintenance.timezone: invalid %q: %w", out.Timezone, err)
		}
	}
	retention, err := config.ParseDurationField("maintenance.retention", mc.Retention)
	if err != nil {
		return maintenance.Config{}, err
	}
	out.Retention = retention
	return out, nil
}

func mapOpsConfig(cfg *config.Config) (ops.Config, error) {
	if cfg == nil {
		return ops.Config{}, nil
	}
	oc := cfg.Ops
	if oc.BlockProfileRate < 0 {
		return ops.Config{}, fmt.Errorf("ops.block_profile_rate must be >= 0")
	}
	if oc.MutexProfileFraction < 0 {
		return ops.Config{}, fmt.Errorf("ops.mutex_profile_fraction must be >= 0")
	}

	read, err := config.ParseDurationOrDefault("ops.read_timeout", oc.ReadTimeout, 5*time.Second)
	if err != nil {
		return ops.Config{}, err
	}
	// Write timeout stays 0 unless set: pprof captures can run 30s+.
	write, err := config.ParseDurationField("ops.write_timeout", oc.WriteTimeout)
	if err != nil {
		return ops.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("ops.idle_timeout", oc.IdleTimeout, 60*time.Second)
	if err != nil {
		return ops.Config{}, err
	}

	addr := strings.TrimSpace(oc.Addr)
	if addr == "" {
		addr = "127.0.0.1:7272"
	}
	return ops.Config{
		Enabled:              oc.Enabled,
		Addr:                 addr,
		Token:                strings.TrimSpace(oc.Token),
		AllowInsecure:        oc.AllowInsecure,
		Pprof:                oc.Pprof,
		BlockProfileRate:     oc.BlockProfileRate,
		MutexProfileFraction: oc.MutexProfileFraction,
		ReadTimeout:          read,
		WriteTimeout:         write,
		IdleTimeout:          idle,
	}, nil
}

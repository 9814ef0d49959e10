package config

type Config struct {
	// Node names this broker instance in logs and stats rows.
	Node string `json:"node,omitempty"`

	Logging LoggingConfig `json:"logging"`

	// Task controls the shared housekeeping scheduler (workers + delay queue).
	Task TaskConfig `json:"task"`

	// Connections controls idle connection cleanup.
	Connections ConnectionsConfig `json:"connections"`

	// Queues controls queue bookkeeping (stats batching).
	Queues QueuesConfig `json:"queues"`

	// Storage is the optional persistence layer for queue statistics.
	// Nil means disabled (driver "none").
	Storage *StorageConfig `json:"storage,omitempty"`

	// Maintenance controls scheduled retention jobs. Nil means disabled.
	Maintenance *MaintenanceConfig `json:"maintenance,omitempty"`

	Ops OpsConfig `json:"ops,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// TaskConfig controls the recurring-task scheduler.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - workers: 2
//   - idle_wait: "500ms"
//   - failure_log_per_sec: 1
type TaskConfig struct {
	Workers int `json:"workers,omitempty"`

	// IdleWait is the backoff applied after a task reports no work found.
	IdleWait string `json:"idle_wait,omitempty"`

	// FailureLogPerSec caps how many task failures are written to the log
	// per second. Failures beyond the cap are still counted, just not logged.
	FailureLogPerSec int `json:"failure_log_per_sec,omitempty"`
}

// ConnectionsConfig controls the idle-connection reaper task.
//
// Defaults (when fields are omitted/zero):
//   - idle_timeout: "2m"
//   - max_reap_per_cycle: 64
type ConnectionsConfig struct {
	// IdleTimeout is a Go duration string. Connections with no activity for
	// longer than this are closed by the reaper.
	IdleTimeout string `json:"idle_timeout,omitempty"`

	// MaxReapPerCycle bounds how many connections one reaper cycle may close.
	MaxReapPerCycle int `json:"max_reap_per_cycle,omitempty"`
}

// QueuesConfig controls queue bookkeeping.
//
// Defaults (when fields are omitted/zero):
//   - stats_batch: 32
type QueuesConfig struct {
	// StatsBatch caps how many per-queue stat rows are persisted per flush
	// cycle. Queues left dirty roll over to the next cycle.
	StatsBatch int `json:"stats_batch,omitempty"`
}

// StorageConfig controls the optional persistence layer.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./broker_store" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)
}

// MaintenanceConfig controls scheduled retention jobs.
//
// PruneSpec is a standard 5-field cron expression evaluated in Timezone.
type MaintenanceConfig struct {
	Enabled   bool   `json:"enabled"`
	PruneSpec string `json:"prune_spec,omitempty"` // default: "17 3 * * *"
	Timezone  string `json:"timezone,omitempty"`   // default: process-local
	Retention string `json:"retention,omitempty"`  // Go duration string, default: "168h"
}

// OpsConfig controls the operational HTTP listener (health, status, pprof).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:7272").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type OpsConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:7272"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Pprof exposes /debug/pprof/ on the same listener when enabled.
	Pprof bool `json:"pprof,omitempty"`

	// Runtime profiling rates, applied even when the listener is disabled.
	// 0 keeps the Go default.
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so pprof profile captures (which can take 30s+) work reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

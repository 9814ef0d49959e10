package config

import (
	"reflect"
	"sort"
	"strings"

	logx "github.com/Asitha/message-broker/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 6)
	attrs := make([]logx.Field, 0, 20)

	if strings.TrimSpace(oldCfg.Node) != strings.TrimSpace(newCfg.Node) {
		changed = append(changed, "node")
		attrs = append(attrs, logx.String("node", strings.TrimSpace(newCfg.Node)))
	}

	// Logging
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	// Task scheduler
	if !reflect.DeepEqual(oldCfg.Task, newCfg.Task) {
		changed = append(changed, "task")
		attrs = append(attrs,
			logx.Int("task.workers", newCfg.Task.Workers),
			logx.String("task.idle_wait", strings.TrimSpace(newCfg.Task.IdleWait)),
			logx.Int("task.failure_log_per_sec", newCfg.Task.FailureLogPerSec),
		)
	}

	// Connection reaper
	if !reflect.DeepEqual(oldCfg.Connections, newCfg.Connections) {
		changed = append(changed, "connections")
		attrs = append(attrs,
			logx.String("connections.idle_timeout", strings.TrimSpace(newCfg.Connections.IdleTimeout)),
			logx.Int("connections.max_reap_per_cycle", newCfg.Connections.MaxReapPerCycle),
		)
	}

	// Queue bookkeeping
	if !reflect.DeepEqual(oldCfg.Queues, newCfg.Queues) {
		changed = append(changed, "queues")
		attrs = append(attrs, logx.Int("queues.stats_batch", newCfg.Queues.StatsBatch))
	}

	// Storage (persistence). Nil means disabled.
	var oDriver, nDriver, oBusy, nBusy string
	var oPathSet, nPathSet bool
	if oldCfg.Storage != nil {
		oDriver = strings.TrimSpace(oldCfg.Storage.Driver)
		oBusy = strings.TrimSpace(oldCfg.Storage.BusyTimeout)
		oPathSet = strings.TrimSpace(oldCfg.Storage.Path) != ""
	}
	if newCfg.Storage != nil {
		nDriver = strings.TrimSpace(newCfg.Storage.Driver)
		nBusy = strings.TrimSpace(newCfg.Storage.BusyTimeout)
		nPathSet = strings.TrimSpace(newCfg.Storage.Path) != ""
	}
	if oDriver != nDriver || oBusy != nBusy || oPathSet != nPathSet {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", nDriver),
			logx.Bool("storage.path_set", nPathSet),
			logx.String("storage.busy_timeout", nBusy),
		)
	}

	// Maintenance. Nil means disabled.
	oM := derefMaintenance(oldCfg.Maintenance)
	nM := derefMaintenance(newCfg.Maintenance)
	if (oldCfg.Maintenance != nil) != (newCfg.Maintenance != nil) || !reflect.DeepEqual(oM, nM) {
		changed = append(changed, "maintenance")
		attrs = append(attrs,
			logx.Bool("maintenance.enabled", nM.Enabled),
			logx.String("maintenance.prune_spec", strings.TrimSpace(nM.PruneSpec)),
			logx.String("maintenance.timezone", strings.TrimSpace(nM.Timezone)),
			logx.String("maintenance.retention", strings.TrimSpace(nM.Retention)),
		)
	}

	// Ops (never log token)
	if oldCfg.Ops.Enabled != newCfg.Ops.Enabled ||
		strings.TrimSpace(oldCfg.Ops.Addr) != strings.TrimSpace(newCfg.Ops.Addr) ||
		oldCfg.Ops.AllowInsecure != newCfg.Ops.AllowInsecure ||
		oldCfg.Ops.Pprof != newCfg.Ops.Pprof ||
		oldCfg.Ops.BlockProfileRate != newCfg.Ops.BlockProfileRate ||
		oldCfg.Ops.MutexProfileFraction != newCfg.Ops.MutexProfileFraction ||
		strings.TrimSpace(oldCfg.Ops.ReadTimeout) != strings.TrimSpace(newCfg.Ops.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Ops.WriteTimeout) != strings.TrimSpace(newCfg.Ops.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Ops.IdleTimeout) != strings.TrimSpace(newCfg.Ops.IdleTimeout) ||
		(strings.TrimSpace(oldCfg.Ops.Token) != "") != (strings.TrimSpace(newCfg.Ops.Token) != "") {
		changed = append(changed, "ops")
		attrs = append(attrs,
			logx.Bool("ops.enabled", newCfg.Ops.Enabled),
			logx.String("ops.addr", strings.TrimSpace(newCfg.Ops.Addr)),
			logx.Bool("ops.pprof", newCfg.Ops.Pprof),
			logx.Bool("ops.token_set", strings.TrimSpace(newCfg.Ops.Token) != ""),
			logx.Bool("ops.allow_insecure", newCfg.Ops.AllowInsecure),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

func derefMaintenance(m *MaintenanceConfig) MaintenanceConfig {
	if m == nil {
		return MaintenanceConfig{}
	}
	return *m
}

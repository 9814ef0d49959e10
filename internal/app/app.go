package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Asitha/message-broker/internal/broker"
	"github.com/Asitha/message-broker/internal/config"
	"github.com/Asitha/message-broker/internal/eventbus"
	"github.com/Asitha/message-broker/internal/maintenance"
	"github.com/Asitha/message-broker/internal/ops"
	rtsup "github.com/Asitha/message-broker/internal/runtime/supervisor"
	"github.com/Asitha/message-broker/internal/storage"
	"github.com/Asitha/message-broker/internal/task"
	logx "github.com/Asitha/message-broker/pkg/logx"
	"github.com/Asitha/message-broker/pkg/sdnotify"
)

// App wires the broker process together: config, logging, the connection
// and queue registries, the housekeeping scheduler, and the optional
// storage/maintenance/ops services.
type App struct {
	cfgPath string

	cfgm *config.ConfigManager
	sup  *rtsup.Supervisor

	log   logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	conns  *broker.Connections
	queues *broker.Queues

	tasks   *task.Service
	flusher *broker.Flusher
	maint   *maintenance.Service
	ops     *ops.Service

	startedAt time.Time
}

func NewApp(cfgPath string) (*App, error) {
	// Environment overrides win over the flag and the file, and are
	// re-applied on every reload.
	ov, err := config.LoadOverrides()
	if err != nil {
		return nil, err
	}
	if p := strings.TrimSpace(ov.ConfigPath); p != "" {
		cfgPath = p
	}

	cfgm := config.NewConfigManager(cfgPath)
	cfgm.SetOverrides(ov)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	idleTimeout, err := config.ParseDurationOrDefault("connections.idle_timeout", cfg.Connections.IdleTimeout, 2*time.Minute)
	if err != nil {
		return nil, err
	}
	conns := broker.NewConnections(idleTimeout, log.With(logx.String("comp", "connections")), bus)
	queues := broker.NewQueues(log.With(logx.String("comp", "queues")), bus)

	taskCfg, err := mapTaskConfig(cfg)
	if err != nil {
		return nil, err
	}
	handler := task.NewLogHandler(log.With(logx.String("comp", "tasks")), cfg.Task.FailureLogPerSec)
	tasks := task.NewService(taskCfg, handler, log.With(logx.String("comp", "tasks")), bus)

	reaper := broker.NewReaper(conns, cfg.Connections.MaxReapPerCycle, log.With(logx.String("comp", "reaper")))
	if err := tasks.Add(reaper); err != nil {
		return nil, err
	}

	// The flusher only exists when there is a store to flush into.
	var flusher *broker.Flusher
	if store != nil {
		flusher = broker.NewFlusher(queues, store, cfg.Queues.StatsBatch, log.With(logx.String("comp", "statsflush")))
		if err := tasks.Add(flusher); err != nil {
			return nil, err
		}
	}

	mcfg, err := mapMaintenanceConfig(cfg)
	if err != nil {
		return nil, err
	}
	maint := maintenance.New(mcfg, store, log.With(logx.String("comp", "maintenance")), bus)

	a := &App{
		cfgPath: cfgPath,
		cfgm:    cfgm,
		log:     log,
		logs:    logSvc,
		bus:     bus,
		store:   store,
		conns:   conns,
		queues:  queues,
		tasks:   tasks,
		flusher: flusher,
		maint:   maint,
	}

	opsCfg, err := mapOpsConfig(cfg)
	if err != nil {
		return nil, err
	}
	a.ops = ops.New(opsCfg, a.status, log.With(logx.String("comp", "ops")))

	return a, nil
}

// Connections exposes the connection registry so transports can register
// their sessions.
func (a *App) Connections() *broker.Connections { return a.conns }

// Queues exposes the queue registry.
func (a *App) Queues() *broker.Queues { return a.queues }

// Tasks exposes the housekeeping scheduler so embedding code can add its
// own recurring tasks.
func (a *App) Tasks() *task.Service { return a.tasks }

// Done is closed when the app supervisor context is canceled (fatal error
// or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.startedAt = time.Now()
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// Transactional config reload: validate before commit/publish.
	a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(c context.Context, cfg *config.Config) error {
		return validateConfig(cfg)
	})

	a.tasks.Start(a.sup.Context())
	if err := a.maint.Start(); err != nil {
		return err
	}
	if a.ops.Enabled() {
		a.ops.Start(a.sup.Context())
	}

	// Event log for observability/debug (components can also subscribe
	// themselves).
	events, unsub := a.bus.Subscribe(128)
	a.sup.Go0("eventbus.log", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				// Keep this debug-level; reapers and flushers publish often.
				a.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
			}
		}
	})

	// Hot reload config fan-out.
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfgm.Get()
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config.
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						goto APPLY
					}
				}
			APPLY:
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	// Feed the systemd watchdog when one is armed for the unit.
	if iv := sdnotify.WatchdogInterval(); iv > 0 {
		a.sup.Go0("systemd.watchdog", func(c context.Context) {
			t := time.NewTicker(iv)
			defer t.Stop()
			for {
				select {
				case <-c.Done():
					return
				case <-t.C:
					sdnotify.Ping()
				}
			}
		})
		a.log.Debug("systemd watchdog armed", logx.Duration("interval", iv))
	}
	if sdnotify.Ready() {
		a.log.Debug("systemd readiness reported")
	}

	a.log.Info("broker started",
		logx.String("node", nodeName(a.cfgm.Get())),
		logx.Int("tasks", len(a.tasks.Snapshot().Tasks)))
	return nil
}

// applyConfig pushes a validated config into the running services.
func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Debug("config change summary", fields...)

	a.logs.Apply(logx.Config{
		Level:   next.Logging.Level,
		Console: next.Logging.Console,
		File: logx.FileConfig{
			Enabled: next.Logging.File.Enabled,
			Path:    next.Logging.File.Path,
		},
	})

	if d, err := config.ParseDurationOrDefault("connections.idle_timeout", next.Connections.IdleTimeout, 2*time.Minute); err != nil {
		a.log.Warn("invalid connections config; keeping previous", logx.Any("err", err))
	} else {
		a.conns.SetIdleTimeout(d)
	}

	if tcfg, err := mapTaskConfig(next); err != nil {
		a.log.Warn("invalid task config; keeping previous", logx.Any("err", err))
	} else if err := a.tasks.Apply(ctx, tcfg); err != nil {
		a.log.Warn("task scheduler reconfigure failed", logx.Any("err", err))
	}

	if mcfg, err := mapMaintenanceConfig(next); err != nil {
		a.log.Warn("invalid maintenance config; keeping previous", logx.Any("err", err))
	} else if err := a.maint.Apply(ctx, mcfg); err != nil {
		a.log.Warn("maintenance reconfigure failed", logx.Any("err", err))
	}

	if ocfg, err := mapOpsConfig(next); err != nil {
		a.log.Warn("invalid ops config; keeping previous", logx.Any("err", err))
	} else {
		a.ops.Reconfigure(ctx, ocfg)
	}

	// Settings baked in at construction need a restart.
	for _, s := range sections {
		switch s {
		case "storage":
			a.log.Warn("storage config changed; restart required for changes to take effect")
		case "queues":
			a.log.Warn("queues.stats_batch changed; restart required for changes to take effect")
		case "connections":
			if prev != nil && prev.Connections.MaxReapPerCycle != next.Connections.MaxReapPerCycle {
				a.log.Warn("connections.max_reap_per_cycle changed; restart required for changes to take effect")
			}
		}
	}

	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	sdnotify.Stopping()

	// Cancel the run context first so background loops start unwinding
	// immediately.
	a.sup.Cancel()

	// Run a shutdown step with an upper bound so one component can't stall
	// the whole stop.
	step := func(name string, max time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

		stepCtx := ctx
		var cancel context.CancelFunc
		if max > 0 {
			// Respect the caller's deadline; never extend it.
			if dl, ok := ctx.Deadline(); ok {
				rem := time.Until(dl)
				if rem <= 0 {
					max = 0
				} else if rem < max {
					max = rem
				}
			}
			if max > 0 {
				stepCtx, cancel = context.WithTimeout(ctx, max)
				defer cancel()
			}
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.String("err", err.Error()))
			}
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", time.Since(start)))
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.String("err", stepCtx.Err().Error()),
				logx.Duration("elapsed", time.Since(start)))
		}
	}

	step("tasks", 3*time.Second, func(c context.Context) error { return a.tasks.Stop(c) })
	step("statsflush", 2*time.Second, func(c context.Context) error {
		if a.flusher == nil {
			return nil
		}
		n, err := a.flusher.FlushNow(c)
		if n > 0 {
			a.log.Info("final stats flush", logx.Int("rows", n))
		}
		return err
	})
	step("maintenance", 2*time.Second, func(c context.Context) error { return a.maint.Stop(c) })
	step("ops", time.Second, func(c context.Context) error { a.ops.Stop(c); return nil })
	step("storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	// Finally, wait for supervised goroutines (config watch/reload, event
	// log, watchdog).
	step("supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}

func nodeName(cfg *config.Config) string {
	if cfg == nil {
		return ""
	}
	return strings.TrimSpace(cfg.Node)
}

package maintenance

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Asitha/message-broker/internal/eventbus"
	"github.com/Asitha/message-broker/internal/storage"
	logx "github.com/Asitha/message-broker/pkg/logx"
)

// Config configures the maintenance service.
//
// Defaults (applied in New):
//   - PruneSpec: "17 3 * * *" (03:17 every night)
//   - Retention: 168h
//   - Timezone: process local time
type Config struct {
	Enabled   bool
	PruneSpec string
	Timezone  string
	Retention time.Duration
}

// PruneEvent is the bus payload for maintenance.pruned.
type PruneEvent struct {
	Removed   int64  `json:"removed"`
	Retention string `json:"retention"`
}

// Service runs scheduled upkeep that does not fit the task scheduler's
// busy/idle cadence: currently the stats retention prune.
type Service struct {
	cfg    Config
	store  storage.Store
	log    logx.Logger
	bus    eventbus.Bus
	parser cron.Parser

	mu      sync.Mutex
	c       *cron.Cron
	running bool
}

func New(cfg Config, store storage.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if strings.TrimSpace(cfg.PruneSpec) == "" {
		cfg.PruneSpec = "17 3 * * *"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 168 * time.Hour
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		cfg:    cfg,
		store:  store,
		log:    log,
		bus:    bus,
		parser: newSpecParser(),
	}
}

func newSpecParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// ValidateSpec reports whether spec parses as a five-field cron expression.
// Descriptors (@daily, @every 1h) are accepted.
func ValidateSpec(spec string) error {
	if _, err := newSpecParser().Parse(spec); err != nil {
		return fmt.Errorf("cron spec %q: %w", spec, err)
	}
	return nil
}

// Start schedules the prune job. It is a no-op when the service is disabled
// or storage is absent, and idempotent otherwise.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.cfg.Enabled {
		s.log.Debug("maintenance disabled")
		return nil
	}
	if s.store == nil {
		s.log.Debug("maintenance idle: storage disabled")
		return nil
	}
	if s.running {
		return nil
	}

	c := cron.New(cron.WithParser(s.parser), cron.WithLocation(s.location(s.cfg.Timezone)))
	retention := s.cfg.Retention
	if _, err := c.AddFunc(s.cfg.PruneSpec, func() { s.prune(retention) }); err != nil {
		return fmt.Errorf("add prune job: %w", err)
	}
	c.Start()
	s.c = c
	s.running = true

	s.log.Info("maintenance started",
		logx.String("prune_spec", s.cfg.PruneSpec),
		logx.Duration("retention", s.cfg.Retention))
	return nil
}

// Stop halts the cron runner and waits for an in-flight prune, bounded by
// ctx.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	c := s.c
	running := s.running
	s.c = nil
	s.running = false
	s.mu.Unlock()
	if !running || c == nil {
		return nil
	}

	stopped := c.Stop()
	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Apply reconfigures the prune schedule. A running service is restarted so
// the new spec takes effect; an in-flight prune finishes first.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	if strings.TrimSpace(cfg.PruneSpec) == "" {
		cfg.PruneSpec = "17 3 * * *"
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 168 * time.Hour
	}

	s.mu.Lock()
	same := cfg == s.cfg
	s.mu.Unlock()
	if same {
		return nil
	}

	if err := s.Stop(ctx); err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return s.Start()
}

func (s *Service) prune(retention time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-retention)
	removed, err := s.store.PruneQueueStats(ctx, cutoff)
	if err != nil {
		s.log.Error("stats prune failed", logx.Err(err))
		return
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "maintenance.pruned", Data: PruneEvent{
			Removed:   removed,
			Retention: retention.String(),
		}})
	}
	s.log.Info("stats pruned",
		logx.Int64("removed", removed),
		logx.Time("cutoff", cutoff))
}

func (s *Service) location(tz string) *time.Location {
	tz = strings.TrimSpace(tz)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to local",
			logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

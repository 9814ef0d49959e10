package task

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Asitha/message-broker/internal/eventbus"
	rtsup "github.com/Asitha/message-broker/internal/runtime/supervisor"
	logx "github.com/Asitha/message-broker/pkg/logx"
)

// Config controls the scheduler service.
//
// Defaults (when fields are omitted/zero):
//   - Workers: 2
//   - IdleWait: 500ms
type Config struct {
	Workers int

	// IdleWait is the backoff applied after a task reports IDLE.
	IdleWait time.Duration
}

// TaskEvent is emitted on the event bus for task lifecycle events
// (task.added, task.removed, task.failed).
type TaskEvent struct {
	ID    string `json:"id"`
	Error string `json:"error,omitempty"`
}

// TaskInfo describes one registered task.
type TaskInfo struct {
	ID       string `json:"id"`
	Disabled bool   `json:"disabled"`
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Running   bool          `json:"running"`
	Workers   int           `json:"workers"`
	IdleWait  time.Duration `json:"idle_wait"`
	QueueSize int           `json:"queue_size"`
	Tasks     []TaskInfo    `json:"tasks"`
}

// Service owns the shared delay queue, the task registry, and the pool of
// processors draining the queue. Tasks may be added and removed while the
// service is running.
type Service struct {
	cfg     Config
	log     logx.Logger
	bus     eventbus.Bus
	queue   *DelayQueue
	handler ExceptionHandler

	mu      sync.Mutex
	holders map[string]*Holder
	procs   []*Processor
	sup     *rtsup.Supervisor
	running bool
}

func NewService(cfg Config, handler ExceptionHandler, log logx.Logger, bus eventbus.Bus) *Service {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 500 * time.Millisecond
	}
	s := &Service{
		cfg:     cfg,
		log:     log,
		bus:     bus,
		queue:   NewDelayQueue(),
		holders: make(map[string]*Holder),
	}
	// Failures flow through the bus first so subscribers see them even when
	// the installed handler swallows them.
	s.handler = ExceptionHandlerFunc(func(err error, taskID string) {
		if s.bus != nil {
			errStr := ""
			if err != nil {
				errStr = err.Error()
			}
			s.bus.Publish(eventbus.Event{Type: "task.failed", Data: TaskEvent{ID: taskID, Error: errStr}})
		}
		if handler != nil {
			handler.HandleException(err, taskID)
		}
	})
	return s
}

// Add admits a task to the scheduler and makes it eligible immediately.
// Adding is allowed both before Start and while running.
func (s *Service) Add(t Task) error {
	if t == nil {
		return ErrNilTask
	}
	h := NewHolder(t)
	id := h.ID()
	if id == "" {
		return ErrEmptyTaskID
	}

	s.mu.Lock()
	if _, dup := s.holders[id]; dup {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrDuplicateTask, id)
	}
	s.holders[id] = h
	s.mu.Unlock()

	h.OnAdd()
	h.SetDelay(0)
	s.queue.Put(h)

	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "task.added", Data: TaskEvent{ID: id}})
	}
	s.log.Info("task added", logx.String("task", id))
	return nil
}

// Remove retires the task with the given id. An in-flight execution still
// finishes; the processor fires the task's OnRemove hook at the next
// reschedule that observes the disabled flag.
func (s *Service) Remove(id string) error {
	id = strings.TrimSpace(id)

	s.mu.Lock()
	h, ok := s.holders[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownTask, id)
	}
	delete(s.holders, id)
	s.mu.Unlock()

	h.Disable()
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: "task.removed", Data: TaskEvent{ID: id}})
	}
	s.log.Info("task removal requested", logx.String("task", id))
	return nil
}

// Start provisions the worker pool. It is idempotent. Processors are built
// fresh on every start because each instance is single-use.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	workers := s.cfg.Workers

	s.sup = rtsup.NewSupervisor(ctx,
		rtsup.WithLogger(s.log.With(logx.String("comp", "taskexec"))),
		// One worker failing should not take the others down.
		rtsup.WithCancelOnError(false),
	)
	sup := s.sup
	s.procs = make([]*Processor, 0, workers)
	for i := 0; i < workers; i++ {
		p := NewProcessor(s.queue, s.handler, s.cfg.IdleWait, s.log.With(logx.Int("worker", i)))
		s.procs = append(s.procs, p)
		sup.Go(fmt.Sprintf("processor.%d", i), p.Run)
	}
	s.mu.Unlock()

	s.log.Info("task scheduler started", logx.Int("workers", workers), logx.Duration("idle_wait", s.cfg.IdleWait))
}

// Stop deactivates every processor, unwinds blocked takes, and waits for the
// workers to exit or ctx to expire. The service can be started again after
// Stop; registered tasks and queue contents survive the restart.
func (s *Service) Stop(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	procs := s.procs
	sup := s.sup
	s.procs = nil
	s.sup = nil
	s.mu.Unlock()

	// Deactivate first so a take failing due to cancellation reads as
	// expected shutdown, not a reportable fault.
	for _, p := range procs {
		p.Deactivate()
	}
	if sup == nil {
		return nil
	}
	return sup.Stop(ctx)
}

// Apply reconfigures the worker pool. When the service is running it is
// restarted with the new settings; registered tasks and queued work survive
// the restart.
func (s *Service) Apply(ctx context.Context, cfg Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.IdleWait <= 0 {
		cfg.IdleWait = 500 * time.Millisecond
	}

	s.mu.Lock()
	same := cfg == s.cfg
	running := s.running
	s.mu.Unlock()
	if same {
		return nil
	}

	if running {
		stopCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := s.Stop(stopCtx)
		cancel()
		if err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()

	if running {
		s.Start(ctx)
	}
	return nil
}

// Supervisor returns the scheduler's internal supervisor (nil if not started).
// Used for operational visibility.
func (s *Service) Supervisor() *rtsup.Supervisor {
	s.mu.Lock()
	sup := s.sup
	s.mu.Unlock()
	return sup
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Running:  s.running,
		Workers:  s.cfg.Workers,
		IdleWait: s.cfg.IdleWait,
		Tasks:    make([]TaskInfo, 0, len(s.holders)),
	}
	for id, h := range s.holders {
		snap.Tasks = append(snap.Tasks, TaskInfo{ID: id, Disabled: h.Disabled()})
	}
	s.mu.Unlock()

	snap.QueueSize = s.queue.Len()
	sort.Slice(snap.Tasks, func(i, j int) bool { return snap.Tasks[i].ID < snap.Tasks[j].ID })
	return snap
}

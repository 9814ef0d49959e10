package broker

import (
	"context"
	"time"

	"github.com/Asitha/message-broker/internal/task"
	logx "github.com/Asitha/message-broker/pkg/logx"
)

// ReaperTaskID is the scheduler id of the connection reaper.
const ReaperTaskID = "connection-reaper"

// Reaper is the housekeeping task that sweeps idle connections. One sweep
// closes at most maxPerCycle connections; a full batch reports BUSY so the
// scheduler comes straight back for the rest.
type Reaper struct {
	conns *Connections
	max   int
	log   logx.Logger
}

func NewReaper(conns *Connections, maxPerCycle int, log logx.Logger) *Reaper {
	if maxPerCycle <= 0 {
		maxPerCycle = 64
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Reaper{conns: conns, max: maxPerCycle, log: log}
}

func (r *Reaper) ID() string { return ReaperTaskID }

func (r *Reaper) Run(ctx context.Context) (task.Hint, error) {
	reaped := r.conns.ReapIdle(time.Now(), r.max)
	if len(reaped) == r.max {
		// The cap cut the sweep short; assume more are waiting.
		return task.HintBusy, nil
	}
	return task.HintIdle, nil
}

func (r *Reaper) OnAdd() {
	r.log.Debug("connection reaper scheduled",
		logx.Duration("idle_timeout", r.conns.IdleTimeout()),
		logx.Int("max_per_cycle", r.max))
}

func (r *Reaper) OnRemove() {
	r.log.Debug("connection reaper retired")
}

package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/Asitha/message-broker/internal/storage"
	"github.com/Asitha/message-broker/internal/task"
	logx "github.com/Asitha/message-broker/pkg/logx"
)

// FlusherTaskID is the scheduler id of the queue stats flusher.
const FlusherTaskID = "queue-stats-flusher"

// Flusher is the housekeeping task that persists queue counter deltas.
// Every run writes at most one batch of rows; queues whose counters did not
// move since the previous flush produce no row. A failed append leaves the
// deltas pending, so the scheduler's retry cycle picks them up again.
type Flusher struct {
	queues *Queues
	store  storage.Store
	batch  int
	log    logx.Logger

	mu   sync.Mutex
	last map[string]QueueCounters // totals as of the last successful flush
}

// NewFlusher wires the flusher to a registry and an open store. store must
// be non-nil; when storage is disabled the app does not schedule a flusher.
func NewFlusher(queues *Queues, store storage.Store, batch int, log logx.Logger) *Flusher {
	if batch <= 0 {
		batch = 32
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Flusher{
		queues: queues,
		store:  store,
		batch:  batch,
		log:    log,
		last:   make(map[string]QueueCounters),
	}
}

func (f *Flusher) ID() string { return FlusherTaskID }

func (f *Flusher) Run(ctx context.Context) (task.Hint, error) {
	_, more, err := f.flushOnce(ctx)
	if err != nil {
		return task.HintBusy, err
	}
	if more {
		return task.HintBusy, nil
	}
	return task.HintIdle, nil
}

// FlushNow drains every pending delta, batch by batch. Used on shutdown so
// the tail of the stats is not lost.
func (f *Flusher) FlushNow(ctx context.Context) (int, error) {
	total := 0
	for {
		n, more, err := f.flushOnce(ctx)
		total += n
		if err != nil {
			return total, err
		}
		if !more {
			return total, nil
		}
	}
}

// flushOnce writes at most one batch of dirty-queue rows. more reports
// whether the cap left dirty queues behind.
func (f *Flusher) flushOnce(ctx context.Context) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	now := time.Now()
	names := f.queues.Names()

	// Forget totals for queues that no longer exist.
	alive := make(map[string]struct{}, len(names))
	for _, name := range names {
		alive[name] = struct{}{}
	}
	for name := range f.last {
		if _, ok := alive[name]; !ok {
			delete(f.last, name)
		}
	}

	rows := make([]storage.QueueStat, 0, f.batch)
	flushed := make(map[string]QueueCounters, f.batch)
	more := false
	for _, name := range names {
		q, ok := f.queues.Get(name)
		if !ok {
			continue
		}
		cur := q.Counters()
		prev := f.last[name]
		dPub := cur.Published - prev.Published
		dDel := cur.Delivered - prev.Delivered
		dAck := cur.Acked - prev.Acked
		if dPub == 0 && dDel == 0 && dAck == 0 {
			continue
		}
		if len(rows) == f.batch {
			more = true
			break
		}
		rows = append(rows, storage.QueueStat{
			At:        now,
			Queue:     name,
			Depth:     cur.Depth,
			Published: dPub,
			Delivered: dDel,
			Acked:     dAck,
		})
		flushed[name] = cur
	}
	if len(rows) == 0 {
		return 0, false, nil
	}

	if err := f.store.AppendQueueStats(ctx, rows); err != nil {
		return 0, more, fmt.Errorf("append queue stats: %w", err)
	}
	for name, totals := range flushed {
		f.last[name] = totals
	}
	f.log.Debug("queue stats flushed", logx.Int("rows", len(rows)))
	return len(rows), more, nil
}

func (f *Flusher) OnAdd() {
	f.log.Debug("queue stats flusher scheduled", logx.Int("batch", f.batch))
}

// OnRemove makes a last flush attempt so retiring the task does not strand
// accumulated deltas.
func (f *Flusher) OnRemove() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if n, err := f.FlushNow(ctx); err != nil {
		f.log.Warn("final stats flush failed", logx.Int("rows", n), logx.Err(err))
	}
	f.log.Debug("queue stats flusher retired")
}

package task

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

// Holder pairs one Task with its scheduling state: the next-eligible time the
// delay queue orders on, and the disabled flag read at the reschedule step.
// The holder is what actually sits in the queue.
//
// Ordering invariant: eligibleAt must never be mutated while the holder is a
// member of the queue. A processor removes the holder before executing it and
// re-inserts it only after SetDelay, so holding that discipline needs no lock.
type Holder struct {
	task Task
	id   string

	disabled atomic.Bool

	// eligibleAt is written by SetDelay between take and re-insert, and read
	// by the queue while the holder is queued.
	eligibleAt time.Time
}

func NewHolder(t Task) *Holder {
	return &Holder{task: t, id: strings.TrimSpace(t.ID())}
}

// ID returns the stable identifier used for diagnostics and error correlation.
func (h *Holder) ID() string { return h.id }

// Execute runs one cycle of the wrapped task. Failures propagate unmodified:
// isolating them is the processor's job, not the holder's.
func (h *Holder) Execute(ctx context.Context) (Hint, error) {
	return h.task.Run(ctx)
}

// SetDelay makes the holder eligible again d from now.
// Must only be called while the holder is not queued.
func (h *Holder) SetDelay(d time.Duration) {
	h.eligibleAt = time.Now().Add(d)
}

// Disable requests permanent removal. An in-flight execution still completes;
// the processor retires the holder at the next reschedule step.
func (h *Holder) Disable() { h.disabled.Store(true) }

func (h *Holder) Disabled() bool { return h.disabled.Load() }

// OnAdd runs the task's admission hook.
func (h *Holder) OnAdd() { h.task.OnAdd() }

// OnRemove runs the task's retirement hook. The processor calls this exactly
// once; afterwards the holder is never executed or re-enqueued again.
func (h *Holder) OnRemove() { h.task.OnRemove() }

package task

import (
	"context"
	"fmt"
)

// Hint is a task's report of what its last run accomplished.
//
// BUSY means work was performed: the task wants to run again with no extra
// delay. IDLE means no work was found: the task should back off.
type Hint int

const (
	HintBusy Hint = iota
	HintIdle
)

func (h Hint) String() string {
	switch h {
	case HintBusy:
		return "BUSY"
	case HintIdle:
		return "IDLE"
	default:
		return fmt.Sprintf("Hint(%d)", int(h))
	}
}

// Task is a unit of recurring work driven by the scheduler.
//
// Run executes one cycle and reports whether it found work. The context is
// cancelled on shutdown, but the scheduler neither preempts nor times out a
// running task: a hung task stalls its worker indefinitely.
//
// OnAdd fires when the task is admitted to the scheduler. OnRemove fires
// exactly once, when the scheduler permanently retires the task after it was
// removed; release held resources there.
type Task interface {
	ID() string
	Run(ctx context.Context) (Hint, error)
	OnAdd()
	OnRemove()
}

// Func adapts a bare function to the Task interface with no-op lifecycle hooks.
func Func(id string, fn func(ctx context.Context) (Hint, error)) Task {
	return funcTask{id: id, fn: fn}
}

type funcTask struct {
	id string
	fn func(ctx context.Context) (Hint, error)
}

func (t funcTask) ID() string { return t.id }

func (t funcTask) Run(ctx context.Context) (Hint, error) {
	if t.fn == nil {
		return HintIdle, nil
	}
	return t.fn(ctx)
}

func (t funcTask) OnAdd()    {}
func (t funcTask) OnRemove() {}

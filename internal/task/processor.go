package task

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	logx "github.com/Asitha/message-broker/pkg/logx"
)

// Processor states. stateStopped is terminal: a processor never leaves it.
const (
	stateNew int32 = iota
	stateRunning
	stateStopped
)

// Processor is one scheduler worker. It repeatedly takes the next eligible
// holder from the shared queue, executes it, picks the follow-up delay from
// the returned hint, and re-inserts the holder (or retires it if disabled).
//
// A holder is removed from the queue before execution and re-inserted only
// afterwards, so a task never runs concurrently with itself even when many
// processors share one queue.
type Processor struct {
	queue    *DelayQueue
	handler  ExceptionHandler
	idleWait time.Duration
	log      logx.Logger

	state atomic.Int32
}

func NewProcessor(queue *DelayQueue, handler ExceptionHandler, idleWait time.Duration, log logx.Logger) *Processor {
	if idleWait < 0 {
		idleWait = 0
	}
	return &Processor{queue: queue, handler: handler, idleWait: idleWait, log: log}
}

// Run executes the scheduling loop on the calling goroutine until Deactivate
// is called or ctx is cancelled. It returns ErrAlreadyRunning when the
// processor is running or has already run: instances are single-use
// (construct, run, deactivate, discard; never restart in place).
func (p *Processor) Run(ctx context.Context) error {
	if !p.state.CompareAndSwap(stateNew, stateRunning) {
		return ErrAlreadyRunning
	}

	for p.state.Load() == stateRunning {
		if err := p.cycle(ctx); err != nil {
			// The take failed before any holder was obtained. During
			// shutdown that is expected noise; while active it is reported
			// with no task id. Either way a cancelled context cannot
			// recover, so the loop ends here.
			if p.state.Load() == stateRunning {
				p.handler.HandleException(err, "")
			}
			break
		}
	}
	p.state.Store(stateStopped)

	p.log.Info("task processor stopped", logx.Int("queue_size", p.queue.Len()))
	return nil
}

// Deactivate requests a graceful stop. It is idempotent and safe to call at
// any time; it never interrupts an in-flight execution. A blocked take is
// unwound by cancelling the context passed to Run.
func (p *Processor) Deactivate() {
	p.state.CompareAndSwap(stateRunning, stateStopped)
}

// cycle performs one take-execute-reschedule round. The returned error is
// non-nil only when the take itself failed and no holder was obtained.
func (p *Processor) cycle(ctx context.Context) error {
	holder, err := p.queue.Take(ctx)
	if err != nil {
		return err
	}

	delay := time.Duration(0)
	// The reschedule step must run no matter how execution ends.
	defer func() { p.reschedule(holder, delay) }()

	hint, err := p.execute(ctx, holder)
	if err != nil {
		// One broken task never stops the worker: report and carry on. The
		// holder is still rescheduled with no extra delay, so it gets
		// another chance next cycle.
		p.handler.HandleException(err, holder.ID())
		return nil
	}
	if hint == HintIdle {
		delay = p.idleWait
	}
	return nil
}

// execute runs the holder's task, converting a panic into a reported error so
// the loop survives tasks that blow up.
func (p *Processor) execute(ctx context.Context, h *Holder) (hint Hint, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", h.ID(), r)
			p.log.Error("task panicked", logx.String("task", h.ID()), logx.Any("panic", r), logx.Stack(string(debug.Stack())))
		}
	}()
	return h.Execute(ctx)
}

// reschedule applies the removal-or-reinsert policy: no holder means nothing
// to do; a disabled holder is retired permanently (its removal hook fires
// exactly once, here); anything else goes back in with the new delay.
func (p *Processor) reschedule(h *Holder, delay time.Duration) {
	if h == nil {
		return
	}
	if h.Disabled() {
		h.OnRemove()
		p.log.Debug("task removed", logx.String("task", h.ID()))
		return
	}
	h.SetDelay(delay)
	p.queue.Put(h)
}

package task

import (
	"sync/atomic"

	"golang.org/x/time/rate"

	logx "github.com/Asitha/message-broker/pkg/logx"
)

// ExceptionHandler receives task failures from the processors. taskID is
// empty when the failure happened while waiting for a task (no holder was
// obtained). Handlers run on the worker goroutine: they must be fast and must
// not panic.
type ExceptionHandler interface {
	HandleException(err error, taskID string)
}

// ExceptionHandlerFunc adapts a function to the ExceptionHandler interface.
type ExceptionHandlerFunc func(err error, taskID string)

func (f ExceptionHandlerFunc) HandleException(err error, taskID string) { f(err, taskID) }

// LogHandler reports task failures to the log, rate-limited so a persistently
// broken task cannot flood the sink. Suppressed failures are counted and the
// count rides along on the next entry that clears the limiter.
type LogHandler struct {
	log        logx.Logger
	limiter    *rate.Limiter
	suppressed atomic.Uint64
}

// NewLogHandler caps failure logging at perSec entries per second (minimum 1).
func NewLogHandler(log logx.Logger, perSec int) *LogHandler {
	if perSec < 1 {
		perSec = 1
	}
	return &LogHandler{
		log:     log,
		limiter: rate.NewLimiter(rate.Limit(perSec), perSec),
	}
}

func (h *LogHandler) HandleException(err error, taskID string) {
	if !h.limiter.Allow() {
		h.suppressed.Add(1)
		return
	}
	fields := []logx.Field{logx.Err(err)}
	if taskID != "" {
		fields = append(fields, logx.String("task", taskID))
	}
	if n := h.suppressed.Swap(0); n > 0 {
		fields = append(fields, logx.Uint64("suppressed", n))
	}
	h.log.Error("task failed", fields...)
}

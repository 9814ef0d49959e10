// Package task implements the broker's recurring-task scheduler: a shared
// delay-ordered queue of task holders drained by a small pool of processor
// workers.
//
// Each processor runs a take-execute-reschedule cycle. It takes the next
// eligible holder (blocking until one is due), executes its task, then
// re-inserts the holder with a delay picked from the task's hint: BUSY makes
// it eligible again immediately, IDLE backs it off by the configured idle
// wait. Failures are reported to an ExceptionHandler and never stop the
// worker. Disabled holders are retired at the reschedule step instead of
// being re-inserted.
package task

package task

import "errors"

var (
	// ErrAlreadyRunning is returned by Processor.Run when the processor is
	// running or has already completed its single run cycle.
	ErrAlreadyRunning = errors.New("task processor is already running")

	ErrNilTask       = errors.New("nil task")
	ErrEmptyTaskID   = errors.New("task id is empty")
	ErrDuplicateTask = errors.New("task already registered")
	ErrUnknownTask   = errors.New("unknown task")
)

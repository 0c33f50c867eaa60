package executor

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrInvalidTransition is returned when a connection state would move backwards.
var ErrInvalidTransition = errors.New("invalid connection state transition")

// TaskError reports a task that failed on a host. The host's remaining tasks
// are skipped.
type TaskError struct {
	Host string
	Task string
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q failed on %s: %v", e.Task, e.Host, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

// TimeoutError reports a task that exceeded its time budget. It unwraps to a
// TaskError, so errors.As matches either.
type TimeoutError struct {
	Host    string
	Task    string
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %q on %s timed out after %s", e.Task, e.Host, e.Timeout)
}

func (e *TimeoutError) Unwrap() error {
	return &TaskError{Host: e.Host, Task: e.Task, Err: context.DeadlineExceeded}
}

// IndeterminateStateError reports a non-idempotent task that was interrupted
// after it may have started changing the host. It is never retried.
type IndeterminateStateError struct {
	Host string
	Task string
	Err  error
}

func (e *IndeterminateStateError) Error() string {
	return fmt.Sprintf("task %q on %s was interrupted mid-effect, remote state is unknown: %v", e.Task, e.Host, e.Err)
}

func (e *IndeterminateStateError) Unwrap() error { return e.Err }

package taskengine

import (
	"errors"
	"fmt"
)

// ErrInterrupted marks a runner aborted by shutdown rather than by its own
// failure. The task is recorded Failed with an "interrupted" error unless
// its on-chain report already committed, in which case the resume path
// still finishes it as Success.
var ErrInterrupted = errors.New("task runner interrupted")

// ExecutionError is a task failure that retrying cannot fix, for example a
// payload that crashes deterministically. The node reports it on chain
// instead of retrying.
type ExecutionError struct {
	TaskID uint64
	Reason string
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("task %d execution failed: %s: %v", e.TaskID, e.Reason, e.Err)
	}
	return fmt.Sprintf("task %d execution failed: %s", e.TaskID, e.Reason)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// Permanent wraps err as a non-retryable execution failure.
func Permanent(taskID uint64, reason string, err error) error {
	return &ExecutionError{TaskID: taskID, Reason: reason, Err: err}
}

// IsPermanent reports whether err carries an ExecutionError anywhere in its
// chain.
func IsPermanent(err error) bool {
	var target *ExecutionError
	return errors.As(err, &target)
}

package scheduler

import (
	"errors"
	"fmt"
)

var (
	// ErrPrerequisitesNotMet is returned when a start is refused because a
	// same-episode prerequisite has not completed. The task is left untouched.
	ErrPrerequisitesNotMet = errors.New("prerequisites not met")
	// ErrAlreadyRunning is returned when starting a task that is running.
	ErrAlreadyRunning = errors.New("task already running")
	// ErrNotRunning is returned when pausing or resuming a task with no process.
	ErrNotRunning = errors.New("task not running")
	// ErrTaskFailed marks a task that ended in the failed state.
	ErrTaskFailed = errors.New("task failed")
	// ErrTaskStopped marks a task that was stopped while being awaited.
	ErrTaskStopped = errors.New("task stopped")
	// ErrTaskNotFound is returned for an unknown (episode, kind).
	ErrTaskNotFound = errors.New("task not found")
	// ErrCommandUnresolved is returned when a deferred command could not be
	// synthesized.
	ErrCommandUnresolved = errors.New("command unresolved")
)

// TaskError ties an error to the task it happened on.
type TaskError struct {
	Key Key
	Err error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }

func taskErr(key Key, err error) error {
	return &TaskError{Key: key, Err: err}
}

// failure wraps cause so that it matches both ErrTaskFailed and cause.
func failure(key Key, cause error) error {
	if cause == nil {
		return taskErr(key, ErrTaskFailed)
	}
	return taskErr(key, fmt.Errorf("%w: %w", ErrTaskFailed, cause))
}

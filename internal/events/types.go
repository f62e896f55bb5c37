package events

import (
	"time"
)

// Event is the base interface for all events.
type Event interface {
	EventType() string
	TaskID() string
}

// Topic constants
const (
	TopicTask  = "task"
	TopicGraph = "graph"
)

// Event type constants
const (
	EventTypeTaskStarted   = "task.started"
	EventTypeTaskOutput    = "task.output"
	EventTypeTaskPaused    = "task.paused"
	EventTypeTaskResumed   = "task.resumed"
	EventTypeTaskStopped   = "task.stopped"
	EventTypeTaskCompleted = "task.completed"
	EventTypeTaskFailed    = "task.failed"
	EventTypeGraphProgress = "graph.progress"
)

// TaskStartedEvent is published when a task's process has been spawned.
type TaskStartedEvent struct {
	ID        string
	Episode   string
	Kind      string
	Command   string
	RunID     string
	Timestamp time.Time
}

func (e TaskStartedEvent) EventType() string { return EventTypeTaskStarted }
func (e TaskStartedEvent) TaskID() string    { return e.ID }

// TaskOutputEvent carries one batch of relayed output lines.
type TaskOutputEvent struct {
	ID        string
	Lines     []string
	Timestamp time.Time
}

func (e TaskOutputEvent) EventType() string { return EventTypeTaskOutput }
func (e TaskOutputEvent) TaskID() string    { return e.ID }

// TaskPausedEvent is published when a running task is suspended.
type TaskPausedEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskPausedEvent) EventType() string { return EventTypeTaskPaused }
func (e TaskPausedEvent) TaskID() string    { return e.ID }

// TaskResumedEvent is published when a paused task is continued.
type TaskResumedEvent struct {
	ID        string
	Timestamp time.Time
}

func (e TaskResumedEvent) EventType() string { return EventTypeTaskResumed }
func (e TaskResumedEvent) TaskID() string    { return e.ID }

// TaskStoppedEvent is published when a task has been stopped by request.
type TaskStoppedEvent struct {
	ID        string
	Killed    bool
	Timestamp time.Time
}

func (e TaskStoppedEvent) EventType() string { return EventTypeTaskStopped }
func (e TaskStoppedEvent) TaskID() string    { return e.ID }

// TaskCompletedEvent is published when a task finishes with its outputs in place.
type TaskCompletedEvent struct {
	ID        string
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.ID }

// TaskFailedEvent is published when a task's process exits without producing
// its outputs, or could not be started.
type TaskFailedEvent struct {
	ID        string
	ExitCode  int
	Err       error
	Duration  time.Duration
	Timestamp time.Time
}

func (e TaskFailedEvent) EventType() string { return EventTypeTaskFailed }
func (e TaskFailedEvent) TaskID() string    { return e.ID }

// GraphProgressEvent is published whenever a task changes state.
type GraphProgressEvent struct {
	Total     int
	Completed int
	Running   int
	Paused    int
	Failed    int
	Stopped   int
	Pending   int
	Timestamp time.Time
}

func (e GraphProgressEvent) EventType() string { return EventTypeGraphProgress }
func (e GraphProgressEvent) TaskID() string    { return "" }

package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/aristath/bdencode/internal/pipeline"
	"github.com/aristath/bdencode/internal/proc"
)

// TaskStatus is the scheduling state of a task.
type TaskStatus int

const (
	TaskPending   TaskStatus = iota // Not started, or waiting on prerequisites
	TaskRunning                     // Process live (paused included)
	TaskCompleted                   // Exited 0, or outputs found on disk
	TaskFailed                      // Nonzero exit, spawn or command failure
	TaskStopped                     // Stopped by the operator
)

func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskRunning:
		return "running"
	case TaskCompleted:
		return "completed"
	case TaskFailed:
		return "failed"
	case TaskStopped:
		return "stopped"
	}
	return fmt.Sprintf("status(%d)", int(s))
}

// Terminal reports whether s ends a run.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskStopped
}

// DisplayPaused is the operator label of a running task whose group is
// suspended. It is never a scheduling state.
const DisplayPaused = "paused"

// Key identifies a task within a graph.
type Key struct {
	Episode string
	Kind    pipeline.Kind
}

// String renders the key as E<NN>:<kind>.
func (k Key) String() string {
	return "E" + pipeline.PadEpisode(k.Episode) + ":" + string(k.Kind)
}

// TaskSpec describes a task to create.
type TaskSpec struct {
	Episode string
	Kind    pipeline.Kind
	// Prerequisites defaults to the kind's descriptor when nil.
	Prerequisites []pipeline.Kind
	// Command is the shell command to run. Empty means deferred: it is
	// synthesized from Params when the task starts.
	Command string
	Params  pipeline.CustomParams
	WorkDir string
	// SetupErr marks an input the command needs as missing. Starting the
	// task fails with it instead of spawning.
	SetupErr error
}

// Task is one unit of work for one episode. All mutable state is guarded by
// the task's mutex and only written by the Controller.
type Task struct {
	key           Key
	prerequisites []pipeline.Kind
	command       string
	params        pipeline.CustomParams
	workDir       string
	setupErr      error

	mu        sync.Mutex
	status    TaskStatus
	paused    bool
	stopping  bool
	gen       uint64
	proc      *proc.Process
	ran       string
	startTime time.Time
	endTime   time.Time
	output    []string
	exitCode  int
	err       error
	runID     string
	done      chan struct{}
}

// NewTask creates a pending task.
func NewTask(spec TaskSpec) *Task {
	prereqs := spec.Prerequisites
	if prereqs == nil {
		if d, ok := pipeline.Describe(spec.Kind); ok {
			prereqs = d.Prerequisites
		}
	}
	return &Task{
		key:           Key{Episode: spec.Episode, Kind: spec.Kind},
		prerequisites: append([]pipeline.Kind(nil), prereqs...),
		command:       spec.Command,
		params:        spec.Params,
		workDir:       spec.WorkDir,
		setupErr:      spec.SetupErr,
		status:        TaskPending,
		done:          make(chan struct{}),
	}
}

func (t *Task) Key() Key                      { return t.key }
func (t *Task) Episode() string               { return t.key.Episode }
func (t *Task) Kind() pipeline.Kind           { return t.key.Kind }
func (t *Task) WorkDir() string               { return t.workDir }
func (t *Task) Params() pipeline.CustomParams { return t.params }
func (t *Task) SetupErr() error               { return t.setupErr }

// Deferred reports whether the command is synthesized at start time.
func (t *Task) Deferred() bool { return t.command == "" && t.setupErr == nil }

// Prerequisites returns a copy of the same-episode prerequisite kinds.
func (t *Task) Prerequisites() []pipeline.Kind {
	return append([]pipeline.Kind(nil), t.prerequisites...)
}

// Status returns the scheduling state.
func (t *Task) Status() TaskStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.status
}

// Stopped reports whether the task was stopped by the operator.
func (t *Task) Stopped() bool {
	return t.Status() == TaskStopped
}

// Paused reports whether the task's process group is suspended.
func (t *Task) Paused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// Display returns the operator label: the status name, or "paused".
func (t *Task) Display() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.status == TaskRunning && t.paused {
		return DisplayPaused
	}
	return t.status.String()
}

// Command returns the command of the current or last run, falling back to
// the configured command. Empty for a deferred task that never ran.
func (t *Task) Command() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.ran != "" {
		return t.ran
	}
	return t.command
}

// Output returns a copy of the lines captured during the current or last run.
func (t *Task) Output() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.output...)
}

// StartTime is zero until the task first starts.
func (t *Task) StartTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.startTime
}

// EndTime is zero until the current run ends.
func (t *Task) EndTime() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.endTime
}

// Duration is the length of the current or last run, measured to now while
// running.
func (t *Task) Duration() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch {
	case t.startTime.IsZero():
		return 0
	case t.endTime.IsZero():
		return time.Since(t.startTime)
	default:
		return t.endTime.Sub(t.startTime)
	}
}

// ExitCode is the exit code of the last finished process, -1 when it was
// killed by a signal or could not be spawned.
func (t *Task) ExitCode() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exitCode
}

// Err is the cause of the last failure.
func (t *Task) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}

// RunID is the journal id of the current or last run.
func (t *Task) RunID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.runID
}

// Pid is the process group id while running, 0 otherwise.
func (t *Task) Pid() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.proc == nil {
		return 0
	}
	return t.proc.Pid()
}

// Process returns the live process, nil when not running.
func (t *Task) Process() *proc.Process {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.proc
}

// Done is closed when the current run reaches a terminal state.
func (t *Task) Done() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.done
}

// Snapshot is a consistent copy of a task's state.
type Snapshot struct {
	Key       Key
	Status    TaskStatus
	Display   string
	Paused    bool
	Command   string
	StartTime time.Time
	EndTime   time.Time
	ExitCode  int
	RunID     string
	Pid       int
	Lines     int
}

// Snapshot reads every field under one lock.
func (t *Task) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	s := Snapshot{
		Key:       t.key,
		Status:    t.status,
		Display:   t.status.String(),
		Paused:    t.paused,
		Command:   t.command,
		StartTime: t.startTime,
		EndTime:   t.endTime,
		ExitCode:  t.exitCode,
		RunID:     t.runID,
		Lines:     len(t.output),
	}
	if t.status == TaskRunning && t.paused {
		s.Display = DisplayPaused
	}
	if t.ran != "" {
		s.Command = t.ran
	}
	if t.proc != nil {
		s.Pid = t.proc.Pid()
	}
	return s
}

// finishLocked moves the current run to a terminal status. t.mu must be held.
func (t *Task) finishLocked(status TaskStatus, now time.Time) {
	t.status = status
	t.proc = nil
	t.paused = false
	t.endTime = now
	select {
	case <-t.done:
	default:
		close(t.done)
	}
}

// appendOutput records a line if gen is still the current run.
func (t *Task) appendOutput(gen uint64, line string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.gen == gen {
		t.output = append(t.output, line)
	}
}

// stopExpected reports whether read errors for run gen are the result of a stop.
func (t *Task) stopExpected(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen != gen || t.stopping
}

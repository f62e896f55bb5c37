package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lithammer/shortuuid/v4"

	"github.com/aristath/bdencode/internal/events"
	"github.com/aristath/bdencode/internal/pipeline"
	"github.com/aristath/bdencode/internal/proc"
	"github.com/aristath/bdencode/internal/relay"
)

// DefaultStopGrace is how long Stop waits after SIGTERM before SIGKILL.
const DefaultStopGrace = 5 * time.Second

// CommandBuilder synthesizes the command of a deferred task.
// *command.Builder satisfies it.
type CommandBuilder interface {
	BuildCommand(episode string, kind pipeline.Kind, cp pipeline.CustomParams) (string, error)
}

// Journal records runs and their output. Implementations must be safe for
// concurrent use.
type Journal interface {
	RunStarted(ctx context.Context, runID, episode, kind, command string, started time.Time) error
	RunFinished(ctx context.Context, runID, status string, exitCode int, finished time.Time) error
	AppendOutput(ctx context.Context, runID string, lines []string) error
}

// ControllerConfig configures a Controller. Zero values get defaults.
type ControllerConfig struct {
	Shell        string
	Env          []string
	StopGrace    time.Duration
	OrphanGrace  time.Duration
	OutputBuffer int
	PollInterval time.Duration

	Builder CommandBuilder // required for deferred tasks
	Journal Journal        // optional
	Bus     *events.Bus    // optional
	Procs   *proc.Manager  // optional
	Logger  *slog.Logger
}

// Controller owns every status transition of the tasks in one graph: start,
// pause, resume, stop and exit finalization.
type Controller struct {
	graph  *Graph
	cfg    ControllerConfig
	poller *relay.Poller
	procs  *proc.Manager
	logger *slog.Logger
}

// NewController creates a controller for g.
func NewController(g *Graph, cfg ControllerConfig) *Controller {
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	procs := cfg.Procs
	if procs == nil {
		procs = proc.NewManager()
	}
	return &Controller{
		graph:  g,
		cfg:    cfg,
		poller: relay.NewPoller(cfg.PollInterval),
		procs:  procs,
		logger: cfg.Logger,
	}
}

// Graph returns the controlled graph.
func (c *Controller) Graph() *Graph { return c.graph }

// Run drives the output poller until ctx is cancelled. Exits are only
// finalized while Run is active.
func (c *Controller) Run(ctx context.Context) {
	c.poller.Run(ctx)
}

// Procs returns the process manager tracking every live group.
func (c *Controller) Procs() *proc.Manager { return c.procs }

func (c *Controller) taskLogger(t *Task) *slog.Logger {
	return c.logger.With("episode", t.key.Episode, "kind", string(t.key.Kind))
}

// Start launches t. It refuses with ErrPrerequisitesNotMet, leaving the task
// untouched, unless every prerequisite has completed. Command synthesis and
// spawn failures mark the task failed and are returned wrapped in ErrTaskFailed.
func (c *Controller) Start(ctx context.Context, t *Task) error {
	log := c.taskLogger(t)

	if unmet := c.graph.Unmet(t); len(unmet) > 0 {
		log.Info("prerequisites not met", "unmet", unmet)
		return taskErr(t.key, ErrPrerequisitesNotMet)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	now := time.Now()
	t.mu.Lock()
	if t.status == TaskRunning {
		t.mu.Unlock()
		return taskErr(t.key, ErrAlreadyRunning)
	}
	t.gen++
	gen := t.gen
	runID := shortuuid.New()
	t.status = TaskRunning
	t.paused = false
	t.stopping = false
	t.proc = nil
	t.ran = ""
	t.output = nil
	t.startTime = now
	t.endTime = time.Time{}
	t.exitCode = 0
	t.err = nil
	t.runID = runID
	t.done = make(chan struct{})
	t.mu.Unlock()

	command := t.command
	switch {
	case t.setupErr != nil:
		err := fmt.Errorf("%w: %w", ErrCommandUnresolved, t.setupErr)
		log.Error("task inputs missing", "error", err)
		c.fail(t, gen, err)
		return failure(t.key, err)
	case command == "":
		var err error
		command, err = c.resolve(t)
		if err != nil {
			log.Error("failed to build command", "error", err)
			c.fail(t, gen, err)
			return failure(t.key, err)
		}
	}

	p, err := proc.Start(command, proc.Options{Shell: c.cfg.Shell, Dir: t.workDir, Env: c.cfg.Env})
	if err != nil {
		log.Error("failed to start process", "error", err)
		c.fail(t, gen, err)
		return failure(t.key, err)
	}

	t.mu.Lock()
	if t.gen != gen || t.status != TaskRunning || t.stopping {
		// Stopped while the command was being prepared.
		t.mu.Unlock()
		_ = p.Kill()
		_ = p.CloseOutput()
		return taskErr(t.key, ErrTaskStopped)
	}
	t.proc = p
	t.ran = command
	t.mu.Unlock()

	c.procs.Track(p)
	if c.cfg.Journal != nil {
		if err := c.cfg.Journal.RunStarted(context.Background(), runID, t.key.Episode, string(t.key.Kind), command, now); err != nil {
			log.Warn("failed to journal run start", "error", err)
		}
	}

	rl := relay.Start(p.Output(), p, relay.Options{
		Buffer:      c.cfg.OutputBuffer,
		OrphanGrace: c.cfg.OrphanGrace,
		Logger:      log,
		OnLine:      func(line string) { t.appendOutput(gen, line) },
		Expected:    func(error) bool { return t.stopExpected(gen) },
	})
	c.poller.Add(t.key.String(), relay.Watch{
		Relay:   rl,
		Exited:  p.Exited(),
		OnLines: func(lines []string) { c.forward(t, runID, lines) },
		OnExit:  func() { c.finalize(t, gen, p, rl) },
	})
	go c.watchOutputHolders(log, p, rl)

	log.Info("task started", "pid", p.Pid(), "run", runID)
	c.publish(events.TopicTask, events.TaskStartedEvent{
		ID:        t.key.String(),
		Episode:   t.key.Episode,
		Kind:      string(t.key.Kind),
		Command:   command,
		RunID:     runID,
		Timestamp: now,
	})
	c.publishProgress()
	return nil
}

func (c *Controller) resolve(t *Task) (string, error) {
	if c.cfg.Builder == nil {
		return "", fmt.Errorf("%w: no command builder", ErrCommandUnresolved)
	}
	command, err := c.cfg.Builder.BuildCommand(t.key.Episode, t.key.Kind, t.params)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrCommandUnresolved, err)
	}
	if strings.TrimSpace(command) == "" {
		return "", fmt.Errorf("%w: empty command", ErrCommandUnresolved)
	}
	return command, nil
}

// fail ends run gen as failed before any process exists.
func (c *Controller) fail(t *Task, gen uint64, cause error) {
	now := time.Now()
	t.mu.Lock()
	if t.gen != gen || t.status != TaskRunning || t.stopping {
		t.mu.Unlock()
		return
	}
	t.exitCode = -1
	t.err = cause
	runID := t.runID
	started := t.startTime
	t.finishLocked(TaskFailed, now)
	t.mu.Unlock()

	if c.cfg.Journal != nil {
		ctx := context.Background()
		if err := c.cfg.Journal.RunStarted(ctx, runID, t.key.Episode, string(t.key.Kind), t.command, started); err == nil {
			_ = c.cfg.Journal.AppendOutput(ctx, runID, []string{cause.Error()})
			_ = c.cfg.Journal.RunFinished(ctx, runID, TaskFailed.String(), -1, now)
		}
	}

	c.publish(events.TopicTask, events.TaskFailedEvent{
		ID:        t.key.String(),
		ExitCode:  -1,
		Err:       cause,
		Duration:  now.Sub(started),
		Timestamp: now,
	})
	c.publishProgress()
}

// watchOutputHolders covers the case where the leader exits while other
// processes keep the output pipe open: after OrphanGrace the group is killed,
// and after another grace period the read end is closed.
func (c *Controller) watchOutputHolders(log *slog.Logger, p *proc.Process, rl *relay.Relay) {
	grace := c.cfg.OrphanGrace
	if grace <= 0 {
		grace = relay.DefaultOrphanGrace
	}
	<-p.Exited()
	select {
	case <-rl.Done():
		return
	case <-time.After(grace):
	}
	if p.GroupAlive() {
		log.Warn("process group outlived its leader, killing")
		if err := p.Kill(); err != nil && !errors.Is(err, proc.ErrGroupGone) {
			log.Warn("SIGKILL failed", "error", err)
		}
	}
	select {
	case <-rl.Done():
	case <-time.After(grace):
		log.Warn("output still held open after exit, closing")
		_ = p.CloseOutput()
	}
}

// forward passes relayed lines to the log, the bus and the journal.
func (c *Controller) forward(t *Task, runID string, lines []string) {
	if c.logger.Enabled(context.Background(), slog.LevelDebug) {
		for _, line := range lines {
			c.logger.Debug(line, "task", t.key.String())
		}
	}
	c.publish(events.TopicTask, events.TaskOutputEvent{
		ID:        t.key.String(),
		Lines:     lines,
		Timestamp: time.Now(),
	})
	if c.cfg.Journal != nil {
		if err := c.cfg.Journal.AppendOutput(context.Background(), runID, lines); err != nil {
			c.taskLogger(t).Warn("failed to journal output", "error", err)
		}
	}
}

// finalize handles the natural exit of run gen. A stop in progress or a
// newer run takes precedence.
func (c *Controller) finalize(t *Task, gen uint64, p *proc.Process, rl *relay.Relay) {
	defer c.procs.Untrack(p)
	_ = p.CloseOutput()

	now := time.Now()
	code := p.ExitCode()

	t.mu.Lock()
	if t.gen != gen || t.status != TaskRunning || t.stopping {
		t.mu.Unlock()
		return
	}
	status := TaskCompleted
	if code != 0 {
		status = TaskFailed
		t.err = fmt.Errorf("exit code %d", code)
		if waitErr := p.WaitErr(); waitErr != nil {
			t.err = waitErr
		}
	}
	t.exitCode = code
	runID := t.runID
	started := t.startTime
	t.finishLocked(status, now)
	t.mu.Unlock()

	log := c.taskLogger(t)
	if err := rl.Err(); err != nil {
		log.Warn("output relay ended with error", "error", err)
	}
	if c.cfg.Journal != nil {
		if err := c.cfg.Journal.RunFinished(context.Background(), runID, status.String(), code, now); err != nil {
			log.Warn("failed to journal run end", "error", err)
		}
	}

	duration := now.Sub(started)
	if status == TaskCompleted {
		log.Info("task completed", "duration", duration.Round(time.Millisecond))
		c.publish(events.TopicTask, events.TaskCompletedEvent{
			ID:        t.key.String(),
			Duration:  duration,
			Timestamp: now,
		})
	} else {
		log.Error("task failed", "exit_code", code, "duration", duration.Round(time.Millisecond))
		c.publish(events.TopicTask, events.TaskFailedEvent{
			ID:        t.key.String(),
			ExitCode:  code,
			Err:       t.Err(),
			Duration:  duration,
			Timestamp: now,
		})
	}
	c.publishProgress()
}

// Pause suspends the task's whole process group. Pausing a paused task is a
// no-op. The scheduling status stays running.
func (c *Controller) Pause(t *Task) error {
	return c.setPaused(t, true)
}

// Resume continues a paused task's process group.
func (c *Controller) Resume(t *Task) error {
	return c.setPaused(t, false)
}

// Toggle pauses a running task or resumes a paused one.
func (c *Controller) Toggle(t *Task) error {
	return c.setPaused(t, !t.Paused())
}

func (c *Controller) setPaused(t *Task, pause bool) error {
	t.mu.Lock()
	if t.status != TaskRunning || t.proc == nil || t.stopping {
		t.mu.Unlock()
		return taskErr(t.key, ErrNotRunning)
	}
	if t.paused == pause {
		t.mu.Unlock()
		return nil
	}
	p := t.proc
	var err error
	if pause {
		err = p.Suspend()
	} else {
		err = p.Continue()
	}
	if err != nil && !errors.Is(err, proc.ErrGroupGone) {
		t.mu.Unlock()
		return taskErr(t.key, fmt.Errorf("signalling process group %d: %w", p.Pid(), err))
	}
	t.paused = pause
	t.mu.Unlock()

	now := time.Now()
	if pause {
		c.taskLogger(t).Info("task paused")
		c.publish(events.TopicTask, events.TaskPausedEvent{ID: t.key.String(), Timestamp: now})
	} else {
		c.taskLogger(t).Info("task resumed")
		c.publish(events.TopicTask, events.TaskResumedEvent{ID: t.key.String(), Timestamp: now})
	}
	c.publishProgress()
	return nil
}

// Stop terminates the task's process group: SIGTERM, up to StopGrace for
// the group to go, then SIGKILL. A gone group counts as stopped. Stopping a
// task that is not running is a no-op.
func (c *Controller) Stop(ctx context.Context, t *Task) error {
	t.mu.Lock()
	if t.status != TaskRunning || t.stopping {
		t.mu.Unlock()
		return nil
	}
	t.stopping = true
	gen := t.gen
	p := t.proc
	paused := t.paused
	t.mu.Unlock()

	log := c.taskLogger(t)
	killed := false
	if p != nil {
		if err := p.Terminate(); err != nil && !errors.Is(err, proc.ErrGroupGone) {
			log.Warn("SIGTERM failed", "error", err)
		}
		if paused {
			// A stopped group does not act on SIGTERM until continued.
			if err := p.Continue(); err != nil && !errors.Is(err, proc.ErrGroupGone) {
				log.Warn("SIGCONT failed", "error", err)
			}
		}
		if !p.WaitGone(ctx, c.cfg.StopGrace) {
			killed = true
			log.Warn("process group ignored SIGTERM, killing", "grace", c.cfg.StopGrace)
			if err := p.Kill(); err != nil && !errors.Is(err, proc.ErrGroupGone) {
				log.Warn("SIGKILL failed", "error", err)
			}
			p.WaitGone(ctx, c.cfg.StopGrace)
		}
		// The group can be gone before the waiter has reaped the leader.
		select {
		case <-p.Exited():
		case <-ctx.Done():
		case <-time.After(c.cfg.StopGrace):
			log.Warn("leader not reaped after stop", "pid", p.Pid())
		}
		_ = p.CloseOutput()
		c.procs.Untrack(p)
	}

	now := time.Now()
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return nil
	}
	runID := t.runID
	if p != nil {
		t.exitCode = p.ExitCode()
	}
	t.finishLocked(TaskStopped, now)
	t.mu.Unlock()

	if c.cfg.Journal != nil && p != nil {
		if err := c.cfg.Journal.RunFinished(context.Background(), runID, TaskStopped.String(), t.ExitCode(), now); err != nil {
			log.Warn("failed to journal run end", "error", err)
		}
	}

	log.Info("task stopped", "killed", killed)
	c.publish(events.TopicTask, events.TaskStoppedEvent{ID: t.key.String(), Killed: killed, Timestamp: now})
	c.publishProgress()
	return nil
}

// MarkCompleted records that t's outputs exist without running it. Running
// tasks are left alone.
func (c *Controller) MarkCompleted(t *Task) bool {
	now := time.Now()
	t.mu.Lock()
	if t.status == TaskRunning || t.status == TaskCompleted {
		t.mu.Unlock()
		return false
	}
	t.gen++
	t.startTime = now
	t.done = make(chan struct{})
	t.finishLocked(TaskCompleted, now)
	t.mu.Unlock()

	c.taskLogger(t).Info("outputs already present, marking completed")
	c.publish(events.TopicTask, events.TaskCompletedEvent{ID: t.key.String(), Timestamp: now})
	c.publishProgress()
	return true
}

// Running returns the tasks with a live run, in canonical order.
func (c *Controller) Running() []*Task {
	var out []*Task
	for _, t := range c.graph.Tasks() {
		if t.Status() == TaskRunning {
			out = append(out, t)
		}
	}
	return out
}

func (c *Controller) publish(topic string, ev events.Event) {
	if c.cfg.Bus != nil {
		c.cfg.Bus.Publish(topic, ev)
	}
}

func (c *Controller) publishProgress() {
	if c.cfg.Bus == nil {
		return
	}
	p := c.graph.Progress()
	c.cfg.Bus.Publish(events.TopicGraph, events.GraphProgressEvent{
		Total:     p.Total,
		Completed: p.Completed,
		Running:   p.Running,
		Paused:    p.Paused,
		Failed:    p.Failed,
		Stopped:   p.Stopped,
		Pending:   p.Pending,
		Timestamp: time.Now(),
	})
}

package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aristath/bdencode/internal/events"
	"github.com/aristath/bdencode/internal/pipeline"
	"github.com/aristath/bdencode/internal/proc"
)

type fakeJournal struct {
	mu       sync.Mutex
	started  map[string]string
	finished map[string]string
	lines    map[string][]string
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{
		started:  make(map[string]string),
		finished: make(map[string]string),
		lines:    make(map[string][]string),
	}
}

func (j *fakeJournal) RunStarted(_ context.Context, runID, episode, kind, command string, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.started[runID] = episode + ":" + kind + ":" + command
	return nil
}

func (j *fakeJournal) RunFinished(_ context.Context, runID, status string, _ int, _ time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.finished[runID] = status
	return nil
}

func (j *fakeJournal) AppendOutput(_ context.Context, runID string, lines []string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.lines[runID] = append(j.lines[runID], lines...)
	return nil
}

type fakeBuilder struct {
	command string
	err     error
}

func (b fakeBuilder) BuildCommand(string, pipeline.Kind, pipeline.CustomParams) (string, error) {
	return b.command, b.err
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newHarness builds a graph from specs and a running controller and
// scheduler around it. Every task still running at the end is stopped.
func newHarness(t *testing.T, specs []TaskSpec, cfg ControllerConfig, checker CompletionChecker) *Scheduler {
	t.Helper()

	var tasks []*Task
	for _, s := range specs {
		tasks = append(tasks, NewTask(s))
	}
	g, err := NewGraph(tasks, nil)
	if err != nil {
		t.Fatalf("NewGraph: %v", err)
	}

	if cfg.PollInterval == 0 {
		cfg.PollInterval = 10 * time.Millisecond
	}
	if cfg.OrphanGrace == 0 {
		cfg.OrphanGrace = 200 * time.Millisecond
	}
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	ctrl := NewController(g, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)
	t.Cleanup(cancel)

	s := New(ctrl, checker, cfg.Logger)
	t.Cleanup(func() {
		_ = s.StopAll(context.Background())
	})
	return s
}

func mustTask(t *testing.T, s *Scheduler, episode string, kind pipeline.Kind) *Task {
	t.Helper()
	task, err := s.Task(episode, kind)
	if err != nil {
		t.Fatalf("task %s/%s: %v", episode, kind, err)
	}
	return task
}

func waitDone(t *testing.T, task *Task) {
	t.Helper()
	select {
	case <-task.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("%s did not finish (status %s)", task.Key(), task.Status())
	}
}

func waitForMembers(t *testing.T, p *proc.Process, n int) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if members, err := p.Members(); err == nil && len(members) >= n {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("process group never reached %d members", n)
}

func waitForMember(t *testing.T, p *proc.Process, name string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		members, _ := p.Members()
		for _, m := range members {
			if m.Name == name {
				return
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("no %q process in the group", name)
}

// TestStart_CompletesAndCapturesOutput verifies a zero exit completes the task
func TestStart_CompletesAndCapturesOutput(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	taskEvents := bus.Subscribe(events.TopicTask, 64)
	journal := newFakeJournal()

	s := newHarness(t, []TaskSpec{
		{Episode: "1", Kind: pipeline.KindAudio, Command: "echo one; echo two 1>&2; printf 'three\\r\\n\\n'"},
	}, ControllerConfig{Bus: bus, Journal: journal}, nil)

	task := mustTask(t, s, "1", pipeline.KindAudio)
	if err := s.StartTask(context.Background(), "1", pipeline.KindAudio); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	waitDone(t, task)

	if task.Status() != TaskCompleted {
		t.Fatalf("expected completed, got %s (err %v)", task.Status(), task.Err())
	}
	if got := strings.Join(task.Output(), ","); got != "one,two,three" {
		t.Errorf("unexpected output %q", got)
	}
	if task.ExitCode() != 0 {
		t.Errorf("expected exit 0, got %d", task.ExitCode())
	}
	if task.EndTime().Before(task.StartTime()) {
		t.Error("end time before start time")
	}
	if task.Process() != nil || task.Pid() != 0 {
		t.Error("completed task must not hold a process")
	}

	// The completed event is published after the journal is written.
	var types []string
	deadline := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case ev := <-taskEvents:
			types = append(types, ev.EventType())
			done = ev.EventType() == events.EventTypeTaskCompleted
		case <-deadline:
			t.Fatalf("missing events, got %v", types)
		}
	}
	if types[0] != events.EventTypeTaskStarted {
		t.Errorf("first event should be started, got %v", types)
	}

	runID := task.RunID()
	journal.mu.Lock()
	defer journal.mu.Unlock()
	if journal.finished[runID] != "completed" {
		t.Errorf("journal finish = %q", journal.finished[runID])
	}
	if !strings.HasPrefix(journal.started[runID], "1:audio:echo one") {
		t.Errorf("journal start = %q", journal.started[runID])
	}
	if len(journal.lines[runID]) != 3 {
		t.Errorf("expected 3 journaled lines, got %v", journal.lines[runID])
	}
}

// TestStart_NonZeroExitFails verifies a nonzero exit fails the task
func TestStart_NonZeroExitFails(t *testing.T) {
	s := newHarness(t, []TaskSpec{
		{Episode: "1", Kind: pipeline.KindAudio, Command: "echo broken; exit 4"},
	}, ControllerConfig{}, nil)

	task := mustTask(t, s, "1", pipeline.KindAudio)
	if err := s.StartTask(context.Background(), "1", pipeline.KindAudio); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	waitDone(t, task)

	if task.Status() != TaskFailed {
		t.Fatalf("expected failed, got %s", task.Status())
	}
	if task.ExitCode() != 4 {
		t.Errorf("expected exit 4, got %d", task.ExitCode())
	}
	if task.Err() == nil {
		t.Error("expected a failure cause")
	}
}

// TestStart_RefusedWhenPrerequisitesUnmet verifies refusal leaves the task untouched
func TestStart_RefusedWhenPrerequisitesUnmet(t *testing.T) {
	s := newHarness(t, []TaskSpec{
		{Episode: "1", Kind: pipeline.KindAudio, Command: "sleep 30"},
		{Episode: "1", Kind: pipeline.KindVideo, Command: "true"},
		{Episode: "1", Kind: pipeline.KindMerge, Command: "true"},
	}, ControllerConfig{}, nil)

	if err := s.StartTask(context.Background(), "1", pipeline.KindAudio); err != nil {
		t.Fatalf("StartTask audio: %v", err)
	}

	merge := mustTask(t, s, "1", pipeline.KindMerge)
	err := s.StartTask(context.Background(), "1", pipeline.KindMerge)
	if !errors.Is(err, ErrPrerequisitesNotMet) {
		t.Fatalf("expected ErrPrerequisitesNotMet, got %v", err)
	}
	var te *TaskError
	if !errors.As(err, &te) || te.Key != merge.Key() {
		t.Errorf("expected TaskError for %s, got %v", merge.Key(), err)
	}
	if merge.Status() != TaskPending || !merge.StartTime().IsZero() || merge.Pid() != 0 {
		t.Errorf("refused task changed: %+v", merge.Snapshot())
	}
}

// TestStart_AlreadyRunning verifies a second start is refused
func TestStart_AlreadyRunning(t *testing.T) {
	s := newHarness(t, []TaskSpec{
		{Episode: "1", Kind: pipeline.KindAudio, Command: "sleep 30"},
	}, ControllerConfig{}, nil)

	if err := s.StartTask(context.Background(), "1", pipeline.KindAudio); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	err := s.StartTask(context.Background(), "1", pipeline.KindAudio)
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected ErrAlreadyRunning, got %v", err)
	}
}

// TestStart_DeferredCommand verifies synthesis through the builder and its failure modes
func TestStart_DeferredCommand(t *testing.T) {
	tests := []struct {
		name       string
		builder    CommandBuilder
		wantStatus TaskStatus
		wantOutput string
	}{
		{name: "built", builder: fakeBuilder{command: "echo built"}, wantStatus: TaskCompleted, wantOutput: "built"},
		{name: "no builder", builder: nil, wantStatus: TaskFailed},
		{name: "builder error", builder: fakeBuilder{err: errors.New("no script")}, wantStatus: TaskFailed},
		{name: "blank command", builder: fakeBuilder{command: "  "}, wantStatus: TaskFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newHarness(t, []TaskSpec{
				{Episode: "1", Kind: pipeline.KindVideo, Params: pipeline.CustomParams{InputPath: "01.vpy", OutputPath: "video.mkv"}},
			}, ControllerConfig{Builder: tt.builder}, nil)
			task := mustTask(t, s, "1", pipeline.KindVideo)

			err := s.StartTask(context.Background(), "1", pipeline.KindVideo)
			if tt.wantStatus == TaskFailed {
				if !errors.Is(err, ErrCommandUnresolved) || !errors.Is(err, ErrTaskFailed) {
					t.Fatalf("expected unresolved failure, got %v", err)
				}
			} else if err != nil {
				t.Fatalf("StartTask: %v", err)
			}

			waitDone(t, task)
			if task.Status() != tt.wantStatus {
				t.Fatalf("expected %s, got %s", tt.wantStatus, task.Status())
			}
			if tt.wantOutput != "" && strings.Join(task.Output(), "\n") != tt.wantOutput {
				t.Errorf("expected output %q, got %q", tt.wantOutput, task.Output())
			}
			if tt.wantStatus == TaskFailed && task.ExitCode() != -1 {
				t.Errorf("expected exit -1 for an unresolved command, got %d", task.ExitCode())
			}
		})
	}
}

// TestStart_SpawnFailure verifies an OS spawn error fails only that task
func TestStart_SpawnFailure(t *testing.T) {
	s := newHarness(t, []TaskSpec{
		{Episode: "1", Kind: pipeline.KindAudio, Command: "true", WorkDir: "/nonexistent/bdencode"},
		{Episode: "1", Kind: pipeline.KindSubtitleProcess, Command: "true"},
	}, ControllerConfig{}, nil)

	err := s.StartTask(context.Background(), "1", pipeline.KindAudio)
	if !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected ErrTaskFailed, got %v", err)
	}
	if st := mustTask(t, s, "1", pipeline.KindAudio).Status(); st != TaskFailed {
		t.Errorf("expected failed, got %s", st)
	}
	if st := mustTask(t, s, "1", pipeline.KindSubtitleProcess).Status(); st != TaskPending {
		t.Errorf("sibling task changed to %s", st)
	}
}

// TestStart_SetupErrorFailsTask verifies a task with missing inputs fails
// without spawning, and only that task
func TestStart_SetupErrorFailsTask(t *testing.T) {
	missing := errors.New("no chapter file found")
	s := newHarness(t, []TaskSpec{
		{Episode: "1", Kind: pipeline.KindMux, Prerequisites: []pipeline.Kind{}, SetupErr: missing},
		{Episode: "1", Kind: pipeline.KindAudio, Command: "true"},
	}, ControllerConfig{Builder: fakeBuilder{command: "echo built"}}, nil)
	mux := mustTask(t, s, "1", pipeline.KindMux)
	if mux.Deferred() {
		t.Error("a task with a setup error is not deferred")
	}

	err := s.StartTask(context.Background(), "1", pipeline.KindMux)
	if !errors.Is(err, missing) || !errors.Is(err, ErrCommandUnresolved) || !errors.Is(err, ErrTaskFailed) {
		t.Fatalf("expected setup failure, got %v", err)
	}
	waitDone(t, mux)
	if mux.Status() != TaskFailed || mux.Process() != nil {
		t.Errorf("expected failed without a process, got %s", mux.Status())
	}
	if st := mustTask(t, s, "1", pipeline.KindAudio).Status(); st != TaskPending {
		t.Errorf("sibling task changed to %s", st)
	}
}

// TestStop_TerminatesWholeGroup verifies no member of the group survives Stop
func TestStop_TerminatesWholeGroup(t *testing.T) {
	s := newHarness(t, []TaskSpec{
		{Episode: "1", Kind: pipeline.KindVideo, Command: "sleep 30 | sleep 30"},
	}, ControllerConfig{}, nil)
	task := mustTask(t, s, "1", pipeline.KindVideo)

	if err := s.StartTask(context.Background(), "1", pipeline.KindVideo); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	p := task.Process()
	if p == nil {
		t.Fatal("running task has no process")
	}
	waitForMembers(t, p, 2)

	if err := s.Controller().Stop(context.Background(), task); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if task.Status() != TaskStopped || !task.Stopped() {
		t.Fatalf("expected stopped, got %s", task.Status())
	}
	if task.Process() != nil {
		t.Error("stopped task still holds its process")
	}
	if task.EndTime().IsZero() {
		t.Error("end time not set")
	}
	select {
	case <-task.Done():
	default:
		t.Error("done not closed after stop")
	}

	var sigErr error
	for deadline := time.Now().Add(3 * time.Second); time.Now().Before(deadline); time.Sleep(20 * time.Millisecond) {
		if sigErr = p.Signal(0); errors.Is(sigErr, proc.ErrGroupGone) {
			break
		}
	}
	if !errors.Is(sigErr, proc.ErrGroupGone) {
		t.Errorf("expected group gone after Stop, got %v", sigErr)
	}

	// Idempotent, and a late natural exit must not overwrite the stop.
	if err := s.Controller().Stop(context.Background(), task); err != nil {
		t.Errorf("second Stop: %v", err)
	}
	time.Sleep(100 * time.Millisecond)
	if task.Status() != TaskStopped {
		t.Errorf("status changed after stop to %s", task.Status())
	}
}

// TestStop_KillsAfterGrace verifies SIGKILL follows an ignored SIGTERM
func TestStop_KillsAfterGrace(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	taskEvents := bus.Subscribe(events.TopicTask, 64)

	s := newHarness(t, []TaskSpec{
		{Episode: "1", Kind: pipeline.KindVideo, Command: "trap '' TERM; sleep 30"},
	}, ControllerConfig{StopGrace: 300 * time.Millisecond, Bus: bus}, nil)
	task := mustTask(t, s, "1", pipeline.KindVideo)

	if err := s.StartTask(context.Background(), "1", pipeline.KindVideo); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	waitForMember(t, task.Process(), "sleep")

	if err := s.Controller().Stop(context.Background(), task); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if task.Status() != TaskStopped {
		t.Fatalf("expected stopped, got %s", task.Status())
	}

	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-taskEvents:
			if stopped, ok := ev.(events.TaskStoppedEvent); ok {
				if !stopped.Killed {
					t.Error("expected the stop to escalate to SIGKILL")
				}
				return
			}
		case <-deadline:
			t.Fatal("no stopped event")
		}
	}
}

// TestStop_RecordsLeaderExitCode verifies the exit code is read after the
// leader has been reaped
func TestStop_RecordsLeaderExitCode(t *testing.T) {
	journal := newFakeJournal()
	s := newHarness(t, []TaskSpec{
		{Episode: "1", Kind: pipeline.KindAudio, Command: "trap 'exit 3' TERM; sleep 30 & wait"},
	}, ControllerConfig{Journal: journal}, nil)
	task := mustTask(t, s, "1", pipeline.KindAudio)

	if err := s.StartTask(context.Background(), "1", pipeline.KindAudio); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	p := task.Process()
	waitForMember(t, p, "sleep")

	if err := s.Controller().Stop(context.Background(), task); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if !p.HasExited() {
		t.Fatal("leader not reaped when Stop returned")
	}
	if task.ExitCode() != 3 {
		t.Errorf("expected exit code 3, got %d", task.ExitCode())
	}
	journal.mu.Lock()
	defer journal.mu.Unlock()
	if journal.finished[task.RunID()] != TaskStopped.String() {
		t.Errorf("journal status %q", journal.finished[task.RunID()])
	}
}

// TestStop_NotRunningIsNoop verifies Stop leaves idle tasks alone
func TestStop_NotRunningIsNoop(t *testing.T) {
	s := newHarness(t, []TaskSpec{
		{Episode: "1", Kind: pipeline.KindAudio, Command: "true"},
	}, ControllerConfig{}, nil)
	task := mustTask(t, s, "1", pipeline.KindAudio)

	if err := s.Controller().Stop(context.Background(), task); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if task.Status() != TaskPending {
		t.Errorf("expected pending, got %s", task.Status())
	}
}

// TestPauseResume verifies suspension is a display state and idempotent
func TestPauseResume(t *testing.T) {
	s := newHarness(t, []TaskSpec{
		{Episode: "1", Kind: pipeline.KindVideo, Command: "sleep 30 | sleep 30"},
		{Episode: "1", Kind: pipeline.KindAudio, Command: "true"},
	}, ControllerConfig{}, nil)
	ctrl := s.Controller()
	task := mustTask(t, s, "1", pipeline.KindVideo)

	if err := ctrl.Pause(mustTask(t, s, "1", pipeline.KindAudio)); !errors.Is(err, ErrNotRunning) {
		t.Errorf("expected ErrNotRunning pausing an idle task, got %v", err)
	}

	if err := s.StartTask(context.Background(), "1", pipeline.KindVideo); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	p := task.Process()
	waitForMembers(t, p, 2)

	if err := ctrl.Pause(task); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if err := ctrl.Pause(task); err != nil {
		t.Fatalf("second Pause: %v", err)
	}
	if task.Status() != TaskRunning || task.Display() != DisplayPaused || !task.Paused() {
		t.Errorf("expected running/paused, got %s/%s", task.Status(), task.Display())
	}
	if !allMembers(p, func(status string) bool { return status == "stop" }) {
		t.Error("group members not suspended")
	}
	if prog := s.Graph().Progress(); prog.Paused != 1 || prog.Running != 0 {
		t.Errorf("unexpected progress %+v", prog)
	}

	if err := ctrl.Toggle(task); err != nil {
		t.Fatalf("Toggle: %v", err)
	}
	if task.Display() != "running" || task.Paused() {
		t.Errorf("expected running after resume, got %s", task.Display())
	}
	if !allMembers(p, func(status string) bool { return status != "stop" }) {
		t.Error("group members still suspended")
	}
	if err := ctrl.Resume(task); err != nil {
		t.Errorf("Resume on a running task: %v", err)
	}
}

func allMembers(p *proc.Process, ok func(status string) bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		members, err := p.Members()
		if err == nil && len(members) > 0 {
			all := true
			for _, m := range members {
				if !ok(m.Status) {
					all = false
				}
			}
			if all {
				return true
			}
		}
		time.Sleep(20 * time.Millisecond)
	}
	return false
}

// TestStop_PausedTask verifies a suspended group is continued so SIGTERM lands
func TestStop_PausedTask(t *testing.T) {
	s := newHarness(t, []TaskSpec{
		{Episode: "1", Kind: pipeline.KindVideo, Command: "sleep 30"},
	}, ControllerConfig{StopGrace: 4 * time.Second}, nil)
	task := mustTask(t, s, "1", pipeline.KindVideo)

	if err := s.StartTask(context.Background(), "1", pipeline.KindVideo); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if err := s.Controller().Pause(task); err != nil {
		t.Fatalf("Pause: %v", err)
	}

	start := time.Now()
	if err := s.Controller().Stop(context.Background(), task); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 3*time.Second {
		t.Errorf("stopping a paused task took %v, SIGTERM was not delivered", elapsed)
	}
	if task.Status() != TaskStopped || task.Paused() {
		t.Errorf("expected stopped and unpaused, got %s paused=%v", task.Status(), task.Paused())
	}
}

// TestRestartAfterStop verifies a stopped task can run again with fresh output
func TestRestartAfterStop(t *testing.T) {
	s := newHarness(t, []TaskSpec{
		{Episode: "1", Kind: pipeline.KindAudio, Command: "echo run; sleep 30"},
	}, ControllerConfig{}, nil)
	task := mustTask(t, s, "1", pipeline.KindAudio)

	if err := s.StartTask(context.Background(), "1", pipeline.KindAudio); err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	firstRun := task.RunID()
	if err := s.Controller().Stop(context.Background(), task); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	if err := s.StartTask(context.Background(), "1", pipeline.KindAudio); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if task.RunID() == firstRun {
		t.Error("restart reused the run id")
	}
	if task.Status() != TaskRunning || !task.EndTime().IsZero() {
		t.Errorf("expected fresh running state, got %+v", task.Snapshot())
	}
	select {
	case <-task.Done():
		t.Error("new run's done channel already closed")
	default:
	}
}

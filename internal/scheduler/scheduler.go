package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/aristath/bdencode/internal/pipeline"
)

// DefaultConcurrency bounds RunParallel when no limit is given.
const DefaultConcurrency = 2

// Scheduler decides which tasks may start and drives whole-graph runs.
type Scheduler struct {
	graph   *Graph
	ctrl    *Controller
	checker CompletionChecker
	logger  *slog.Logger
}

// New creates a scheduler. checker may be nil to skip completion adoption.
func New(ctrl *Controller, checker CompletionChecker, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		graph:   ctrl.Graph(),
		ctrl:    ctrl,
		checker: checker,
		logger:  logger,
	}
}

// Graph returns the scheduled graph.
func (s *Scheduler) Graph() *Graph { return s.graph }

// Controller returns the controller the scheduler drives.
func (s *Scheduler) Controller() *Controller { return s.ctrl }

// Task looks up a task, returning ErrTaskNotFound when it does not exist.
func (s *Scheduler) Task(episode string, kind pipeline.Kind) (*Task, error) {
	t, ok := s.graph.Get(episode, kind)
	if !ok {
		return nil, taskErr(Key{Episode: episode, Kind: kind}, ErrTaskNotFound)
	}
	return t, nil
}

// StartTask starts one task if its prerequisites have completed.
func (s *Scheduler) StartTask(ctx context.Context, episode string, kind pipeline.Kind) error {
	t, err := s.Task(episode, kind)
	if err != nil {
		return err
	}
	return s.ctrl.Start(ctx, t)
}

// adopt marks t completed when its outputs are already on disk.
func (s *Scheduler) adopt(t *Task) bool {
	if s.checker == nil || !s.checker.IsCompleted(t) {
		return false
	}
	s.ctrl.MarkCompleted(t)
	return true
}

// eligible reports whether t may start now. Completed and running tasks are
// never eligible.
func (s *Scheduler) eligible(t *Task) bool {
	switch t.Status() {
	case TaskCompleted, TaskRunning:
		return false
	}
	if s.adopt(t) {
		return false
	}
	return s.graph.PrerequisitesMet(t)
}

// Next returns the first eligible task in canonical order, or nil.
func (s *Scheduler) Next() *Task {
	for _, t := range s.graph.Tasks() {
		if s.eligible(t) {
			return t
		}
	}
	return nil
}

// RunAll walks the graph in canonical order, running one task at a time.
// After every completion the walk restarts from the beginning, so tasks
// skipped for unmet prerequisites are reconsidered. A failed task halts the
// walk with an error matching ErrTaskFailed; a task stopped while awaited
// halts it with ErrTaskStopped.
func (s *Scheduler) RunAll(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		t := s.Next()
		if t == nil {
			s.logger.Info("run-all finished", "progress", fmt.Sprintf("%+v", s.graph.Progress()))
			return nil
		}

		if err := s.ctrl.Start(ctx, t); err != nil {
			return err
		}
		if err := s.await(ctx, t); err != nil {
			return err
		}
	}
}

// await blocks until t's current run ends and maps the outcome to an error.
func (s *Scheduler) await(ctx context.Context, t *Task) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Done():
	}

	switch t.Status() {
	case TaskCompleted:
		return nil
	case TaskStopped:
		return taskErr(t.key, ErrTaskStopped)
	default:
		return failure(t.key, t.Err())
	}
}

// RunParallel runs every eligible task concurrently, at most limit at a
// time, in waves until nothing more is eligible. A failed task's dependents
// never start; independent branches carry on. Task errors are joined.
func (s *Scheduler) RunParallel(ctx context.Context, limit int) error {
	if limit <= 0 {
		limit = DefaultConcurrency
	}

	var (
		mu       sync.Mutex
		errs     []error
		attempts = make(map[Key]bool)
	)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		var wave []*Task
		for _, t := range s.graph.Tasks() {
			if !attempts[t.key] && s.eligible(t) {
				wave = append(wave, t)
			}
		}
		if len(wave) == 0 {
			break
		}

		var g errgroup.Group
		g.SetLimit(limit)

		for _, task := range wave {
			t := task
			attempts[t.key] = true
			g.Go(func() error {
				if err := ctx.Err(); err != nil {
					return err
				}
				err := s.ctrl.Start(ctx, t)
				if err == nil {
					err = s.await(ctx, t)
				}
				if err != nil && ctx.Err() == nil {
					mu.Lock()
					errs = append(errs, err)
					mu.Unlock()
				}
				return nil
			})
		}

		_ = g.Wait()
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return errors.Join(errs...)
}

// StopAll stops every running task concurrently.
func (s *Scheduler) StopAll(ctx context.Context) error {
	var g errgroup.Group
	for _, task := range s.ctrl.Running() {
		t := task
		g.Go(func() error {
			return s.ctrl.Stop(ctx, t)
		})
	}
	return g.Wait()
}

// PauseAll suspends every running task.
func (s *Scheduler) PauseAll() error {
	return s.broadcast(s.ctrl.Pause)
}

// ResumeAll continues every paused task.
func (s *Scheduler) ResumeAll() error {
	return s.broadcast(s.ctrl.Resume)
}

func (s *Scheduler) broadcast(op func(*Task) error) error {
	var errs []error
	for _, t := range s.ctrl.Running() {
		if err := op(t); err != nil && !errors.Is(err, ErrNotRunning) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aristath/bdencode/internal/app"
	"github.com/aristath/bdencode/internal/events"
	"github.com/aristath/bdencode/internal/pipeline"
	"github.com/aristath/bdencode/internal/scheduler"
)

func newStartCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "start <episode> <kind>",
		Short: "Run one task and stream its output",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd, false, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()
			s.Start(cmd.Context())

			episode := resolveEpisode(s.Graph(), args[0])
			return runSingle(cmd.Context(), s, episode, pipeline.Kind(args[1]), cmd.OutOrStdout())
		},
	}
}

// runSingle starts one task, streams its output to w and waits for it.
func runSingle(ctx context.Context, s *app.Session, episode string, kind pipeline.Kind, w io.Writer) error {
	t, err := s.Scheduler.Task(episode, kind)
	if err != nil {
		return err
	}
	colorEnabled := colorize(w)

	sub := s.Bus.Subscribe(events.TopicTask, events.DefaultBuffer)
	defer s.Bus.Unsubscribe(sub)

	if err := s.Scheduler.StartTask(ctx, episode, kind); err != nil {
		if errors.Is(err, scheduler.ErrPrerequisitesNotMet) {
			var unmet []string
			for _, k := range s.Graph().Unmet(t) {
				unmet = append(unmet, string(k))
			}
			return fmt.Errorf("%w (waiting on %s)", err, strings.Join(unmet, ", "))
		}
		return err
	}

	id := t.Key().String()
	done := t.Done()
	printOutput := func(ev events.Event) {
		if out, ok := ev.(events.TaskOutputEvent); ok && out.ID == id {
			for _, line := range out.Lines {
				fmt.Fprintln(w, line)
			}
		}
	}

wait:
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub:
			if !ok {
				break wait
			}
			printOutput(ev)
		case <-done:
			break wait
		}
	}
	// Output forwarded just before the exit may still be queued.
	for drained := false; !drained; {
		select {
		case ev, ok := <-sub:
			if !ok {
				drained = true
				break
			}
			printOutput(ev)
		default:
			drained = true
		}
	}

	snap := t.Snapshot()
	switch snap.Status {
	case scheduler.TaskCompleted:
		fmt.Fprintf(w, "%s %s in %s\n", id, paint(statusColor("completed"), colorEnabled, "completed"), formatDuration(t.Duration()))
		return nil
	case scheduler.TaskStopped:
		return fmt.Errorf("%s: %w", id, scheduler.ErrTaskStopped)
	default:
		return fmt.Errorf("%s: %w (exit %d): %v", id, scheduler.ErrTaskFailed, snap.ExitCode, t.Err())
	}
}

func newRunCommand(ctx *commandContext) *cobra.Command {
	var parallel bool
	var jobs int
	var showOutput bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run every eligible task until the graph is done or a task fails",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd, false, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()
			s.Start(cmd.Context())

			out := cmd.OutOrStdout()
			var wg sync.WaitGroup
			sub := s.Bus.SubscribeAll(events.DefaultBuffer)
			wg.Add(1)
			go func() {
				defer wg.Done()
				printEvents(out, sub, showOutput, colorize(out))
			}()

			if parallel {
				if jobs <= 0 {
					jobs = s.Config.Concurrency
				}
				err = s.Scheduler.RunParallel(cmd.Context(), jobs)
			} else {
				err = s.Scheduler.RunAll(cmd.Context())
			}

			s.Bus.Unsubscribe(sub)
			wg.Wait()

			p := s.Graph().Progress()
			fmt.Fprintf(out, "%d/%d tasks completed\n", p.Completed, p.Total)
			return err
		},
	}
	cmd.Flags().BoolVarP(&parallel, "parallel", "p", false, "Run independent tasks concurrently")
	cmd.Flags().IntVarP(&jobs, "jobs", "j", 0, "Maximum concurrent tasks with --parallel (default from config)")
	cmd.Flags().BoolVar(&showOutput, "output", false, "Print task output lines")
	return cmd
}

// printEvents writes one line per task transition until sub is closed.
func printEvents(w io.Writer, sub <-chan events.Event, showOutput, colorEnabled bool) {
	for ev := range sub {
		switch e := ev.(type) {
		case events.TaskStartedEvent:
			fmt.Fprintf(w, "%s %s\n", e.ID, paint(statusColor("running"), colorEnabled, "started"))
		case events.TaskCompletedEvent:
			fmt.Fprintf(w, "%s %s in %s\n", e.ID, paint(statusColor("completed"), colorEnabled, "completed"), formatDuration(e.Duration))
		case events.TaskFailedEvent:
			fmt.Fprintf(w, "%s %s (exit %d): %v\n", e.ID, paint(statusColor("failed"), colorEnabled, "failed"), e.ExitCode, e.Err)
		case events.TaskStoppedEvent:
			fmt.Fprintf(w, "%s %s\n", e.ID, paint(statusColor("stopped"), colorEnabled, "stopped"))
		case events.TaskOutputEvent:
			if !showOutput {
				continue
			}
			prefix := paint(color.New(color.Faint), colorEnabled, e.ID+" |")
			for _, line := range e.Lines {
				fmt.Fprintln(w, prefix, line)
			}
		}
	}
}

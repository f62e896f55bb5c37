package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aristath/bdencode/internal/pipeline"
	"github.com/aristath/bdencode/internal/scheduler"
)

func newGenerateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "generate",
		Short: "Set up episode folders from the raw videos and build the task graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd, true, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			renderEpisodes(out, s.Graph(), colorize(out))
			return nil
		},
	}
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var episode string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show every task with its status and unmet prerequisites",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd, false, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			out := cmd.OutOrStdout()
			renderStatus(out, s.Graph(), episode, colorize(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&episode, "episode", "e", "", "Only show one episode")
	return cmd
}

func renderEpisodes(w io.Writer, g *scheduler.Graph, colorEnabled bool) {
	if g.Len() == 0 {
		fmt.Fprintln(w, "No episodes found.")
		return
	}
	rows := make([][]string, 0, len(g.Episodes()))
	for _, ep := range g.Episodes() {
		tasks := g.EpisodeTasks(ep)
		done := 0
		for _, t := range tasks {
			if t.Status() == scheduler.TaskCompleted {
				done++
			}
		}
		state := "pending"
		switch {
		case done == len(tasks):
			state = "completed"
		case done > 0:
			state = "running"
		}
		rows = append(rows, []string{
			"E" + pipeline.PadEpisode(ep),
			fmt.Sprintf("%d/%d", done, len(tasks)),
			paint(statusColor(state), colorEnabled, state),
		})
	}
	fmt.Fprintln(w, renderTable([]string{"Episode", "Done", "State"}, rows, []columnAlignment{alignLeft, alignRight, alignLeft}))
}

func renderStatus(w io.Writer, g *scheduler.Graph, episode string, colorEnabled bool) {
	tasks := g.Tasks()
	if episode != "" {
		tasks = g.EpisodeTasks(resolveEpisode(g, episode))
	}
	if len(tasks) == 0 {
		fmt.Fprintln(w, "No tasks.")
		return
	}

	rows := make([][]string, 0, len(tasks))
	for _, t := range tasks {
		s := t.Snapshot()
		waiting := ""
		if s.Status == scheduler.TaskPending {
			var unmet []string
			for _, k := range g.Unmet(t) {
				unmet = append(unmet, string(k))
			}
			waiting = strings.Join(unmet, ", ")
		}
		rows = append(rows, []string{
			s.Key.String(),
			paint(statusColor(s.Display), colorEnabled, s.Display),
			waiting,
			formatDuration(t.Duration()),
			exitText(s.ExitCode, s.Status.Terminal() && !s.EndTime.Equal(s.StartTime)),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Task", "Status", "Waiting on", "Duration", "Exit"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignRight, alignRight},
	))

	p := g.Progress()
	summary := fmt.Sprintf("%d/%d completed", p.Completed, p.Total)
	if p.Failed > 0 {
		summary += ", " + paint(color.New(color.FgRed), colorEnabled, fmt.Sprintf("%d failed", p.Failed))
	}
	if p.Stopped > 0 {
		summary += fmt.Sprintf(", %d stopped", p.Stopped)
	}
	fmt.Fprintln(w, summary)
}

// resolveEpisode maps operator input ("3", "03", "E03") to the graph's
// episode id. Unknown input is returned trimmed.
func resolveEpisode(g *scheduler.Graph, input string) string {
	id := normalizeEpisode(input)
	for _, ep := range g.Episodes() {
		if ep == id || pipeline.PadEpisode(ep) == pipeline.PadEpisode(id) {
			return ep
		}
	}
	return id
}

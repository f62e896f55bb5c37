package main

import (
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/aristath/bdencode/internal/persistence"
	"github.com/aristath/bdencode/internal/pipeline"
)

func (c *commandContext) openJournal(cmd *cobra.Command) (*persistence.SQLiteStore, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Journal.Enabled {
		return nil, errors.New("run journal is disabled (journal.enabled)")
	}
	root, err := c.root()
	if err != nil {
		return nil, err
	}
	return persistence.NewSQLiteStore(cmd.Context(), cfg.JournalPath(root))
}

func newHistoryCommand(ctx *commandContext) *cobra.Command {
	var episode, kind string
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List journaled task runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openJournal(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), persistence.RunFilter{
				Episode: paddedEpisode(episode),
				Kind:    kind,
				Limit:   limit,
			})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			renderRuns(out, runs, colorize(out))
			return nil
		},
	}
	cmd.Flags().StringVarP(&episode, "episode", "e", "", "Only runs of this episode")
	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Only runs of this task kind")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum runs to list (0 for all)")

	cmd.AddCommand(newHistoryShowCommand(ctx))
	cmd.AddCommand(newHistoryPruneCommand(ctx))
	return cmd
}

// paddedEpisode normalizes operator input to a two-digit episode id, the
// form episode folders are named with.
func paddedEpisode(input string) string {
	ep := normalizeEpisode(input)
	if ep == "" {
		return ""
	}
	return pipeline.PadEpisode(ep)
}

func renderRuns(w io.Writer, runs []persistence.Run, colorEnabled bool) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			r.ID,
			"E" + pipeline.PadEpisode(r.Episode) + ":" + r.Kind,
			paint(statusColor(r.Status), colorEnabled, r.Status),
			formatTime(r.StartedAt),
			formatDuration(r.Duration()),
			exitText(r.ExitCode, !r.FinishedAt.IsZero()),
			fmt.Sprint(r.Lines),
		})
	}
	fmt.Fprintln(w, renderTable(
		[]string{"Run", "Task", "Status", "Started", "Duration", "Exit", "Lines"},
		rows,
		[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignRight, alignRight},
	))
}

func newHistoryShowCommand(ctx *commandContext) *cobra.Command {
	var tail int

	cmd := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run and its recorded output",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openJournal(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			lines, err := store.Output(cmd.Context(), run.ID, tail)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			colorEnabled := colorize(out)
			fmt.Fprintf(out, "Run:      %s\n", run.ID)
			fmt.Fprintf(out, "Task:     E%s:%s\n", pipeline.PadEpisode(run.Episode), run.Kind)
			fmt.Fprintf(out, "Status:   %s\n", paint(statusColor(run.Status), colorEnabled, run.Status))
			fmt.Fprintf(out, "Command:  %s\n", run.Command)
			fmt.Fprintf(out, "Started:  %s\n", formatTime(run.StartedAt))
			fmt.Fprintf(out, "Finished: %s\n", formatTime(run.FinishedAt))
			fmt.Fprintf(out, "Exit:     %s\n", exitText(run.ExitCode, !run.FinishedAt.IsZero()))
			fmt.Fprintln(out)
			for _, line := range lines {
				fmt.Fprintln(out, line)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&tail, "tail", "n", 0, "Only the last N output lines")
	return cmd
}

func newHistoryPruneCommand(ctx *commandContext) *cobra.Command {
	var olderThan time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete finished runs older than a duration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if olderThan <= 0 {
				return errors.New("--older-than must be positive")
			}
			store, err := ctx.openJournal(cmd)
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d runs\n", n)
			return nil
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "Age of the oldest run to keep")
	return cmd
}

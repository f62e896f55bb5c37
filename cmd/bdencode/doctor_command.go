package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/aristath/bdencode/internal/deps"
)

func newDoctorCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check that the pipeline's external tools are installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			results := deps.CheckBinaries(deps.Pipeline(cfg.Shell))
			out := cmd.OutOrStdout()
			renderDoctor(out, results, colorize(out))

			if missing := deps.Missing(results); len(missing) > 0 {
				return fmt.Errorf("missing required tools: %s", strings.Join(missing, ", "))
			}
			return nil
		},
	}
}

func renderDoctor(w io.Writer, results []deps.Status, colorEnabled bool) {
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		state := paint(color.New(color.FgGreen), colorEnabled, "ok")
		detail := r.Path
		switch {
		case !r.Available && r.Optional:
			state = paint(color.New(color.FgYellow), colorEnabled, "missing (optional)")
			detail = r.Detail
		case !r.Available:
			state = paint(color.New(color.FgRed, color.Bold), colorEnabled, "missing")
			detail = r.Detail
		}
		rows = append(rows, []string{r.Name, r.Command, state, detail, r.Description})
	}
	fmt.Fprintln(w, renderTable([]string{"Tool", "Command", "State", "Path", "Used for"}, rows, nil))
}

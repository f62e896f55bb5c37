package main

import (
	"context"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/aristath/bdencode/internal/tui"
)

func newTUICommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "tui",
		Short: "Open the interactive dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Console logs would tear the alternate screen; only a configured
			// log file receives them.
			s, err := ctx.openSession(cmd, false, io.Discard)
			if err != nil {
				return err
			}
			defer s.Close()

			runCtx := cmd.Context()
			s.Start(runCtx)

			model := tui.New(runCtx, s.Scheduler, s.Params, s.Bus)

			// Start Bubble Tea program in a goroutine so we can handle shutdown
			p := tea.NewProgram(model, tea.WithAltScreen())

			errChan := make(chan error, 1)
			go func() {
				_, err := p.Run()
				errChan <- err
			}()

			select {
			case err := <-errChan:
				return err
			case <-runCtx.Done():
				s.Logger.Info("shutdown signal received, cleaning up")
				p.Quit()

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				select {
				case err := <-errChan:
					if err != nil {
						return fmt.Errorf("dashboard exit: %w", err)
					}
				case <-shutdownCtx.Done():
					s.Logger.Warn("dashboard did not exit in time")
				}
				return runCtx.Err()
			}
		},
	}
}

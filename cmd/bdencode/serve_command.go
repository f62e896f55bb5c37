package main

import (
	"fmt"
	"net"

	"github.com/spf13/cobra"

	"github.com/aristath/bdencode/internal/api"
)

func newServeCommand(ctx *commandContext) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the REST control API",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := ctx.openSession(cmd, false, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer s.Close()

			runCtx := cmd.Context()
			s.Start(runCtx)

			var history api.History
			if s.Journal != nil {
				history = s.Journal
			}
			handler := api.NewHandler(runCtx, s.Scheduler, s.Params, history, s.Logger)
			router := api.SetupRouter(handler, s.Bus, s.Config.API.AuthKey)

			addr := s.Config.API.Listen
			if listen != "" {
				addr = listen
			}
			out := cmd.OutOrStdout()
			return api.Serve(runCtx, addr, router, s.Logger, func(a net.Addr) {
				fmt.Fprintf(out, "listening on http://%s\n", a)
			})
		},
	}
	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (default from config api.listen)")
	return cmd
}

package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/aristath/bdencode/internal/params"
)

func (c *commandContext) openParams() (*params.Store, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	root, err := c.root()
	if err != nil {
		return nil, err
	}
	return params.Open(cfg.ParamsPath(root))
}

func newParamsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "params",
		Short: "Show or change encode parameters",
	}
	cmd.AddCommand(newParamsShowCommand(ctx))
	cmd.AddCommand(newParamsSetCommand(ctx))
	cmd.AddCommand(newParamsResetCommand(ctx))
	return cmd
}

// normalizeEpisode strips an E prefix from operator input.
func normalizeEpisode(input string) string {
	id := strings.TrimSpace(input)
	if len(id) > 1 && (id[0] == 'E' || id[0] == 'e') {
		id = id[1:]
	}
	return id
}

func newParamsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show [episode...]",
		Short: "Show the global sets and episode overrides, or the effective sets of episodes",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openParams()
			if err != nil {
				return err
			}
			renderParams(cmd.OutOrStdout(), store, args)
			return nil
		},
	}
}

func renderParams(w io.Writer, store *params.Store, episodes []string) {
	var rows [][]string
	add := func(scope, source string, pair params.Pair) {
		for _, set := range []struct {
			name string
			p    params.EncodeParams
		}{{"normal", pair.Normal}, {"hardsub", pair.Hardsub}} {
			rows = append(rows, []string{scope, set.name, string(set.p.CRF), set.p.Tune, set.p.Preset, source})
		}
	}

	if len(episodes) == 0 {
		add("global", "", store.Global())
		for _, ep := range store.Episodes() {
			pair, _ := store.Episode(ep)
			add("E"+ep, "override", pair)
		}
	} else {
		for _, arg := range episodes {
			ep := paddedEpisode(arg)
			if pair, ok := store.Episode(ep); ok {
				add("E"+ep, "override", pair)
			} else {
				add("E"+ep, "global", store.Global())
			}
		}
	}

	fmt.Fprintln(w, renderTable([]string{"Scope", "Set", "CRF", "Tune", "Preset", "Source"}, rows, []columnAlignment{alignLeft, alignLeft, alignRight}))
	fmt.Fprintf(w, "file: %s\n", store.Path())
}

func parseSet(name string) (hardsub bool, err error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "normal":
		return false, nil
	case "hardsub":
		return true, nil
	}
	return false, fmt.Errorf("unknown parameter set %q (normal or hardsub)", name)
}

func newParamsSetCommand(ctx *commandContext) *cobra.Command {
	var episode, set, crf, tune, preset string

	cmd := &cobra.Command{
		Use:   "set",
		Short: "Change one parameter set globally or for an episode",
		RunE: func(cmd *cobra.Command, args []string) error {
			hardsub, err := parseSet(set)
			if err != nil {
				return err
			}
			if crf == "" && tune == "" && preset == "" {
				return fmt.Errorf("nothing to change: pass --crf, --tune or --preset")
			}
			store, err := ctx.openParams()
			if err != nil {
				return err
			}

			ep := paddedEpisode(episode)
			pair := store.Global()
			if ep != "" {
				if override, ok := store.Episode(ep); ok {
					pair = override
				}
			}
			p := pair.Get(hardsub)
			if crf != "" {
				p.CRF = params.CRF(strings.TrimSpace(crf))
			}
			if tune != "" {
				p.Tune = strings.TrimSpace(tune)
			}
			if preset != "" {
				p.Preset = strings.TrimSpace(preset)
			}

			out := cmd.OutOrStdout()
			if ep == "" {
				if err := store.SetGlobal(hardsub, p); err != nil {
					return err
				}
				fmt.Fprintf(out, "global %s: %s\n", setName(hardsub), p)
				return nil
			}
			stored, err := store.SetEpisode(ep, pair.With(hardsub, p))
			if err != nil {
				return err
			}
			if !stored {
				fmt.Fprintf(out, "E%s matches the global parameters; no override kept\n", ep)
				return nil
			}
			fmt.Fprintf(out, "E%s %s: %s\n", ep, setName(hardsub), p)
			return nil
		},
	}
	cmd.Flags().StringVarP(&episode, "episode", "e", "", "Episode to override (default: global)")
	cmd.Flags().StringVarP(&set, "set", "s", "normal", "Parameter set: normal or hardsub")
	cmd.Flags().StringVar(&crf, "crf", "", "Constant rate factor")
	cmd.Flags().StringVar(&tune, "tune", "", "x265 tune")
	cmd.Flags().StringVar(&preset, "preset", "", "x265 preset")
	return cmd
}

func newParamsResetCommand(ctx *commandContext) *cobra.Command {
	var episode, set string

	cmd := &cobra.Command{
		Use:   "reset",
		Short: "Drop an episode override, or restore global sets to the defaults",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openParams()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			if ep := paddedEpisode(episode); ep != "" {
				if err := store.ResetEpisode(ep); err != nil {
					return err
				}
				fmt.Fprintf(out, "E%s now uses the global parameters\n", ep)
				return nil
			}

			sets := []bool{false, true}
			if set != "" {
				hardsub, err := parseSet(set)
				if err != nil {
					return err
				}
				sets = []bool{hardsub}
			}
			for _, hardsub := range sets {
				if err := store.ResetGlobal(hardsub); err != nil {
					return err
				}
				fmt.Fprintf(out, "global %s reset to %s\n", setName(hardsub), params.Defaults().Get(hardsub))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&episode, "episode", "e", "", "Episode whose override to drop")
	cmd.Flags().StringVarP(&set, "set", "s", "", "Only reset this global set: normal or hardsub")
	return cmd
}

func setName(hardsub bool) string {
	if hardsub {
		return "hardsub"
	}
	return "normal"
}

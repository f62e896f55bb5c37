package main

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/aristath/bdencode/internal/app"
	"github.com/aristath/bdencode/internal/config"
)

func newRootCommand() *cobra.Command {
	var rootFlag string
	var configFlag string

	ctx := newCommandContext(&rootFlag, &configFlag)

	rootCmd := &cobra.Command{
		Use:           "bdencode",
		Short:         "Per-episode Blu-ray encoding pipeline",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	rootCmd.PersistentFlags().StringVarP(&rootFlag, "root", "C", "", "Project root (default: current directory)")
	rootCmd.PersistentFlags().StringVarP(&configFlag, "config", "c", "", "Global configuration file path")

	rootCmd.AddCommand(newGenerateCommand(ctx))
	rootCmd.AddCommand(newStatusCommand(ctx))
	rootCmd.AddCommand(newStartCommand(ctx))
	rootCmd.AddCommand(newRunCommand(ctx))
	rootCmd.AddCommand(newTUICommand(ctx))
	rootCmd.AddCommand(newServeCommand(ctx))
	rootCmd.AddCommand(newParamsCommand(ctx))
	rootCmd.AddCommand(newHistoryCommand(ctx))
	rootCmd.AddCommand(newDoctorCommand(ctx))
	rootCmd.AddCommand(newConfigCommand(ctx))

	return rootCmd
}

type commandContext struct {
	rootFlag   *string
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(rootFlag, configFlag *string) *commandContext {
	return &commandContext{
		rootFlag:   rootFlag,
		configFlag: configFlag,
	}
}

func (c *commandContext) root() (string, error) {
	root := "."
	if c.rootFlag != nil && strings.TrimSpace(*c.rootFlag) != "" {
		root = strings.TrimSpace(*c.rootFlag)
	}
	return filepath.Abs(root)
}

func (c *commandContext) globalConfigPath() (string, error) {
	if c.configFlag != nil && strings.TrimSpace(*c.configFlag) != "" {
		return strings.TrimSpace(*c.configFlag), nil
	}
	return config.GlobalPath()
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		root, err := c.root()
		if err != nil {
			c.configErr = err
			return
		}
		global, err := c.globalConfigPath()
		if err != nil {
			c.configErr = err
			return
		}
		c.config, c.configErr = config.Load(global, config.ProjectPath(root))
	})
	return c.config, c.configErr
}

// openSession opens the project with console logs going to logs.
func (c *commandContext) openSession(cmd *cobra.Command, generate bool, logs io.Writer) (*app.Session, error) {
	cfg, err := c.ensureConfig()
	if err != nil {
		return nil, err
	}
	root, err := c.root()
	if err != nil {
		return nil, err
	}
	return app.Open(cmd.Context(), app.Options{
		Root:      root,
		Generate:  generate,
		Config:    cfg,
		LogWriter: logs,
	})
}

// colorize reports whether w is a terminal that should get ANSI colors.
func colorize(w io.Writer) bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

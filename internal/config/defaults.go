package config

import (
	"path/filepath"

	"github.com/aristath/bdencode/internal/persistence"
	"github.com/aristath/bdencode/internal/pipeline"
	"github.com/aristath/bdencode/internal/proc"
	"github.com/aristath/bdencode/internal/relay"
	"github.com/aristath/bdencode/internal/scheduler"
)

// DefaultParamsFile is the parameter file name under the project root.
const DefaultParamsFile = "encoding_params.json"

// defaults maps every key to its built-in value. Every key must appear here
// so that BDENCODE_* environment overrides are picked up on Unmarshal.
var defaults = map[string]any{
	"shell":             proc.DefaultShell,
	"poll_interval":     relay.DefaultInterval.String(),
	"stop_grace":        scheduler.DefaultStopGrace.String(),
	"orphan_grace":      relay.DefaultOrphanGrace.String(),
	"output_buffer":     relay.DefaultBuffer,
	"concurrency":       scheduler.DefaultConcurrency,
	"log.level":         "info",
	"log.format":        "console",
	"log.file":          "",
	"journal.enabled":   true,
	"journal.path":      "",
	"params_file":       DefaultParamsFile,
	"api.listen":        "127.0.0.1:8321",
	"api.auth_key":      "",
	"patterns.video":    `[0-9][0-9]\.(m2ts|mkv)`,
	"patterns.subtitle": `.*\[[0-9][0-9]\].*\.ass`,
	"patterns.chapter":  `\ [0-9][0-9]\ \.txt`,
	"move_sources":      false,
	"x265_extra":        "",
}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	return &Config{
		Shell:        proc.DefaultShell,
		PollInterval: relay.DefaultInterval,
		StopGrace:    scheduler.DefaultStopGrace,
		OrphanGrace:  relay.DefaultOrphanGrace,
		OutputBuffer: relay.DefaultBuffer,
		Concurrency:  scheduler.DefaultConcurrency,
		Log:          LogConfig{Level: "info", Format: "console"},
		Journal:      JournalConfig{Enabled: true},
		API:          APIConfig{Listen: "127.0.0.1:8321"},
		ParamsFile:   DefaultParamsFile,
		Patterns: PatternsConfig{
			Video:    `[0-9][0-9]\.(m2ts|mkv)`,
			Subtitle: `.*\[[0-9][0-9]\].*\.ass`,
			Chapter:  `\ [0-9][0-9]\ \.txt`,
		},
	}
}

// ParamsPath resolves the parameter file against the project root.
func (c *Config) ParamsPath(root string) string {
	return resolve(root, c.ParamsFile, DefaultParamsFile)
}

// JournalPath resolves the journal database against the project root.
func (c *Config) JournalPath(root string) string {
	if c.Journal.Path == "" {
		return filepath.Join(pipeline.Layout{Root: root}.StateDir(), persistence.DefaultFileName)
	}
	return resolve(root, c.Journal.Path, persistence.DefaultFileName)
}

func resolve(root, path, fallback string) string {
	if path == "" {
		path = fallback
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(root, path)
}

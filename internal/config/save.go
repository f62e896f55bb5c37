package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Save persists the configuration to a JSON file that Load reads back.
// Durations are written as Go duration strings. Creates parent directories if
// they don't exist.
func Save(cfg *Config, path string) error {
	doc := map[string]any{
		"shell":         cfg.Shell,
		"poll_interval": cfg.PollInterval.String(),
		"stop_grace":    cfg.StopGrace.String(),
		"orphan_grace":  cfg.OrphanGrace.String(),
		"output_buffer": cfg.OutputBuffer,
		"concurrency":   cfg.Concurrency,
		"log": map[string]any{
			"level":  cfg.Log.Level,
			"format": cfg.Log.Format,
			"file":   cfg.Log.File,
		},
		"journal": map[string]any{
			"enabled": cfg.Journal.Enabled,
			"path":    cfg.Journal.Path,
		},
		"api": map[string]any{
			"listen":   cfg.API.Listen,
			"auth_key": cfg.API.AuthKey,
		},
		"params_file": cfg.ParamsFile,
		"patterns": map[string]any{
			"video":    cfg.Patterns.Video,
			"subtitle": cfg.Patterns.Subtitle,
			"chapter":  cfg.Patterns.Chapter,
		},
		"move_sources": cfg.MoveSources,
		"x265_extra":   cfg.X265Extra,
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("creating directory %s: %w", dir, err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

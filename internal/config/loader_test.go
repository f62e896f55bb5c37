package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		global  string
		project string
		env     map[string]string
		check   func(t *testing.T, cfg *Config)
	}{
		{
			name: "no config files returns defaults",
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, DefaultConfig(), cfg)
			},
		},
		{
			name:   "global overrides defaults",
			global: `{"concurrency": 4, "stop_grace": "10s", "log": {"level": "debug"}}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 4, cfg.Concurrency)
				assert.Equal(t, 10*time.Second, cfg.StopGrace)
				assert.Equal(t, "debug", cfg.Log.Level)
				assert.Equal(t, "console", cfg.Log.Format, "sibling keys keep their defaults")
			},
		},
		{
			name:    "project overrides global",
			global:  `{"concurrency": 4, "x265_extra": "--aq-mode 3"}`,
			project: `{"concurrency": 1, "move_sources": true}`,
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, 1, cfg.Concurrency)
				assert.True(t, cfg.MoveSources)
				assert.Equal(t, "--aq-mode 3", cfg.X265Extra)
			},
		},
		{
			name:    "environment overrides files",
			project: `{"log": {"format": "console"}, "api": {"listen": ":9000"}}`,
			env: map[string]string{
				"BDENCODE_LOG_FORMAT":    "json",
				"BDENCODE_POLL_INTERVAL": "250ms",
				"BDENCODE_API_AUTH_KEY":  "secret",
			},
			check: func(t *testing.T, cfg *Config) {
				assert.Equal(t, "json", cfg.Log.Format)
				assert.Equal(t, 250*time.Millisecond, cfg.PollInterval)
				assert.Equal(t, "secret", cfg.API.AuthKey)
				assert.Equal(t, ":9000", cfg.API.Listen)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			var globalPath, projectPath string
			if tt.global != "" {
				globalPath = writeFile(t, dir, "global.json", tt.global)
			}
			if tt.project != "" {
				projectPath = writeFile(t, dir, "project.json", tt.project)
			}
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := Load(globalPath, projectPath)
			require.NoError(t, err)
			tt.check(t, cfg)
		})
	}
}

func TestLoad_MalformedJSON(t *testing.T) {
	path := writeFile(t, t.TempDir(), "global.json", "{invalid json")

	_, err := Load(path, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "global.json")
}

func TestLoad_MissingFilesNotError(t *testing.T) {
	cfg, err := Load("/nonexistent/global.json", "/nonexistent/project.json")
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Concurrency)
	assert.True(t, cfg.Journal.Enabled)
}

func TestLoad_Invalid(t *testing.T) {
	path := writeFile(t, t.TempDir(), "project.json",
		`{"concurrency": 0, "stop_grace": "-1s", "log": {"format": "xml"}}`)

	_, err := Load("", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "concurrency")
	assert.Contains(t, err.Error(), "stop_grace")
	assert.Contains(t, err.Error(), "log.format")
}

func TestLoad_BadDuration(t *testing.T) {
	path := writeFile(t, t.TempDir(), "project.json", `{"orphan_grace": "soon"}`)

	_, err := Load("", path)
	assert.Error(t, err)
}

func TestPaths(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "/proj/encoding_params.json", cfg.ParamsPath("/proj"))
	assert.Equal(t, "/proj/.bdencode/journal.db", cfg.JournalPath("/proj"))
	assert.Equal(t, "/proj/.bdencode/config.json", ProjectPath("/proj"))

	cfg.ParamsFile = "/etc/params.json"
	cfg.Journal.Path = "state/runs.db"
	assert.Equal(t, "/etc/params.json", cfg.ParamsPath("/proj"))
	assert.Equal(t, "/proj/state/runs.db", cfg.JournalPath("/proj"))
}

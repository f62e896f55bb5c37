package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"github.com/aristath/bdencode/internal/pipeline"
)

// EnvPrefix prefixes environment overrides (BDENCODE_LOG_LEVEL, ...).
const EnvPrefix = "BDENCODE"

// FileName is the config file name in both the global and project state dirs.
const FileName = "config.json"

// stringToDurationHookFunc decodes Go duration strings ("250ms", "5s").
func stringToDurationHookFunc() mapstructure.DecodeHookFunc {
	return func(
		f reflect.Type,
		t reflect.Type,
		data interface{},
	) (interface{}, error) {
		if f.Kind() != reflect.String || t != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		return time.ParseDuration(data.(string))
	}
}

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): environment, project config,
// global config, defaults. Missing files are not errors; malformed JSON
// returns an error.
func Load(globalPath, projectPath string) (*Config, error) {
	vp := viper.New()
	for key, value := range defaults {
		vp.SetDefault(key, value)
	}
	vp.SetConfigType("json")

	if globalPath != "" {
		if err := mergeConfigFile(vp, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}
	if projectPath != "" {
		if err := mergeConfigFile(vp, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	vp.SetEnvPrefix(EnvPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()

	var cfg Config
	err := vp.Unmarshal(&cfg, viper.DecodeHook(stringToDurationHookFunc()))
	if err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// GlobalPath is ~/.bdencode/config.json.
func GlobalPath() (string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(homeDir, pipeline.StateDirName, FileName), nil
}

// ProjectPath is <root>/.bdencode/config.json.
func ProjectPath(root string) string {
	return filepath.Join(pipeline.Layout{Root: root}.StateDir(), FileName)
}

// LoadDefault loads configuration from the conventional paths for a project root.
func LoadDefault(root string) (*Config, error) {
	globalPath, err := GlobalPath()
	if err != nil {
		return nil, err
	}
	return Load(globalPath, ProjectPath(root))
}

// mergeConfigFile merges a JSON config file into vp. Missing files are
// silently skipped.
func mergeConfigFile(vp *viper.Viper, path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	defer f.Close()

	if err := vp.MergeConfig(f); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	return nil
}

// Validate rejects values the controller cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency))
	}
	if c.OutputBuffer < 1 {
		errs = append(errs, fmt.Errorf("output_buffer must be at least 1, got %d", c.OutputBuffer))
	}
	for name, d := range map[string]time.Duration{
		"poll_interval": c.PollInterval,
		"stop_grace":    c.StopGrace,
		"orphan_grace":  c.OrphanGrace,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %s", name, d))
		}
	}
	switch c.Log.Format {
	case "console", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format must be console or json, got %q", c.Log.Format))
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

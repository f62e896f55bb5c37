package config

import "time"

// Config is the merged bdencode configuration.
type Config struct {
	Shell        string        `mapstructure:"shell"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	StopGrace    time.Duration `mapstructure:"stop_grace"`
	OrphanGrace  time.Duration `mapstructure:"orphan_grace"`
	OutputBuffer int           `mapstructure:"output_buffer"`
	Concurrency  int           `mapstructure:"concurrency"`

	Log     LogConfig     `mapstructure:"log"`
	Journal JournalConfig `mapstructure:"journal"`
	API     APIConfig     `mapstructure:"api"`

	// ParamsFile is the encode parameter file. Relative paths resolve
	// against the project root.
	ParamsFile string         `mapstructure:"params_file"`
	Patterns   PatternsConfig `mapstructure:"patterns"`

	// MoveSources moves raw videos into episode folders instead of copying.
	MoveSources bool `mapstructure:"move_sources"`
	// X265Extra is appended to every x265 invocation, split shell-style.
	X265Extra string `mapstructure:"x265_extra"`
}

// LogConfig selects the log handler.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // console or json
	File   string `mapstructure:"file"`
}

// JournalConfig controls the sqlite run journal.
type JournalConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// APIConfig configures the REST control surface.
type APIConfig struct {
	Listen  string `mapstructure:"listen"`
	AuthKey string `mapstructure:"auth_key"`
}

// PatternsConfig holds the episode discovery regexes.
type PatternsConfig struct {
	Video    string `mapstructure:"video"`
	Subtitle string `mapstructure:"subtitle"`
	Chapter  string `mapstructure:"chapter"`
}

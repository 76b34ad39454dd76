package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all configuration
type Config struct {
	Index     IndexConfig    `toml:"index"`
	Watch     WatchConfig    `toml:"watch"`
	Filter    FilterConfig   `toml:"filter"`
	Log       LogConfig      `toml:"log"`
	LogLevels LogLevelConfig `toml:"log_levels"`
}

// IndexConfig controls how files are split into lines and decoded
type IndexConfig struct {
	LineTerminator   string `toml:"line_terminator"`
	Encoding         string `toml:"encoding"`
	MaxLineLengthCap int    `toml:"max_line_length_cap"` // 0 = unlimited
	ChunkSize        int    `toml:"chunk_size"`
	StripCR          bool   `toml:"strip_cr"`
	Access           string `toml:"access"` // "mmap" or "pread"
}

// WatchConfig controls change detection on open files
type WatchConfig struct {
	Follow     bool `toml:"follow"`      // index appended lines
	AutoReload bool `toml:"auto_reload"` // rebuild after truncation or rotation
	PollMs     int  `toml:"poll_ms"`
}

// FilterConfig tunes predicate evaluation
type FilterConfig struct {
	Workers    int `toml:"workers"`
	ChunkLines int `toml:"chunk_lines"`
}

// LogConfig controls diagnostic output
type LogConfig struct {
	Level string `toml:"level"`
	JSON  bool   `toml:"json"`
}

// LogLevelConfig defines log level detection patterns
type LogLevelConfig struct {
	TracePatterns []string `toml:"trace_patterns"`
	DebugPatterns []string `toml:"debug_patterns"`
	InfoPatterns  []string `toml:"info_patterns"`
	WarnPatterns  []string `toml:"warn_patterns"`
	ErrorPatterns []string `toml:"error_patterns"`
	FatalPatterns []string `toml:"fatal_patterns"`
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Index: IndexConfig{
			LineTerminator:   "\n",
			Encoding:         "utf-8",
			MaxLineLengthCap: 0,
			ChunkSize:        64 * 1024, // 64KB reads
			StripCR:          false,
			Access:           "mmap",
		},
		Watch: WatchConfig{
			Follow:     false,
			AutoReload: true,
			PollMs:     250,
		},
		Filter: FilterConfig{
			Workers:    4,
			ChunkLines: 4096,
		},
		Log: LogConfig{
			Level: "info",
		},
		LogLevels: LogLevelConfig{
			TracePatterns: []string{"[TRC]", "[TRACE]", "TRACE", "TRC"},
			DebugPatterns: []string{"[DBG]", "[DEBUG]", "DEBUG", "DBG"},
			InfoPatterns:  []string{"[INF]", "[INFO]", "INFO", "INF"},
			WarnPatterns:  []string{"[WRN]", "[WARN]", "[WARNING]", "WARN", "WRN", "WARNING"},
			ErrorPatterns: []string{"[ERR]", "[ERROR]", "ERROR", "ERR"},
			FatalPatterns: []string{"[FTL]", "[FATAL]", "FATAL", "FTL", "[CRIT]", "CRITICAL"},
		},
	}
}

// Validate checks values that would make indexing impossible
func (c *Config) Validate() error {
	var errs []error
	if c.Index.LineTerminator == "" {
		errs = append(errs, errors.New("index.line_terminator must not be empty"))
	}
	if c.Index.MaxLineLengthCap < 0 {
		errs = append(errs, fmt.Errorf("index.max_line_length_cap must be >= 0, got %d", c.Index.MaxLineLengthCap))
	}
	if c.Index.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("index.chunk_size must be >= 0, got %d", c.Index.ChunkSize))
	}
	switch c.Index.Access {
	case "", "mmap", "pread":
	default:
		errs = append(errs, fmt.Errorf("index.access must be mmap or pread, got %q", c.Index.Access))
	}
	if c.Watch.PollMs < 0 {
		errs = append(errs, fmt.Errorf("watch.poll_ms must be >= 0, got %d", c.Watch.PollMs))
	}
	if c.Filter.Workers < 0 || c.Filter.ChunkLines < 0 {
		errs = append(errs, errors.New("filter.workers and filter.chunk_lines must be >= 0"))
	}
	return errors.Join(errs...)
}

// Load loads config from the default path, falling back to defaults
func Load() (*Config, error) {
	configPath := getConfigPath()
	if configPath == "" {
		return DefaultConfig(), nil
	}
	return LoadFile(configPath)
}

// LoadFile loads config from path over the defaults. A missing file
// yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}

	return cfg, nil
}

// Save saves config to the default path
func Save(cfg *Config) error {
	configPath := getConfigPath()
	if configPath == "" {
		return nil
	}
	return SaveFile(cfg, configPath)
}

// SaveFile writes config to path
func SaveFile(cfg *Config, path string) error {
	// Ensure directory exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// getConfigPath returns the config file path
func getConfigPath() string {
	// Check XDG_CONFIG_HOME first
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "logdata", "config.toml")
	}

	// Fall back to ~/.config
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}

	return filepath.Join(home, ".config", "logdata", "config.toml")
}

// GetConfigPath exports the config path for user reference
func GetConfigPath() string {
	return getConfigPath()
}

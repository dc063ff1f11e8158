// Package config provides unified configuration loading for the memory
// subsystem: defaults overlaid with an optional YAML file.
package config

import (
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Config is the complete configuration for the memory subsystem.
type Config struct {
	Store      StoreConfig      `yaml:"store"`
	Optimizer  OptimizerConfig  `yaml:"optimizer"`
	Compaction CompactionConfig `yaml:"compaction"`
	Reaper     ReaperConfig     `yaml:"reaper"`
	Log        LogConfig        `yaml:"log"`
}

// StoreConfig configures the memory store.
type StoreConfig struct {
	// MaxEntries is the store's FIFO backstop. Keep it above
	// optimizer.target_entries so score-driven eviction stays the real
	// retention policy.
	MaxEntries int `yaml:"max_entries"`

	// Dimension validates embeddings when > 0.
	Dimension int `yaml:"dimension"`
}

// OptimizerConfig configures the background optimizer.
type OptimizerConfig struct {
	TargetEntries  int           `yaml:"target_entries"`
	Interval       time.Duration `yaml:"interval"`
	CompactionHour int           `yaml:"compaction_hour"`
}

// CompactionConfig configures lossy entry compaction.
type CompactionConfig struct {
	MaxTextLength    int `yaml:"max_text_length"`
	DecimalPrecision int `yaml:"decimal_precision"`
}

// ReaperConfig configures the periodic cache reaper. RedisAddr selects the
// target keyspace; when empty the reaper is disabled.
type ReaperConfig struct {
	MaxAge    time.Duration `yaml:"max_age"`
	MaxItems  int           `yaml:"max_items"`
	Interval  time.Duration `yaml:"interval"`
	RedisAddr string        `yaml:"redis_addr"`
	Pattern   string        `yaml:"pattern"`
}

// LogConfig configures logging.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`

	// Development enables human-readable console output.
	Development bool `yaml:"development"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Store: StoreConfig{
			MaxEntries: 1200,
			Dimension:  0,
		},
		Optimizer: OptimizerConfig{
			TargetEntries:  1000,
			Interval:       15 * time.Minute,
			CompactionHour: 3,
		},
		Compaction: CompactionConfig{
			MaxTextLength:    500,
			DecimalPrecision: 4,
		},
		Reaper: ReaperConfig{
			MaxAge:   24 * time.Hour,
			MaxItems: 5000,
			Interval: time.Hour,
			Pattern:  "memoria:*",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults. An empty path returns
// the defaults unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects configurations that cannot work.
func (c Config) Validate() error {
	if c.Optimizer.TargetEntries < 0 {
		return fmt.Errorf("optimizer.target_entries must be >= 0")
	}
	if c.Store.MaxEntries > 0 && c.Optimizer.TargetEntries > c.Store.MaxEntries {
		return fmt.Errorf("optimizer.target_entries (%d) exceeds store.max_entries (%d)",
			c.Optimizer.TargetEntries, c.Store.MaxEntries)
	}
	if c.Optimizer.CompactionHour < 0 || c.Optimizer.CompactionHour > 23 {
		return fmt.Errorf("optimizer.compaction_hour must be in [0,23]")
	}
	if c.Compaction.DecimalPrecision < 0 {
		return fmt.Errorf("compaction.decimal_precision must be >= 0")
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// BuildLogger constructs a zap logger from the log section.
func (c LogConfig) BuildLogger() (*zap.Logger, error) {
	var zapCfg zap.Config
	if c.Development {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}
	if c.Level != "" {
		level, err := zap.ParseAtomicLevel(c.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		zapCfg.Level = level
	}
	return zapCfg.Build()
}

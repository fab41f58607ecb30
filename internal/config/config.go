// Package config handles loading and validating taskforge configuration.
// Supports YAML config files and environment variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all taskforge configuration.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Planner   PlannerConfig   `mapstructure:"planner"`
	Monitor   MonitorConfig   `mapstructure:"monitor"`
	Provider  ProviderConfig  `mapstructure:"provider"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Schedules []GoalSchedule  `mapstructure:"schedules"`
}

// SchedulerConfig tunes the orchestrator loop.
type SchedulerConfig struct {
	MaxConcurrent       int           `mapstructure:"max_concurrent"`
	TickInterval        time.Duration `mapstructure:"tick_interval"`
	RetryBackoff        time.Duration `mapstructure:"retry_backoff"`
	AutoRetry           bool          `mapstructure:"auto_retry"`
	ExclusiveTypes      []string      `mapstructure:"exclusive_types"`
	ConfidenceThreshold float64       `mapstructure:"confidence_threshold"`
}

// PlannerConfig tunes goal decomposition.
type PlannerConfig struct {
	BaseTimeout time.Duration `mapstructure:"base_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// MonitorConfig configures the log-file error monitor.
type MonitorConfig struct {
	Enabled    bool     `mapstructure:"enabled"`
	WatchPaths []string `mapstructure:"watch_paths"`
}

// ProviderConfig selects the assistant backend binary.
type ProviderConfig struct {
	Binary  string        `mapstructure:"binary"`
	Args    []string      `mapstructure:"args"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Path          string `mapstructure:"path"`
	Format        string `mapstructure:"format"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// DatabaseConfig configures the sqlite store.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// GoalSchedule submits a recurring goal on a cron expression.
type GoalSchedule struct {
	Cron     string `mapstructure:"cron"`
	Goal     string `mapstructure:"goal"`
	Priority int    `mapstructure:"priority"`
}

// GlobalConfigPath returns the path to the user-level config file.
func GlobalConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "taskforge", "taskforge.yaml")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.max_concurrent", 5)
	v.SetDefault("scheduler.tick_interval", "1s")
	v.SetDefault("scheduler.retry_backoff", "2s")
	v.SetDefault("scheduler.auto_retry", true)
	v.SetDefault("scheduler.exclusive_types", []string{"fix_errors", "refactor_code"})
	v.SetDefault("scheduler.confidence_threshold", 0.4)
	v.SetDefault("planner.base_timeout", "600s")
	v.SetDefault("planner.max_retries", 3)
	v.SetDefault("monitor.enabled", false)
	v.SetDefault("provider.binary", "claude")
	v.SetDefault("provider.args", []string{"--print"})
	v.SetDefault("provider.timeout", "600s")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.retention_days", 7)
	v.SetDefault("database.path", "")
}

// Load reads configuration from file and environment.
// Search order: explicit path, ./taskforge.yaml, ~/.config/taskforge/.
// Missing config files are fine; defaults and env vars still apply.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("TASKFORGE")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("taskforge")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath(filepath.Dir(GlobalConfigPath()))
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks configuration invariants.
func (c *Config) Validate() error {
	if c.Scheduler.MaxConcurrent < 1 {
		return fmt.Errorf("scheduler.max_concurrent must be >= 1, got %d", c.Scheduler.MaxConcurrent)
	}
	if c.Scheduler.TickInterval <= 0 {
		return fmt.Errorf("scheduler.tick_interval must be positive, got %s", c.Scheduler.TickInterval)
	}
	if c.Scheduler.ConfidenceThreshold < 0 || c.Scheduler.ConfidenceThreshold > 1 {
		return fmt.Errorf("scheduler.confidence_threshold must be in [0,1], got %f", c.Scheduler.ConfidenceThreshold)
	}
	if c.Planner.BaseTimeout <= 0 {
		return fmt.Errorf("planner.base_timeout must be positive, got %s", c.Planner.BaseTimeout)
	}
	for i, s := range c.Schedules {
		if s.Cron == "" || s.Goal == "" {
			return fmt.Errorf("schedules[%d]: cron and goal are required", i)
		}
	}
	return nil
}

// IsExclusiveType reports whether tasks of the given type require the
// exclusive resource lock.
func (c SchedulerConfig) IsExclusiveType(taskType string) bool {
	for _, t := range c.ExclusiveTypes {
		if t == taskType {
			return true
		}
	}
	return false
}

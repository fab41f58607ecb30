// Package commands implements the taskforge CLI commands using cobra.
package commands

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/marcus/taskforge/internal/config"
	"github.com/marcus/taskforge/internal/db"
	"github.com/marcus/taskforge/internal/logging"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "taskforge",
	Short: "Autonomous work orchestration for AI-assisted development",
	Long: `Taskforge decomposes high-level goals into task graphs and executes
them autonomously: priority scheduling, dependency resolution, retry with
backoff, and execution analytics that feed back into planning.

Submit one-shot goals with "taskforge run" or keep the daemon running to
pick up scheduled goals and errors scraped from watched log files.`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default ./taskforge.yaml, ~/.config/taskforge/)")
}

// loadConfig loads configuration honoring the --config flag.
func loadConfig() (*config.Config, error) {
	return config.Load(cfgFile)
}

// initLogging initializes the global logger from config.
func initLogging(cfg *config.Config) error {
	return logging.Init(logging.Config{
		Level:         cfg.Logging.Level,
		Path:          cfg.Logging.Path,
		Format:        cfg.Logging.Format,
		RetentionDays: cfg.Logging.RetentionDays,
	})
}

// openDatabase opens the sqlite store from config.
func openDatabase(cfg *config.Config) (*db.DB, error) {
	return db.Open(cfg.Database.Path)
}

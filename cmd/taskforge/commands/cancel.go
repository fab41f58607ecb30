package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var cancelCmd = &cobra.Command{
	Use:   "cancel <task-id>",
	Short: "Request cancellation of a queued or running task",
	Long: `Record a cancellation request for a task. The daemon picks requests
up within a second and cancels the task if it is still pending or active.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		taskID := args[0]

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return fmt.Errorf("opening db: %w", err)
		}
		defer func() { _ = database.Close() }()

		if _, err := database.SQL().Exec(
			`INSERT OR REPLACE INTO cancel_requests (task_id, created_at) VALUES (?, ?)`,
			taskID, time.Now(),
		); err != nil {
			return fmt.Errorf("recording cancel request: %w", err)
		}

		if running, _ := isDaemonRunning(); !running {
			fmt.Println(warnStyle.Render("cancellation recorded, but the daemon is not running"))
			return nil
		}
		fmt.Printf("cancellation requested for %s\n", taskID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(cancelCmd)
}

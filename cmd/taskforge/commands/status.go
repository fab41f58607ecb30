package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state and recent task runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetInt("last")

		if running, pid := isDaemonRunning(); running {
			fmt.Printf("daemon: %s (pid %d)\n", okStyle.Render("running"), pid)
		} else {
			fmt.Printf("daemon: %s\n", dimStyle.Render("stopped"))
		}

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return fmt.Errorf("opening db: %w", err)
		}
		defer func() { _ = database.Close() }()

		rows, err := database.SQL().Query(
			`SELECT task_type, finished_at, duration_ms, success, error
			 FROM task_runs ORDER BY finished_at DESC LIMIT ?`, last)
		if err != nil {
			return fmt.Errorf("querying runs: %w", err)
		}
		defer rows.Close()

		fmt.Printf("\nlast %d runs:\n", last)
		count := 0
		for rows.Next() {
			var taskType, errMsg string
			var finished time.Time
			var durationMS int64
			var success int
			if err := rows.Scan(&taskType, &finished, &durationMS, &success, &errMsg); err != nil {
				return fmt.Errorf("scanning run: %w", err)
			}
			count++

			marker := okStyle.Render("*")
			detail := ""
			if success == 0 {
				marker = errStyle.Render("x")
				detail = " " + errMsg
			}
			fmt.Printf("  %s %-20s %s %6dms%s\n",
				marker, taskType,
				dimStyle.Render(finished.Format("2006-01-02 15:04:05")),
				durationMS, detail)
		}
		if count == 0 {
			fmt.Println(dimStyle.Render("  no runs recorded"))
		}
		return rows.Err()
	},
}

func init() {
	statusCmd.Flags().IntP("last", "n", 10, "Show last N task runs")
	rootCmd.AddCommand(statusCmd)
}

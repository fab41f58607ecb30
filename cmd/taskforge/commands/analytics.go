package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/taskforge/internal/db"
	"github.com/marcus/taskforge/internal/stats"
)

var analyticsCmd = &cobra.Command{
	Use:   "analytics",
	Short: "Show execution analytics and decision history",
	Long: `Display per-type success rates and execution times, plus the
recent decisions the engine made and why.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		decisions, _ := cmd.Flags().GetInt("decisions")

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		database, err := openDatabase(cfg)
		if err != nil {
			return fmt.Errorf("opening db: %w", err)
		}
		defer func() { _ = database.Close() }()

		tracker, err := stats.NewTracker(database)
		if err != nil {
			return fmt.Errorf("loading analytics: %w", err)
		}

		snap := tracker.Snapshot()
		fmt.Printf("runs: %d, success rate: %.0f%%, avg execution: %s\n\n",
			snap.RunCount, snap.SuccessRate*100, snap.AvgExecution.Round(time.Millisecond))

		if len(snap.PerType) > 0 {
			fmt.Println("per task type:")
			for _, taskType := range tracker.TrackedTypes() {
				ts := snap.PerType[taskType]
				style := okStyle
				if ts.SuccessRate < 0.5 {
					style = errStyle
				} else if ts.SuccessRate < 0.8 {
					style = warnStyle
				}
				fmt.Printf("  %-22s %s  %4d runs  avg %s\n",
					taskType,
					style.Render(fmt.Sprintf("%3.0f%%", ts.SuccessRate*100)),
					ts.RunCount,
					ts.AvgExecution.Round(time.Millisecond))
			}
		}

		if decisions > 0 {
			if err := showDecisions(database, decisions); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	analyticsCmd.Flags().Int("decisions", 0, "Also show last N decisions")
	rootCmd.AddCommand(analyticsCmd)
}

func showDecisions(database *db.DB, n int) error {
	rows, err := database.SQL().Query(
		`SELECT created_at, chosen, confidence, reasoning
		 FROM decision_history ORDER BY created_at DESC LIMIT ?`, n)
	if err != nil {
		return fmt.Errorf("querying decisions: %w", err)
	}
	defer rows.Close()

	fmt.Printf("\nlast %d decisions:\n", n)
	count := 0
	for rows.Next() {
		var created time.Time
		var chosen, reasoning string
		var confidence float64
		if err := rows.Scan(&created, &chosen, &confidence, &reasoning); err != nil {
			return fmt.Errorf("scanning decision: %w", err)
		}
		count++
		fmt.Printf("  %s %-30s %.2f  %s\n",
			dimStyle.Render(created.Format("01-02 15:04")),
			chosen, confidence, dimStyle.Render(reasoning))
	}
	if count == 0 {
		fmt.Println(dimStyle.Render("  no decisions recorded"))
	}
	return rows.Err()
}

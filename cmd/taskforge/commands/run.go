package commands

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/marcus/taskforge/internal/memory"
	"github.com/marcus/taskforge/internal/orchestrator"
	"github.com/marcus/taskforge/internal/planner"
	"github.com/marcus/taskforge/internal/provider"
	"github.com/marcus/taskforge/internal/stats"
	"github.com/marcus/taskforge/internal/tasks"
	"github.com/marcus/taskforge/internal/ui"
)

var (
	runPriority  int
	runDryRun    bool
	runYes       bool
	runDashboard bool
)

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Plan and execute a goal",
	Long: `Decompose a goal description into tasks and execute them to
completion. Low-confidence goals require confirmation unless --yes.`,
	Args: cobra.MinimumNArgs(1),
	RunE: executeRun,
}

func init() {
	runCmd.Flags().IntVarP(&runPriority, "priority", "p", 5, "Goal priority (1-10)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "Echo prompts instead of calling the assistant backend")
	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Skip the low-confidence confirmation prompt")
	runCmd.Flags().BoolVar(&runDashboard, "dashboard", false, "Show the live dashboard during execution")
	rootCmd.AddCommand(runCmd)
}

// isInteractive reports whether stdout is a terminal. Override in tests.
var isInteractive = func() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

var (
	okStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#22863a", Dark: "#3fb950"})
	errStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#cb2431", Dark: "#f85149"})
	warnStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#b08800", Dark: "#d29922"})
	dimStyle  = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666", Dark: "#888"})
)

func executeRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
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
	mem, err := memory.NewStore(database)
	if err != nil {
		return fmt.Errorf("loading solution memory: %w", err)
	}

	pl := planner.New(cfg.Planner, planner.WithTracker(tracker), planner.WithMemory(mem))
	description := strings.Join(args, " ")
	plan := pl.Decompose(description, runPriority, nil)

	fmt.Printf("Goal: %s\n", description)
	fmt.Printf("  %d tasks, complexity %.2f, success estimate %.0f%%\n",
		len(plan.Tasks), plan.Goal.Complexity, plan.Goal.SuccessProbability*100)

	if !planner.ShouldAutoStart(plan.Goal, cfg.Scheduler.ConfidenceThreshold) {
		fmt.Println(warnStyle.Render(fmt.Sprintf(
			"  success estimate below the %.0f%% confidence threshold",
			cfg.Scheduler.ConfidenceThreshold*100)))
		if !confirmRun() {
			return fmt.Errorf("aborted")
		}
	}

	var prov provider.Provider
	if runDryRun {
		prov = provider.NewScripted()
	} else {
		prov = provider.NewCLI(
			provider.WithBinary(cfg.Provider.Binary, cfg.Provider.Args...),
			provider.WithTimeout(cfg.Provider.Timeout),
		)
	}
	defer func() { _ = prov.Close() }()

	o := orchestrator.New(
		orchestrator.WithConfig(cfg.Scheduler),
		orchestrator.WithTracker(tracker),
	)
	registerHandlers(o, prov, mem)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if runDashboard {
		if err := runWithDashboard(ctx, o, plan); err != nil {
			return err
		}
	} else {
		o.Subscribe(printEvent)
		if err := o.SubmitPlan(plan); err != nil {
			return err
		}
		go func() { _ = o.Run(ctx) }()
		waitForPlan(ctx, o, plan)
	}

	return printSummary(o, plan)
}

// confirmRun prompts for confirmation on low-confidence goals.
func confirmRun() bool {
	if runYes {
		return true
	}
	if !isInteractive() {
		return false
	}
	fmt.Print("Run anyway? [y/N] ")
	line, _ := bufio.NewReader(os.Stdin).ReadString('\n')
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

// printEvent writes one orchestrator event to stdout.
func printEvent(ev orchestrator.Event) {
	ts := dimStyle.Render(ev.Time.Format("15:04:05"))
	switch ev.Type {
	case orchestrator.EventTaskStarted:
		fmt.Printf("%s %s %s\n", ts, warnStyle.Render("START"), ev.TaskType)
	case orchestrator.EventTaskCompleted:
		fmt.Printf("%s %s %s (%s)\n", ts, okStyle.Render("DONE "), ev.TaskType, ev.Duration.Round(time.Millisecond))
	case orchestrator.EventTaskRetrying:
		fmt.Printf("%s %s %s attempt %d: %s\n", ts, warnStyle.Render("RETRY"), ev.TaskType, ev.Attempt, ev.Error)
	case orchestrator.EventTaskFailed:
		fmt.Printf("%s %s %s: %s\n", ts, errStyle.Render("FAIL "), ev.TaskType, ev.Error)
	case orchestrator.EventGoalCompleted:
		fmt.Printf("%s %s %s\n", ts, okStyle.Render("GOAL "), ev.Message)
	}
}

// runWithDashboard executes the plan behind the live TUI.
func runWithDashboard(ctx context.Context, o *orchestrator.Orchestrator, plan *planner.Plan) error {
	model := ui.New()
	program, err := model.RunWithProgram()
	if err != nil {
		return err
	}
	defer program.Quit()

	o.Subscribe(func(ev orchestrator.Event) {
		program.Send(ui.EventMsg(ev))
	})
	if err := o.SubmitPlan(plan); err != nil {
		return err
	}

	go o.Run(ctx)

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			program.Send(ui.StatusMsg(o.Status()))
			if planDone(o, plan) {
				return nil
			}
		}
	}
}

// waitForPlan blocks until every plan task is terminal or ctx ends.
func waitForPlan(ctx context.Context, o *orchestrator.Orchestrator, plan *planner.Plan) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if planDone(o, plan) {
				return
			}
		}
	}
}

func planDone(o *orchestrator.Orchestrator, plan *planner.Plan) bool {
	for _, t := range plan.Tasks {
		got, ok := o.Store().Get(t.ID)
		if !ok || !got.Status.Terminal() {
			return false
		}
	}
	return true
}

// printSummary reports final task states; returns an error if the goal
// did not fully complete.
func printSummary(o *orchestrator.Orchestrator, plan *planner.Plan) error {
	fmt.Println()
	failed := 0
	for _, t := range plan.Tasks {
		got, ok := o.Store().Get(t.ID)
		if !ok {
			continue
		}
		switch got.Status {
		case tasks.StatusCompleted:
			fmt.Printf("  %s %s\n", okStyle.Render("*"), got.Type)
		case tasks.StatusFailed:
			failed++
			fmt.Printf("  %s %s: %s\n", errStyle.Render("x"), got.Type, got.Error)
		default:
			fmt.Printf("  %s %s (%s)\n", dimStyle.Render("-"), got.Type, got.Status)
		}
	}

	goal, ok := o.Store().Goal(plan.Goal.ID)
	if ok {
		fmt.Printf("\nGoal progress: %.0f%%\n", goal.Progress*100)
	}
	if failed > 0 {
		return fmt.Errorf("%d task(s) failed", failed)
	}
	return nil
}

package commands

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/taskforge/internal/config"
	"github.com/marcus/taskforge/internal/db"
	"github.com/marcus/taskforge/internal/decision"
	"github.com/marcus/taskforge/internal/logging"
	"github.com/marcus/taskforge/internal/memory"
	"github.com/marcus/taskforge/internal/monitor"
	"github.com/marcus/taskforge/internal/orchestrator"
	"github.com/marcus/taskforge/internal/planner"
	"github.com/marcus/taskforge/internal/provider"
	"github.com/marcus/taskforge/internal/scheduler"
	"github.com/marcus/taskforge/internal/stats"
)

const pidFileName = "taskforge.pid"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Manage the background daemon",
	Long:  `Start, stop, or check status of the taskforge background daemon.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the background daemon",
	Long: `Start the taskforge daemon as a background process.

The daemon runs the orchestrator loop, submits recurring goals from the
configured schedules, and (when enabled) watches log files for errors
and turns them into fix goals.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the background daemon",
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check daemon status",
	RunE:  runDaemonStatus,
}

var daemonForegroundFlag bool

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForegroundFlag, "foreground", "f", false, "Run in foreground (don't daemonize)")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

func pidFilePath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "taskforge", pidFileName)
}

func writePidFile() error {
	if err := os.MkdirAll(filepath.Dir(pidFilePath()), 0755); err != nil {
		return fmt.Errorf("creating pid dir: %w", err)
	}
	return os.WriteFile(pidFilePath(), []byte(strconv.Itoa(os.Getpid())), 0644)
}

func readPidFile() (int, error) {
	data, err := os.ReadFile(pidFilePath())
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(data))
}

func removePidFile() error {
	return os.Remove(pidFilePath())
}

// isProcessRunning checks liveness with signal 0.
func isProcessRunning(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

func isDaemonRunning() (bool, int) {
	pid, err := readPidFile()
	if err != nil {
		return false, 0
	}
	return isProcessRunning(pid), pid
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	if running, pid := isDaemonRunning(); running {
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if daemonForegroundFlag {
		return runDaemonLoop(cfg)
	}

	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("getting executable: %w", err)
	}

	child := exec.Command(executable, "daemon", "start", "--foreground")
	if cfgFile != "" {
		child.Args = append(child.Args, "--config", cfgFile)
	}
	child.Stdout = nil
	child.Stderr = nil
	child.Stdin = nil
	child.SysProcAttr = &syscall.SysProcAttr{
		Setsid: true,
	}

	if err := child.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}

	fmt.Printf("daemon started (pid %d)\n", child.Process.Pid)
	return nil
}

func runDaemonLoop(cfg *config.Config) error {
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("daemon")

	if err := writePidFile(); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer func() { _ = removePidFile() }()

	log.Info("daemon starting")

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
	engine := decision.NewEngine(database)
	pl := planner.New(cfg.Planner, planner.WithTracker(tracker), planner.WithMemory(mem))

	prov := provider.NewCLI(
		provider.WithBinary(cfg.Provider.Binary, cfg.Provider.Args...),
		provider.WithTimeout(cfg.Provider.Timeout),
	)
	defer func() { _ = prov.Close() }()

	o := orchestrator.New(
		orchestrator.WithConfig(cfg.Scheduler),
		orchestrator.WithTracker(tracker),
	)
	registerHandlers(o, prov, mem)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Infof("received signal %v, shutting down", sig)
		cancel()
	}()

	sched := scheduler.New()
	for _, gs := range cfg.Schedules {
		gs := gs
		if _, err := sched.ScheduleCron(gs.Cron, func() {
			submitGoal(o, pl, cfg, engine, gs.Goal, gs.Priority, nil, log)
		}); err != nil {
			return fmt.Errorf("schedule %q: %w", gs.Goal, err)
		}
	}
	sched.Start()
	defer sched.Stop()

	if cfg.Monitor.Enabled && len(cfg.Monitor.WatchPaths) > 0 {
		mon, err := monitor.New(cfg.Monitor.WatchPaths)
		if err != nil {
			return fmt.Errorf("starting monitor: %w", err)
		}
		defer func() { _ = mon.Close() }()
		go func() { _ = mon.Run(ctx) }()
		go watchErrors(ctx, mon, o, pl, cfg, engine, log)
	}

	go watchCancels(ctx, database, o, log)

	log.InfoCtx("daemon running", map[string]any{
		"schedules": len(cfg.Schedules),
		"monitor":   cfg.Monitor.Enabled,
	})

	err = o.Run(ctx)
	log.Info("daemon stopped")
	return err
}

// watchCancels applies cancellation requests recorded by the cancel
// command and clears them, attempted or not.
func watchCancels(ctx context.Context, database *db.DB, o *orchestrator.Orchestrator, log *logging.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rows, err := database.SQL().Query(`SELECT task_id FROM cancel_requests`)
			if err != nil {
				log.Err(err).Msg("query cancel requests")
				continue
			}
			var ids []string
			for rows.Next() {
				var id string
				if err := rows.Scan(&id); err == nil {
					ids = append(ids, id)
				}
			}
			_ = rows.Close()

			for _, id := range ids {
				cancelled := o.Cancel(id)
				if _, err := database.SQL().Exec(`DELETE FROM cancel_requests WHERE task_id = ?`, id); err != nil {
					log.Err(err).Str("task_id", id).Msg("clear cancel request")
				}
				log.InfoCtx("cancel request processed", map[string]any{
					"task_id":   id,
					"cancelled": cancelled,
				})
			}
		}
	}
}

// watchErrors turns detected log errors into fix goals.
func watchErrors(ctx context.Context, mon *monitor.Monitor, o *orchestrator.Orchestrator, pl *planner.Planner, cfg *config.Config, engine *decision.Engine, log *logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case info, ok := <-mon.Errors():
			if !ok {
				return
			}
			goalCtx := map[string]any{
				"error_severity": info.Severity.Weight(),
				"source":         info.Source,
			}
			submitGoal(o, pl, cfg, engine,
				fmt.Sprintf("Fix error: %s", info.Message), 8, goalCtx, log)
		}
	}
}

// submitGoal plans a goal and submits it when the decision engine's
// confidence clears the configured threshold.
func submitGoal(o *orchestrator.Orchestrator, pl *planner.Planner, cfg *config.Config, engine *decision.Engine, description string, priority int, goalCtx map[string]any, log *logging.Logger) {
	plan := pl.Decompose(description, priority, goalCtx)

	d := engine.Choose(goalCtx, []decision.Option{{
		Name:     description,
		Priority: float64(priority),
		Urgent:   severityOf(goalCtx) >= monitor.SeverityFatal.Weight(),
		// Goal complexity is [0.1,1.0]; the engine scores on 0-10.
		Complexity:         plan.Goal.Complexity * 10,
		SuccessProbability: plan.Goal.SuccessProbability,
		FixesErrors:        goalCtx != nil,
	}})
	if d.Confidence < cfg.Scheduler.ConfidenceThreshold {
		log.WarnCtx("goal below confidence threshold, skipping", map[string]any{
			"goal":       description,
			"confidence": d.Confidence,
		})
		return
	}

	if err := o.SubmitPlan(plan); err != nil {
		log.Err(err).Str("goal", description).Msg("submit goal")
		return
	}
	log.InfoCtx("goal submitted", map[string]any{
		"goal":       description,
		"confidence": d.Confidence,
		"subtasks":   len(plan.Tasks),
	})
}

func severityOf(goalCtx map[string]any) float64 {
	if goalCtx == nil {
		return 0
	}
	if w, ok := goalCtx["error_severity"].(float64); ok {
		return w
	}
	return 0
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if !running {
		return fmt.Errorf("daemon is not running")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("stopping daemon: %w", err)
	}

	fmt.Printf("daemon stopped (pid %d)\n", pid)
	return nil
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	running, pid := isDaemonRunning()
	if running {
		fmt.Printf("daemon running (pid %d)\n", pid)
	} else {
		fmt.Println("daemon is not running")
	}
	return nil
}

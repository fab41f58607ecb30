// Package stats tracks execution analytics per task type.
// Maintains exponential-moving-average success rates and execution time
// aggregates that feed back into the planner's estimates.
package stats

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/marcus/taskforge/internal/db"
	"github.com/marcus/taskforge/internal/logging"
)

const (
	// emaWeight is the weight of history in the success-rate moving average.
	emaWeight = 0.9
	// seedRate is the assumed success rate for types with no history.
	seedRate = 0.8
)

// typeStats accumulates per-type analytics.
type typeStats struct {
	rate     float64
	runCount int64
	totalMS  int64
}

// Tracker records task outcomes and serves aggregate analytics.
// Safe for concurrent use.
type Tracker struct {
	mu    sync.RWMutex
	types map[string]*typeStats

	runCount  int64
	successes int64
	totalMS   int64

	db     *db.DB // nil = in-memory only
	logger *logging.Logger
}

// NewTracker creates a tracker, loading persisted per-type rates when a
// database is provided.
func NewTracker(database *db.DB) (*Tracker, error) {
	t := &Tracker{
		types:  make(map[string]*typeStats),
		db:     database,
		logger: logging.Component("stats"),
	}

	if database != nil {
		if err := t.load(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Tracker) load() error {
	rows, err := t.db.SQL().Query(`SELECT task_type, success_rate, run_count, total_ms FROM type_stats`)
	if err != nil {
		return fmt.Errorf("load type stats: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var taskType string
		var ts typeStats
		if err := rows.Scan(&taskType, &ts.rate, &ts.runCount, &ts.totalMS); err != nil {
			return fmt.Errorf("scan type stats: %w", err)
		}
		t.types[taskType] = &ts
		t.runCount += ts.runCount
		t.totalMS += ts.totalMS
		// Approximate restored success counts from the persisted rate.
		t.successes += int64(ts.rate * float64(ts.runCount))
	}
	return rows.Err()
}

// Record registers one task execution outcome.
func (t *Tracker) Record(taskType string, execution time.Duration, success bool) {
	t.RecordRun(taskType, "", "", execution, success, "")
}

// RecordRun registers an outcome with full run context for the history table.
func (t *Tracker) RecordRun(taskType, taskID, goalID string, execution time.Duration, success bool, errMsg string) {
	t.mu.Lock()

	ts, ok := t.types[taskType]
	if !ok {
		ts = &typeStats{rate: seedRate}
		t.types[taskType] = ts
	}

	outcome := 0.0
	if success {
		outcome = 1.0
		t.successes++
	}
	ts.rate = ts.rate*emaWeight + outcome*(1-emaWeight)
	ts.runCount++
	ts.totalMS += execution.Milliseconds()

	t.runCount++
	t.totalMS += execution.Milliseconds()

	rate := ts.rate
	runCount := ts.runCount
	totalMS := ts.totalMS
	t.mu.Unlock()

	if t.db == nil {
		return
	}

	now := time.Now()
	if _, err := t.db.SQL().Exec(
		`INSERT INTO task_runs (task_id, task_type, goal_id, started_at, finished_at, duration_ms, success, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		taskID, taskType, goalID, now.Add(-execution), now, execution.Milliseconds(), boolToInt(success), errMsg,
	); err != nil {
		t.logger.Err(err).Str("task_type", taskType).Msg("persist task run")
	}

	if _, err := t.db.SQL().Exec(
		`INSERT INTO type_stats (task_type, success_rate, run_count, total_ms, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(task_type) DO UPDATE SET
		   success_rate = excluded.success_rate,
		   run_count = excluded.run_count,
		   total_ms = excluded.total_ms,
		   updated_at = excluded.updated_at`,
		taskType, rate, runCount, totalMS, now,
	); err != nil {
		t.logger.Err(err).Str("task_type", taskType).Msg("persist type stats")
	}
}

// SuccessRate returns the moving-average success rate for a task type.
// Unseen types return the seed rate.
func (t *Tracker) SuccessRate(taskType string) float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if ts, ok := t.types[taskType]; ok {
		return ts.rate
	}
	return seedRate
}

// TypeSnapshot summarizes one task type's history.
type TypeSnapshot struct {
	SuccessRate  float64       `json:"success_rate"`
	RunCount     int64         `json:"run_count"`
	AvgExecution time.Duration `json:"avg_execution"`
}

// Snapshot is a point-in-time view of all analytics.
type Snapshot struct {
	SuccessRate  float64                 `json:"success_rate"`
	AvgExecution time.Duration           `json:"avg_execution_time"`
	RunCount     int64                   `json:"run_count"`
	PerType      map[string]TypeSnapshot `json:"per_type"`
}

// Snapshot returns current aggregate analytics.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := Snapshot{
		RunCount: t.runCount,
		PerType:  make(map[string]TypeSnapshot, len(t.types)),
	}
	if t.runCount > 0 {
		snap.SuccessRate = float64(t.successes) / float64(t.runCount)
		snap.AvgExecution = time.Duration(t.totalMS/t.runCount) * time.Millisecond
	}

	for taskType, ts := range t.types {
		typeSnap := TypeSnapshot{
			SuccessRate: ts.rate,
			RunCount:    ts.runCount,
		}
		if ts.runCount > 0 {
			typeSnap.AvgExecution = time.Duration(ts.totalMS/ts.runCount) * time.Millisecond
		}
		snap.PerType[taskType] = typeSnap
	}
	return snap
}

// TrackedTypes returns the known task types sorted by name.
func (t *Tracker) TrackedTypes() []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make([]string, 0, len(t.types))
	for taskType := range t.types {
		out = append(out, taskType)
	}
	sort.Strings(out)
	return out
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

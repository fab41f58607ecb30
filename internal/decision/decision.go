// Package decision scores candidate actions against a context using
// weighted heuristics. Decisions are deterministic for identical inputs
// and recorded to an immutable audit history.
package decision

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/taskforge/internal/db"
	"github.com/marcus/taskforge/internal/logging"
)

// Scoring weights. Tuned by hand; the relative magnitudes matter more
// than the absolute values.
const (
	weightPriority    = 10.0
	bonusUrgent       = 25.0
	weightSimplicity  = 5.0 // applied to (10 - complexity)
	weightSuccessProb = 30.0
	weightCost        = 2.0
	weightSeverity    = 15.0
)

// Option is a candidate action to score.
type Option struct {
	Name               string         `json:"name"`
	Priority           float64        `json:"priority"`            // 1-10
	Urgent             bool           `json:"urgent"`
	Complexity         float64        `json:"complexity"`          // 0-10
	SuccessProbability float64        `json:"success_probability"` // [0,1]
	ResourceCost       float64        `json:"resource_cost"`
	FixesErrors        bool           `json:"fixes_errors"`
	Meta               map[string]any `json:"meta,omitempty"`
}

// Decision records a completed choice. Immutable once created.
type Decision struct {
	ID         string         `json:"id"`
	Timestamp  time.Time      `json:"timestamp"`
	Context    map[string]any `json:"context"`
	Options    []Option       `json:"options"`
	Chosen     string         `json:"chosen_option"` // empty when no option suited
	Confidence float64        `json:"confidence"`    // [0,1]
	Reasoning  string         `json:"reasoning"`
}

// Engine chooses among options and keeps the decision history.
type Engine struct {
	mu      sync.Mutex
	history []Decision

	db     *db.DB // nil = in-memory history only
	logger *logging.Logger
}

// NewEngine creates a decision engine. The database is optional.
func NewEngine(database *db.DB) *Engine {
	return &Engine{
		db:     database,
		logger: logging.Component("decision"),
	}
}

// Score computes the weighted score for one option in a context.
// Pure function: identical inputs always produce identical scores.
func Score(ctx map[string]any, opt Option) float64 {
	score := opt.Priority * weightPriority
	if opt.Urgent {
		score += bonusUrgent
	}
	score += (10 - opt.Complexity) * weightSimplicity
	score += opt.SuccessProbability * weightSuccessProb
	score -= opt.ResourceCost * weightCost

	if opt.FixesErrors {
		if severity, ok := numeric(ctx["error_severity"]); ok {
			score += severity * weightSeverity
		}
	}
	return score
}

// Choose scores every option and returns the decision, appending it to
// the history. Ties go to the earlier option, so identical inputs always
// yield the same choice.
func (e *Engine) Choose(ctx map[string]any, options []Option) Decision {
	d := Decision{
		ID:        uuid.NewString(),
		Timestamp: time.Now(),
		Context:   ctx,
		Options:   options,
	}

	if len(options) == 0 {
		d.Reasoning = "no suitable option"
		e.append(d)
		return d
	}

	bestIdx := 0
	bestScore := Score(ctx, options[0])
	for i := 1; i < len(options); i++ {
		if s := Score(ctx, options[i]); s > bestScore {
			bestIdx, bestScore = i, s
		}
	}

	d.Chosen = options[bestIdx].Name
	d.Confidence = clamp01(bestScore / 100)
	d.Reasoning = fmt.Sprintf("selected %q with score %.1f among %d options",
		options[bestIdx].Name, bestScore, len(options))

	e.append(d)
	return d
}

func (e *Engine) append(d Decision) {
	e.mu.Lock()
	e.history = append(e.history, d)
	e.mu.Unlock()

	if e.db == nil {
		return
	}

	ctxJSON, _ := json.Marshal(d.Context)
	optJSON, _ := json.Marshal(d.Options)
	if _, err := e.db.SQL().Exec(
		`INSERT INTO decision_history (id, created_at, context, options, chosen, confidence, reasoning)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Timestamp, string(ctxJSON), string(optJSON), d.Chosen, d.Confidence, d.Reasoning,
	); err != nil {
		e.logger.Err(err).Str("decision_id", d.ID).Msg("persist decision")
	}
}

// History returns the last n decisions, most recent first.
func (e *Engine) History(n int) []Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if n <= 0 || n > len(e.history) {
		n = len(e.history)
	}
	out := make([]Decision, n)
	for i := 0; i < n; i++ {
		out[i] = e.history[len(e.history)-1-i]
	}
	return out
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

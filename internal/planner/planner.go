// Package planner decomposes natural-language goals into typed task
// graphs. Decomposition is pure text+context transformation; historical
// analytics and solution memory refine the success estimates.
package planner

import (
	"strings"
	"time"

	"github.com/marcus/taskforge/internal/config"
	"github.com/marcus/taskforge/internal/memory"
	"github.com/marcus/taskforge/internal/stats"
	"github.com/marcus/taskforge/internal/tasks"
)

// family is a goal classification bucket with its task template.
type family struct {
	name     string
	keywords []string
	template []templateTask
}

type templateTask struct {
	taskType tasks.Type
	priority int
	estimate time.Duration
}

// Templates are fixed per family; priorities are hand-tuned.
var families = []family{
	{
		name:     "error-fixing",
		keywords: []string{"fix", "error", "bug", "broken", "fail", "crash"},
		template: []templateTask{
			{tasks.TypeAnalyzeErrors, 8, 2 * time.Minute},
			{tasks.TypeFixErrors, 9, 5 * time.Minute},
			{tasks.TypeVerifyFixes, 7, 3 * time.Minute},
		},
	},
	{
		name:     "creation",
		keywords: []string{"create", "implement", "add", "build", "write", "develop"},
		template: []templateTask{
			{tasks.TypeDesignSolution, 7, 3 * time.Minute},
			{tasks.TypeImplementFeature, 8, 10 * time.Minute},
			{tasks.TypeTestImplementation, 6, 5 * time.Minute},
			{tasks.TypeDocumentChanges, 4, 2 * time.Minute},
		},
	},
	{
		name:     "refactoring",
		keywords: []string{"refactor", "restructure", "reorganize", "clean", "simplify"},
		template: []templateTask{
			{tasks.TypeAnalyzeStructure, 6, 3 * time.Minute},
			{tasks.TypeRefactorCode, 7, 10 * time.Minute},
			{tasks.TypeVerifyRefactor, 6, 4 * time.Minute},
		},
	},
}

var genericTemplate = []templateTask{
	{tasks.TypeAnalyzeRequest, 6, 2 * time.Minute},
	{tasks.TypeExecuteRequest, 7, 5 * time.Minute},
	{tasks.TypeVerifyResult, 5, 2 * time.Minute},
}

// Plan is the result of decomposing one goal.
type Plan struct {
	Goal  *tasks.Goal
	Tasks []*tasks.Task
}

// Planner turns goal descriptions into task graphs.
type Planner struct {
	cfg     config.PlannerConfig
	tracker *stats.Tracker // optional
	memory  *memory.Store  // optional
}

// Option configures a Planner.
type Option func(*Planner)

// WithTracker supplies execution analytics for success estimates.
func WithTracker(t *stats.Tracker) Option {
	return func(p *Planner) { p.tracker = t }
}

// WithMemory supplies the solution memory for success estimates.
func WithMemory(m *memory.Store) Option {
	return func(p *Planner) { p.memory = m }
}

// New creates a planner with the given configuration.
func New(cfg config.PlannerConfig, opts ...Option) *Planner {
	if cfg.BaseTimeout <= 0 {
		cfg.BaseTimeout = 600 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	p := &Planner{cfg: cfg}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Decompose classifies the description and emits the matching task
// template as a dependency chain, with estimates attached to the goal.
func (p *Planner) Decompose(description string, priority int, ctx map[string]any) *Plan {
	goal := tasks.NewGoal(description, priority)
	goal.Complexity = Complexity(description)
	goal.SuccessProbability = p.successProbability(description, ctx)
	goal.LearningValue = LearningValue(description)

	template := p.classify(description)

	plan := &Plan{Goal: goal}
	var prev *tasks.Task
	for _, tt := range template {
		task := tasks.New(tt.taskType, description, tt.priority)
		task.GoalID = goal.ID
		task.Timeout = p.cfg.BaseTimeout
		task.MaxRetries = p.cfg.MaxRetries
		task.EstimatedDuration = tt.estimate
		task.Complexity = goal.Complexity
		task.SuccessProbability = p.typeRate(tt.taskType)
		if prev != nil {
			task.DependsOn(prev.ID)
		}
		goal.Subtasks = append(goal.Subtasks, task.ID)
		plan.Tasks = append(plan.Tasks, task)
		prev = task
	}
	return plan
}

// classify returns the template for the first matching keyword family.
func (p *Planner) classify(description string) []templateTask {
	lower := strings.ToLower(description)
	for _, f := range families {
		for _, kw := range f.keywords {
			if strings.Contains(lower, kw) {
				return f.template
			}
		}
	}
	return genericTemplate
}

// typeRate returns the tracked success rate for a task type.
func (p *Planner) typeRate(taskType tasks.Type) float64 {
	if p.tracker == nil {
		return 0.8
	}
	return p.tracker.SuccessRate(string(taskType))
}

// successProbability estimates how likely the goal is to complete.
// Base 0.7, adjusted by solution memory, tracked type rates, and
// whether any context is available.
func (p *Planner) successProbability(description string, ctx map[string]any) float64 {
	prob := 0.7

	if p.memory != nil {
		switch eff := p.memory.BestEffectiveness(description); {
		case eff >= 0.7:
			prob += 0.15
		case eff > 0 && eff < 0.4:
			prob -= 0.2
		}
	}

	if p.tracker != nil {
		template := p.classify(description)
		sum := 0.0
		for _, tt := range template {
			sum += p.tracker.SuccessRate(string(tt.taskType))
		}
		avg := sum / float64(len(template))
		// Pull the estimate toward observed execution history.
		prob = (prob + avg) / 2
	}

	if len(ctx) > 0 {
		prob += 0.1
	} else {
		prob -= 0.1
	}

	return clamp(prob, 0.05, 0.95)
}

// complexityWeights adjust the complexity estimate per keyword.
var complexityWeights = map[string]float64{
	"architecture": 0.2,
	"redesign":     0.2,
	"refactor":     0.15,
	"migrate":      0.15,
	"integrate":    0.1,
	"optimize":     0.1,
	"fix":          -0.1,
	"add":          -0.05,
	"update":       -0.05,
	"rename":       -0.1,
	"typo":         -0.15,
}

// Complexity estimates goal complexity in [0.1, 1.0] from keywords,
// clause structure, and length.
func Complexity(description string) float64 {
	lower := strings.ToLower(description)
	c := 0.5

	for kw, w := range complexityWeights {
		if strings.Contains(lower, kw) {
			c += w
		}
	}

	// Conjunctions and stacked clauses mean compound work.
	for _, sep := range []string{" and ", ", ", "; ", " then "} {
		c += 0.1 * float64(strings.Count(lower, sep))
	}

	if len(strings.Fields(lower)) > 12 {
		c += 0.1
	}

	return clamp(c, 0.1, 1.0)
}

var noveltyKeywords = []string{"new", "learn", "experiment", "research", "prototype", "explore"}

// LearningValue estimates the novelty signal of a goal in [0, 1].
func LearningValue(description string) float64 {
	lower := strings.ToLower(description)
	v := 0.0
	for _, kw := range noveltyKeywords {
		if strings.Contains(lower, kw) {
			v += 0.2
		}
	}
	if strings.Contains(lower, "architecture") || strings.Contains(lower, "integrate") {
		v += 0.1
	}
	return clamp(v, 0, 1)
}

// ShouldAutoStart reports whether the goal clears the confidence bar for
// autonomous execution.
func ShouldAutoStart(goal *tasks.Goal, threshold float64) bool {
	return goal.SuccessProbability >= threshold
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

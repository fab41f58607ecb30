// Package tasks defines task and goal structures and the queue store.
// Tasks are created by the planner or synthesized from detected errors;
// the orchestrator moves them through their lifecycle.
package tasks

import (
	"time"

	"github.com/google/uuid"
)

// Type identifies which registered handler executes a task.
type Type string

// Task types emitted by the planner's decomposition templates.
const (
	TypeAnalyzeErrors      Type = "analyze_errors"
	TypeFixErrors          Type = "fix_errors"
	TypeVerifyFixes        Type = "verify_fixes"
	TypeDesignSolution     Type = "design_solution"
	TypeImplementFeature   Type = "implement_feature"
	TypeTestImplementation Type = "test_implementation"
	TypeDocumentChanges    Type = "document_changes"
	TypeAnalyzeStructure   Type = "analyze_structure"
	TypeRefactorCode       Type = "refactor_code"
	TypeVerifyRefactor     Type = "verify_refactor"
	TypeAnalyzeRequest     Type = "analyze_request"
	TypeExecuteRequest     Type = "execute_request"
	TypeVerifyResult       Type = "verify_result"
)

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether a status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task represents a unit of schedulable work.
type Task struct {
	ID           string
	Type         Type
	Description  string
	Priority     int // 1 (lowest) to 10 (highest)
	Status       Status
	Dependencies []string // task IDs that must complete first

	RetryCount int
	MaxRetries int
	Timeout    time.Duration
	// RetryAt defers re-admission after a retry backoff; zero means
	// admissible immediately.
	RetryAt time.Time

	EstimatedDuration  time.Duration
	Complexity         float64 // [0,1]
	SuccessProbability float64 // [0,1]

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	Result string
	Error  string

	GoalID string
	Meta   map[string]any

	// seq is the arrival order within the store, used to keep priority
	// ties stable.
	seq int64
}

// New creates a pending task with a generated ID.
func New(taskType Type, description string, priority int) *Task {
	return &Task{
		ID:          uuid.NewString(),
		Type:        taskType,
		Description: description,
		Priority:    clampPriority(priority),
		Status:      StatusPending,
		MaxRetries:  3,
		CreatedAt:   time.Now(),
	}
}

// Seq returns the task's arrival sequence within its store.
func (t *Task) Seq() int64 {
	return t.seq
}

// DependsOn adds a dependency on another task.
func (t *Task) DependsOn(ids ...string) *Task {
	t.Dependencies = append(t.Dependencies, ids...)
	return t
}

// DependenciesMet reports whether every dependency is in the completed set.
func (t *Task) DependenciesMet(completed map[string]struct{}) bool {
	for _, dep := range t.Dependencies {
		if _, ok := completed[dep]; !ok {
			return false
		}
	}
	return true
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 10 {
		return 10
	}
	return p
}

// GoalStatus is a goal's lifecycle state.
type GoalStatus string

const (
	GoalPlanned   GoalStatus = "planned"
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
)

// Goal is a high-level intent decomposed into subtasks.
// Goals are never deleted; closure is inferred from Progress reaching 1.0.
type Goal struct {
	ID          string
	Description string
	Priority    int
	Deadline    time.Time // zero = no deadline
	Status      GoalStatus
	Progress    float64 // [0,1], fraction of completed subtasks

	Subtasks []string // ordered task IDs

	Complexity         float64 // [0.1,1]
	SuccessProbability float64 // [0,1]
	LearningValue      float64 // [0,1]

	CreatedAt time.Time
}

// NewGoal creates a planned goal with a generated ID.
func NewGoal(description string, priority int) *Goal {
	return &Goal{
		ID:          uuid.NewString(),
		Description: description,
		Priority:    clampPriority(priority),
		Status:      GoalPlanned,
		CreatedAt:   time.Now(),
	}
}

package orchestrator

import (
	"time"

	"github.com/marcus/taskforge/internal/tasks"
)

// EventType classifies orchestrator lifecycle events.
type EventType string

const (
	EventTaskQueued    EventType = "task_queued"
	EventTaskStarted   EventType = "task_started"
	EventTaskCompleted EventType = "task_completed"
	EventTaskFailed    EventType = "task_failed"
	EventTaskRetrying  EventType = "task_retrying"
	EventTaskCancelled EventType = "task_cancelled"
	EventGoalCompleted EventType = "goal_completed"
)

// Event carries data about one lifecycle transition.
type Event struct {
	Type     EventType
	Time     time.Time
	TaskID   string
	TaskType tasks.Type
	GoalID   string
	Attempt  int // 1-based execution attempt, for started/retrying/failed
	Message  string
	Error    string
	Duration time.Duration // for completed/failed: elapsed execution time
}

// EventHandler is a callback that receives orchestrator events.
// Handlers run synchronously on the control goroutine and must not block.
type EventHandler func(Event)

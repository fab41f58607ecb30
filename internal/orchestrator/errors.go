package orchestrator

import "fmt"

// FailureKind distinguishes why a task attempt failed.
type FailureKind string

const (
	// FailHandler means the registered handler returned an error or panicked.
	FailHandler FailureKind = "handler_error"
	// FailTimeout means the attempt exceeded the task's timeout.
	FailTimeout FailureKind = "timeout"
	// FailUnknownType means no handler is registered for the task's type.
	// Never retried.
	FailUnknownType FailureKind = "unknown_type"
)

// TaskError wraps a task attempt failure with its classification.
type TaskError struct {
	Kind   FailureKind
	TaskID string
	Err    error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %s: %v", e.TaskID, e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error {
	return e.Err
}

// Retryable reports whether this failure counts against the retry budget
// rather than failing the task outright.
func (e *TaskError) Retryable() bool {
	return e.Kind != FailUnknownType
}

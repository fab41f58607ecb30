package tasks

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Store holds tasks and goals and tracks which queue each task occupies.
// A task belongs to exactly one queue at any instant. The orchestrator
// mutates the store from its control goroutine; the mutex exists for
// snapshot readers (CLI status, UI).
type Store struct {
	mu sync.RWMutex

	tasks   map[string]*Task
	goals   map[string]*Goal
	pending []*Task // arrival order
	active  map[string]*Task
	nextSeq int64
}

// NewStore creates an empty task store.
func NewStore() *Store {
	return &Store{
		tasks:  make(map[string]*Task),
		goals:  make(map[string]*Goal),
		active: make(map[string]*Task),
	}
}

// Add enqueues a task as pending. Duplicate IDs are rejected.
func (s *Store) Add(t *Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t.ID == "" {
		return fmt.Errorf("task has no id")
	}
	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task %s already exists", t.ID)
	}

	t.Status = StatusPending
	s.nextSeq++
	t.seq = s.nextSeq
	s.tasks[t.ID] = t
	s.pending = append(s.pending, t)
	return nil
}

// Get returns a task by ID.
func (s *Store) Get(id string) (*Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	return t, ok
}

// Pending returns a copy of the pending queue in arrival order.
func (s *Store) Pending() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, len(s.pending))
	copy(out, s.pending)
	return out
}

// Active returns a copy of the active set.
func (s *Store) Active() []*Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Task, 0, len(s.active))
	for _, t := range s.active {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

// ActiveCount returns the number of active tasks.
func (s *Store) ActiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.active)
}

// CompletedIDs returns the set of completed task IDs.
func (s *Store) CompletedIDs() map[string]struct{} {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]struct{})
	for id, t := range s.tasks {
		if t.Status == StatusCompleted {
			out[id] = struct{}{}
		}
	}
	return out
}

// Activate moves a pending task to active and records its start time.
func (s *Store) Activate(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return nil, fmt.Errorf("task %s not found", id)
	}
	if t.Status != StatusPending {
		return nil, fmt.Errorf("task %s is %s, not pending", id, t.Status)
	}

	s.removePendingLocked(id)
	t.Status = StatusActive
	t.StartedAt = time.Now()
	s.active[id] = t
	return t, nil
}

// Complete moves an active task to completed with its result.
func (s *Store) Complete(id, result string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.active[id]
	if !ok {
		return nil, fmt.Errorf("task %s is not active", id)
	}

	delete(s.active, id)
	t.Status = StatusCompleted
	t.CompletedAt = time.Now()
	t.Result = result
	s.refreshGoalLocked(t.GoalID)
	return t, nil
}

// Fail moves an active task to terminal failed with the error message.
func (s *Store) Fail(id, errMsg string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.active[id]
	if !ok {
		return nil, fmt.Errorf("task %s is not active", id)
	}

	delete(s.active, id)
	t.Status = StatusFailed
	t.CompletedAt = time.Now()
	t.Error = errMsg
	return t, nil
}

// FailPending moves a pending task directly to failed. Used for tasks with
// no registered handler, which never become active.
func (s *Store) FailPending(id, errMsg string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status != StatusPending {
		return nil, fmt.Errorf("task %s is not pending", id)
	}

	s.removePendingLocked(id)
	t.Status = StatusFailed
	t.CompletedAt = time.Now()
	t.Error = errMsg
	return t, nil
}

// Requeue returns an active task to pending for a retry attempt.
// The task keeps its original arrival sequence so retries do not jump
// ahead of equal-priority work.
func (s *Store) Requeue(id string) (*Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.active[id]
	if !ok {
		return nil, fmt.Errorf("task %s is not active", id)
	}

	delete(s.active, id)
	t.Status = StatusPending
	t.StartedAt = time.Time{}
	s.pending = append(s.pending, t)
	sort.SliceStable(s.pending, func(i, j int) bool { return s.pending[i].seq < s.pending[j].seq })
	return t, nil
}

// Cancel removes a task from pending or active. Returns false if the task
// is unknown or already terminal.
func (s *Store) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok || t.Status.Terminal() {
		return false
	}

	switch t.Status {
	case StatusPending:
		s.removePendingLocked(id)
	case StatusActive:
		delete(s.active, id)
	}
	t.Status = StatusCancelled
	t.CompletedAt = time.Now()
	return true
}

// QueueStatus is a point-in-time snapshot of queue sizes.
type QueueStatus struct {
	Pending   int `json:"pending"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Status returns the current queue status snapshot.
func (s *Store) Status() QueueStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := QueueStatus{
		Pending: len(s.pending),
		Active:  len(s.active),
	}
	for _, t := range s.tasks {
		switch t.Status {
		case StatusCompleted:
			st.Completed++
		case StatusFailed:
			st.Failed++
		case StatusCancelled:
			st.Cancelled++
		}
	}
	return st
}

// ClearHistory drops terminal tasks. Pending and active tasks are kept.
func (s *Store) ClearHistory() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cleared := 0
	for id, t := range s.tasks {
		if t.Status.Terminal() {
			delete(s.tasks, id)
			cleared++
		}
	}
	return cleared
}

// AddGoal registers a goal and its subtasks' membership.
func (s *Store) AddGoal(g *Goal) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.ID == "" {
		return fmt.Errorf("goal has no id")
	}
	if _, exists := s.goals[g.ID]; exists {
		return fmt.Errorf("goal %s already exists", g.ID)
	}
	s.goals[g.ID] = g
	return nil
}

// Goal returns a goal by ID.
func (s *Store) Goal(id string) (*Goal, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.goals[id]
	return g, ok
}

// Goals returns all goals.
func (s *Store) Goals() []*Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Goal, 0, len(s.goals))
	for _, g := range s.goals {
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// refreshGoalLocked recomputes a goal's progress from its subtasks.
// Must be called with the lock held.
func (s *Store) refreshGoalLocked(goalID string) {
	if goalID == "" {
		return
	}
	g, ok := s.goals[goalID]
	if !ok || len(g.Subtasks) == 0 {
		return
	}

	completed := 0
	for _, id := range g.Subtasks {
		if t, ok := s.tasks[id]; ok && t.Status == StatusCompleted {
			completed++
		}
	}
	g.Progress = float64(completed) / float64(len(g.Subtasks))
	if g.Progress >= 1.0 {
		g.Status = GoalCompleted
	} else if completed > 0 {
		g.Status = GoalActive
	}
}

// removePendingLocked removes a task from the pending slice by id.
// Must be called with the lock held.
func (s *Store) removePendingLocked(id string) {
	for i, t := range s.pending {
		if t.ID == id {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

// Package orchestrator runs the task execution loop: admission by
// priority and dependency order, bounded concurrency, per-type resource
// locks, timeouts, and retry with backoff. All queue transitions happen
// on the control goroutine; handlers run in their own goroutines and
// report back over a completion channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/marcus/taskforge/internal/config"
	"github.com/marcus/taskforge/internal/logging"
	"github.com/marcus/taskforge/internal/planner"
	"github.com/marcus/taskforge/internal/stats"
	"github.com/marcus/taskforge/internal/tasks"
)

// HandlerFunc executes one task attempt. The context is cancelled on
// timeout, task cancellation, or orchestrator shutdown.
type HandlerFunc func(ctx context.Context, task *tasks.Task) (string, error)

// completion is the outcome of one handler invocation.
type completion struct {
	taskID  string
	attempt int
	result  string
	err     error
}

// attempt tracks one in-flight handler invocation.
type attempt struct {
	cancel context.CancelFunc
	number int // 1-based
}

// Orchestrator owns the task queues and drives execution.
type Orchestrator struct {
	cfg      config.SchedulerConfig
	store    *tasks.Store
	resolver *tasks.Resolver
	tracker  *stats.Tracker // optional
	logger   *logging.Logger

	mu          sync.Mutex
	handlers    map[tasks.Type]HandlerFunc
	locks       map[tasks.Type]string // exclusive type -> holder task ID
	running     map[string]*attempt
	subscribers []EventHandler

	completions chan completion
	announced   map[string]bool // goals whose completion was emitted
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithConfig sets the scheduler configuration.
func WithConfig(cfg config.SchedulerConfig) Option {
	return func(o *Orchestrator) { o.cfg = cfg }
}

// WithStore sets the task store. Useful when the store is shared with a
// status UI or pre-populated in tests.
func WithStore(s *tasks.Store) Option {
	return func(o *Orchestrator) { o.store = s }
}

// WithTracker enables execution analytics recording.
func WithTracker(t *stats.Tracker) Option {
	return func(o *Orchestrator) { o.tracker = t }
}

// WithEventHandler subscribes a handler at construction time.
func WithEventHandler(h EventHandler) Option {
	return func(o *Orchestrator) { o.subscribers = append(o.subscribers, h) }
}

// DefaultConfig returns the scheduler defaults used when no config file
// overrides them.
func DefaultConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		MaxConcurrent:       5,
		TickInterval:        time.Second,
		RetryBackoff:        2 * time.Second,
		AutoRetry:           true,
		ExclusiveTypes:      []string{string(tasks.TypeFixErrors), string(tasks.TypeRefactorCode)},
		ConfidenceThreshold: 0.4,
	}
}

// New creates an orchestrator with the given options.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:         DefaultConfig(),
		store:       tasks.NewStore(),
		resolver:    tasks.NewResolver(),
		logger:      logging.Component("orchestrator"),
		handlers:    make(map[tasks.Type]HandlerFunc),
		locks:       make(map[tasks.Type]string),
		running:     make(map[string]*attempt),
		completions: make(chan completion, 64),
		announced:   make(map[string]bool),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterHandler binds a handler to a task type. Tasks whose type has
// no handler fail terminally at admission time.
func (o *Orchestrator) RegisterHandler(taskType tasks.Type, fn HandlerFunc) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.handlers[taskType] = fn
}

// Subscribe registers an event handler.
func (o *Orchestrator) Subscribe(h EventHandler) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subscribers = append(o.subscribers, h)
}

// Store returns the underlying task store for status snapshots.
func (o *Orchestrator) Store() *tasks.Store {
	return o.store
}

// Status returns the current queue status.
func (o *Orchestrator) Status() tasks.QueueStatus {
	return o.store.Status()
}

// SubmitTask enqueues a single task.
func (o *Orchestrator) SubmitTask(t *tasks.Task) error {
	if err := o.store.Add(t); err != nil {
		return err
	}
	o.logger.InfoCtx("task queued", map[string]any{
		"task_id":  t.ID,
		"type":     string(t.Type),
		"priority": t.Priority,
	})
	o.emit(Event{
		Type:     EventTaskQueued,
		Time:     time.Now(),
		TaskID:   t.ID,
		TaskType: t.Type,
		GoalID:   t.GoalID,
		Message:  t.Description,
	})
	return nil
}

// SubmitPlan enqueues a decomposed goal and all its subtasks.
func (o *Orchestrator) SubmitPlan(p *planner.Plan) error {
	if err := o.store.AddGoal(p.Goal); err != nil {
		return err
	}
	for _, t := range p.Tasks {
		if err := o.SubmitTask(t); err != nil {
			return err
		}
	}
	o.logger.InfoCtx("goal submitted", map[string]any{
		"goal_id":  p.Goal.ID,
		"subtasks": len(p.Tasks),
	})
	return nil
}

// Cancel stops a pending or active task. Active tasks have their handler
// context cancelled; the handler's eventual return is discarded.
// Returns false for unknown or already-terminal tasks.
func (o *Orchestrator) Cancel(id string) bool {
	o.mu.Lock()
	if att, ok := o.running[id]; ok {
		att.cancel()
		delete(o.running, id)
	}
	o.mu.Unlock()

	t, found := o.store.Get(id)
	if !found || !o.store.Cancel(id) {
		return false
	}
	o.releaseLock(t)

	o.logger.InfoCtx("task cancelled", map[string]any{"task_id": id})
	o.emit(Event{
		Type:     EventTaskCancelled,
		Time:     time.Now(),
		TaskID:   id,
		TaskType: t.Type,
		GoalID:   t.GoalID,
	})
	o.cancelDependents(id)
	return true
}

// cancelDependents cancels pending tasks whose dependency chain can no
// longer complete because the given task ended without completing.
// Cascades transitively so a broken chain never leaves tasks pending
// forever.
func (o *Orchestrator) cancelDependents(id string) {
	dead := map[string]struct{}{id: {}}
	for progressed := true; progressed; {
		progressed = false
		for _, t := range o.store.Pending() {
			for _, dep := range t.Dependencies {
				if _, gone := dead[dep]; !gone {
					continue
				}
				if !o.store.Cancel(t.ID) {
					break
				}
				dead[t.ID] = struct{}{}
				progressed = true
				o.logger.WarnCtx("task cancelled, dependency did not complete", map[string]any{
					"task_id":    t.ID,
					"dependency": dep,
				})
				o.emit(Event{
					Type:     EventTaskCancelled,
					Time:     time.Now(),
					TaskID:   t.ID,
					TaskType: t.Type,
					GoalID:   t.GoalID,
					Error:    fmt.Sprintf("dependency %s did not complete", dep),
				})
				break
			}
		}
	}
}

// Run drives the scheduling loop until the context is cancelled.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.InfoCtx("orchestrator started", map[string]any{
		"max_concurrent": o.cfg.MaxConcurrent,
		"tick_interval":  o.cfg.TickInterval.String(),
	})

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	// Admit immediately rather than waiting out the first tick.
	o.tick(ctx, time.Now())

	for {
		select {
		case <-ctx.Done():
			o.shutdown()
			return nil
		case now := <-ticker.C:
			o.tick(ctx, now)
		case c := <-o.completions:
			o.handleCompletion(c)
			// A slot just freed; admit without waiting for the tick.
			o.tick(ctx, time.Now())
		}
	}
}

// shutdown cancels all in-flight handlers.
func (o *Orchestrator) shutdown() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for id, att := range o.running {
		att.cancel()
		delete(o.running, id)
	}
	o.logger.Info("orchestrator stopped")
}

// tick enforces timeouts, then admits eligible tasks up to the
// concurrency limit.
func (o *Orchestrator) tick(ctx context.Context, now time.Time) {
	o.enforceTimeouts(now)

	for o.store.ActiveCount() < o.cfg.MaxConcurrent {
		chosen, progressed := o.selectNext(now)
		if chosen == nil {
			if progressed {
				continue // pending set changed; re-scan
			}
			return
		}
		o.launch(ctx, chosen)
	}
}

// selectNext scans pending tasks in priority order and returns the first
// admissible one. Tasks with no registered handler fail terminally during
// the scan; progressed reports whether such a transition happened.
func (o *Orchestrator) selectNext(now time.Time) (chosen *tasks.Task, progressed bool) {
	completed := o.store.CompletedIDs()
	for _, t := range o.resolver.Order(o.store.Pending()) {
		if !t.RetryAt.IsZero() && now.Before(t.RetryAt) {
			continue
		}
		if !t.DependenciesMet(completed) {
			continue
		}

		o.mu.Lock()
		_, known := o.handlers[t.Type]
		lockHolder := o.locks[t.Type]
		o.mu.Unlock()

		if !known {
			o.failUnknownType(t)
			return nil, true
		}
		if o.cfg.IsExclusiveType(string(t.Type)) && lockHolder != "" {
			continue
		}
		return t, false
	}
	return nil, false
}

// failUnknownType fails a pending task that has no handler. The retry
// budget is untouched; there is nothing to retry.
func (o *Orchestrator) failUnknownType(t *tasks.Task) {
	te := &TaskError{Kind: FailUnknownType, TaskID: t.ID, Err: fmt.Errorf("no handler for type %q", t.Type)}
	if _, err := o.store.FailPending(t.ID, te.Err.Error()); err != nil {
		o.logger.Err(err).Str("task_id", t.ID).Msg("fail pending task")
		return
	}
	o.logger.ErrorCtx("no handler registered", map[string]any{
		"task_id": t.ID,
		"type":    string(t.Type),
	})
	o.emit(Event{
		Type:     EventTaskFailed,
		Time:     time.Now(),
		TaskID:   t.ID,
		TaskType: t.Type,
		GoalID:   t.GoalID,
		Error:    te.Err.Error(),
	})
	o.cancelDependents(t.ID)
}

// launch moves a task to active and starts its handler goroutine.
func (o *Orchestrator) launch(ctx context.Context, t *tasks.Task) {
	started, err := o.store.Activate(t.ID)
	if err != nil {
		o.logger.Err(err).Str("task_id", t.ID).Msg("activate task")
		return
	}
	started.RetryAt = time.Time{}
	number := started.RetryCount + 1

	hctx, cancel := context.WithCancel(ctx)

	o.mu.Lock()
	if o.cfg.IsExclusiveType(string(started.Type)) {
		o.locks[started.Type] = started.ID
	}
	o.running[started.ID] = &attempt{cancel: cancel, number: number}
	handler := o.handlers[started.Type]
	o.mu.Unlock()

	o.logger.InfoCtx("task started", map[string]any{
		"task_id": started.ID,
		"type":    string(started.Type),
		"attempt": number,
	})
	o.emit(Event{
		Type:     EventTaskStarted,
		Time:     time.Now(),
		TaskID:   started.ID,
		TaskType: started.Type,
		GoalID:   started.GoalID,
		Attempt:  number,
	})

	go func() {
		defer func() {
			if r := recover(); r != nil {
				o.completions <- completion{taskID: started.ID, attempt: number, err: fmt.Errorf("handler panic: %v", r)}
			}
		}()
		result, err := handler(hctx, started)
		o.completions <- completion{taskID: started.ID, attempt: number, result: result, err: err}
	}()
}

// enforceTimeouts fails attempts whose execution exceeded the task timeout.
func (o *Orchestrator) enforceTimeouts(now time.Time) {
	for _, t := range o.store.Active() {
		if t.Timeout <= 0 || now.Sub(t.StartedAt) < t.Timeout {
			continue
		}

		o.mu.Lock()
		att, ok := o.running[t.ID]
		if ok {
			delete(o.running, t.ID)
		}
		o.mu.Unlock()
		if !ok {
			continue
		}
		att.cancel()

		o.releaseLock(t)
		o.failAttempt(t, FailTimeout, fmt.Sprintf("timed out after %s", t.Timeout), now.Sub(t.StartedAt), att.number)
	}
}

// handleCompletion applies one handler outcome. Completions from
// attempts already timed out or cancelled are discarded.
func (o *Orchestrator) handleCompletion(c completion) {
	o.mu.Lock()
	att, ok := o.running[c.taskID]
	if !ok || att.number != c.attempt {
		o.mu.Unlock()
		return // stale: attempt was timed out or cancelled
	}
	delete(o.running, c.taskID)
	o.mu.Unlock()
	att.cancel()

	t, found := o.store.Get(c.taskID)
	if !found {
		return
	}
	duration := time.Since(t.StartedAt)
	o.releaseLock(t)

	if c.err != nil {
		o.failAttempt(t, FailHandler, c.err.Error(), duration, c.attempt)
		return
	}

	if _, err := o.store.Complete(t.ID, c.result); err != nil {
		o.logger.Err(err).Str("task_id", t.ID).Msg("complete task")
		return
	}
	if o.tracker != nil {
		o.tracker.RecordRun(string(t.Type), t.ID, t.GoalID, duration, true, "")
	}
	o.logger.InfoCtx("task completed", map[string]any{
		"task_id":  t.ID,
		"type":     string(t.Type),
		"duration": duration.String(),
	})
	o.emit(Event{
		Type:     EventTaskCompleted,
		Time:     time.Now(),
		TaskID:   t.ID,
		TaskType: t.Type,
		GoalID:   t.GoalID,
		Attempt:  c.attempt,
		Message:  c.result,
		Duration: duration,
	})
	o.checkGoal(t.GoalID)
}

// failAttempt records a failed execution attempt and either requeues the
// task with backoff or fails it terminally.
func (o *Orchestrator) failAttempt(t *tasks.Task, kind FailureKind, errMsg string, duration time.Duration, number int) {
	te := &TaskError{Kind: kind, TaskID: t.ID, Err: errors.New(errMsg)}
	if o.tracker != nil {
		o.tracker.RecordRun(string(t.Type), t.ID, t.GoalID, duration, false, errMsg)
	}

	t.RetryCount++
	if te.Retryable() && o.cfg.AutoRetry && t.RetryCount <= t.MaxRetries {
		t.RetryAt = time.Now().Add(o.cfg.RetryBackoff)
		if _, err := o.store.Requeue(t.ID); err != nil {
			o.logger.Err(err).Str("task_id", t.ID).Msg("requeue task")
			return
		}
		o.logger.WarnCtx("task retrying", map[string]any{
			"task_id":     t.ID,
			"kind":        string(kind),
			"retry":       t.RetryCount,
			"max_retries": t.MaxRetries,
		})
		o.emit(Event{
			Type:     EventTaskRetrying,
			Time:     time.Now(),
			TaskID:   t.ID,
			TaskType: t.Type,
			GoalID:   t.GoalID,
			Attempt:  t.RetryCount + 1,
			Error:    errMsg,
			Duration: duration,
		})
		return
	}

	if _, err := o.store.Fail(t.ID, fmt.Sprintf("%s: %s", kind, errMsg)); err != nil {
		o.logger.Err(err).Str("task_id", t.ID).Msg("fail task")
		return
	}
	o.logger.ErrorCtx("task failed", map[string]any{
		"task_id":  t.ID,
		"type":     string(t.Type),
		"kind":     string(kind),
		"attempts": number,
	})
	o.emit(Event{
		Type:     EventTaskFailed,
		Time:     time.Now(),
		TaskID:   t.ID,
		TaskType: t.Type,
		GoalID:   t.GoalID,
		Attempt:  number,
		Error:    errMsg,
		Duration: duration,
	})
	o.cancelDependents(t.ID)
}

// checkGoal emits a goal-completed event once all subtasks are done.
func (o *Orchestrator) checkGoal(goalID string) {
	if goalID == "" {
		return
	}
	g, ok := o.store.Goal(goalID)
	if !ok || g.Status != tasks.GoalCompleted {
		return
	}

	o.mu.Lock()
	done := o.announced[goalID]
	o.announced[goalID] = true
	o.mu.Unlock()
	if done {
		return
	}

	o.logger.InfoCtx("goal completed", map[string]any{"goal_id": goalID})
	o.emit(Event{
		Type:    EventGoalCompleted,
		Time:    time.Now(),
		GoalID:  goalID,
		Message: g.Description,
	})
}

// releaseLock frees the exclusive lock if this task holds it.
func (o *Orchestrator) releaseLock(t *tasks.Task) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.locks[t.Type] == t.ID {
		delete(o.locks, t.Type)
	}
}

// emit delivers an event to all subscribers.
func (o *Orchestrator) emit(ev Event) {
	o.mu.Lock()
	subs := make([]EventHandler, len(o.subscribers))
	copy(subs, o.subscribers)
	o.mu.Unlock()
	for _, h := range subs {
		h(ev)
	}
}

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/marcus/taskforge/internal/config"
	"github.com/marcus/taskforge/internal/planner"
	"github.com/marcus/taskforge/internal/tasks"
)

func testConfig() config.SchedulerConfig {
	return config.SchedulerConfig{
		MaxConcurrent: 5,
		TickInterval:  5 * time.Millisecond,
		RetryBackoff:  5 * time.Millisecond,
		AutoRetry:     true,
	}
}

func startOrchestrator(t *testing.T, o *Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = o.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// eventLog collects events safely across goroutines.
type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (e *eventLog) record(ev Event) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.events = append(e.events, ev)
}

func (e *eventLog) count(typ EventType) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, ev := range e.events {
		if ev.Type == typ {
			n++
		}
	}
	return n
}

func taskStatus(o *Orchestrator, id string) tasks.Status {
	t, ok := o.store.Get(id)
	if !ok {
		return ""
	}
	return t.Status
}

func TestTaskCompletes(t *testing.T) {
	log := &eventLog{}
	o := New(WithConfig(testConfig()), WithEventHandler(log.record))
	o.RegisterHandler(tasks.TypeExecuteRequest, func(ctx context.Context, task *tasks.Task) (string, error) {
		return "done", nil
	})

	task := tasks.New(tasks.TypeExecuteRequest, "run the thing", 5)
	if err := o.SubmitTask(task); err != nil {
		t.Fatal(err)
	}
	startOrchestrator(t, o)

	waitFor(t, func() bool { return taskStatus(o, task.ID) == tasks.StatusCompleted },
		"task never completed")

	got, _ := o.store.Get(task.ID)
	if got.Result != "done" {
		t.Errorf("Result = %q, want done", got.Result)
	}
	for _, typ := range []EventType{EventTaskQueued, EventTaskStarted, EventTaskCompleted} {
		if log.count(typ) != 1 {
			t.Errorf("event %s count = %d, want 1", typ, log.count(typ))
		}
	}
}

func TestRetryExhaustion(t *testing.T) {
	log := &eventLog{}
	o := New(WithConfig(testConfig()), WithEventHandler(log.record))

	var attempts atomic.Int64
	o.RegisterHandler(tasks.TypeFixErrors, func(ctx context.Context, task *tasks.Task) (string, error) {
		attempts.Add(1)
		return "", errors.New("still broken")
	})

	task := tasks.New(tasks.TypeFixErrors, "fix the build", 8)
	task.MaxRetries = 2
	if err := o.SubmitTask(task); err != nil {
		t.Fatal(err)
	}
	startOrchestrator(t, o)

	waitFor(t, func() bool { return taskStatus(o, task.ID) == tasks.StatusFailed },
		"task never failed terminally")

	if got := attempts.Load(); got != 3 {
		t.Errorf("attempts = %d, want 3 (1 initial + 2 retries)", got)
	}
	got, _ := o.store.Get(task.ID)
	if got.RetryCount != 3 {
		t.Errorf("RetryCount = %d, want 3", got.RetryCount)
	}
	if log.count(EventTaskRetrying) != 2 {
		t.Errorf("retrying events = %d, want 2", log.count(EventTaskRetrying))
	}
	if log.count(EventTaskFailed) != 1 {
		t.Errorf("failed events = %d, want 1", log.count(EventTaskFailed))
	}
}

func TestNoAutoRetryFailsImmediately(t *testing.T) {
	cfg := testConfig()
	cfg.AutoRetry = false
	o := New(WithConfig(cfg))

	var attempts atomic.Int64
	o.RegisterHandler(tasks.TypeFixErrors, func(ctx context.Context, task *tasks.Task) (string, error) {
		attempts.Add(1)
		return "", errors.New("nope")
	})

	task := tasks.New(tasks.TypeFixErrors, "fix it", 5)
	if err := o.SubmitTask(task); err != nil {
		t.Fatal(err)
	}
	startOrchestrator(t, o)

	waitFor(t, func() bool { return taskStatus(o, task.ID) == tasks.StatusFailed },
		"task never failed")
	if got := attempts.Load(); got != 1 {
		t.Errorf("attempts = %d, want 1", got)
	}
}

func TestPriorityOrderUnderContention(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 1
	o := New(WithConfig(cfg))

	var mu sync.Mutex
	var order []int
	o.RegisterHandler(tasks.TypeExecuteRequest, func(ctx context.Context, task *tasks.Task) (string, error) {
		mu.Lock()
		order = append(order, task.Priority)
		mu.Unlock()
		return "", nil
	})

	low := tasks.New(tasks.TypeExecuteRequest, "low priority work", 5)
	high := tasks.New(tasks.TypeExecuteRequest, "urgent work", 9)
	if err := o.SubmitTask(low); err != nil {
		t.Fatal(err)
	}
	if err := o.SubmitTask(high); err != nil {
		t.Fatal(err)
	}
	startOrchestrator(t, o)

	waitFor(t, func() bool {
		return taskStatus(o, low.ID) == tasks.StatusCompleted &&
			taskStatus(o, high.ID) == tasks.StatusCompleted
	}, "tasks never completed")

	mu.Lock()
	defer mu.Unlock()
	if len(order) != 2 || order[0] != 9 || order[1] != 5 {
		t.Errorf("execution order = %v, want [9 5]", order)
	}
}

func TestUnknownTypeFailsWithoutRetry(t *testing.T) {
	log := &eventLog{}
	o := New(WithConfig(testConfig()), WithEventHandler(log.record))

	task := tasks.New(tasks.Type("launch_rocket"), "to the moon", 5)
	if err := o.SubmitTask(task); err != nil {
		t.Fatal(err)
	}
	startOrchestrator(t, o)

	waitFor(t, func() bool { return taskStatus(o, task.ID) == tasks.StatusFailed },
		"unknown-type task never failed")

	got, _ := o.store.Get(task.ID)
	if got.RetryCount != 0 {
		t.Errorf("RetryCount = %d, want 0 for unknown type", got.RetryCount)
	}
	if !strings.Contains(got.Error, "no handler") {
		t.Errorf("Error = %q, want mention of missing handler", got.Error)
	}
	if log.count(EventTaskRetrying) != 0 {
		t.Errorf("retrying events = %d, want 0", log.count(EventTaskRetrying))
	}
}

func TestConcurrencyLimit(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 2
	o := New(WithConfig(cfg))

	var current, peak atomic.Int64
	o.RegisterHandler(tasks.TypeExecuteRequest, func(ctx context.Context, task *tasks.Task) (string, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return "", nil
	})

	ids := make([]string, 0, 6)
	for i := 0; i < 6; i++ {
		task := tasks.New(tasks.TypeExecuteRequest, "parallel work", 5)
		if err := o.SubmitTask(task); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, task.ID)
	}
	startOrchestrator(t, o)

	waitFor(t, func() bool {
		for _, id := range ids {
			if taskStatus(o, id) != tasks.StatusCompleted {
				return false
			}
		}
		return true
	}, "tasks never completed")

	if got := peak.Load(); got > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", got)
	}
}

func TestDependencyGating(t *testing.T) {
	o := New(WithConfig(testConfig()))

	var mu sync.Mutex
	var order []string
	o.RegisterHandler(tasks.TypeAnalyzeRequest, func(ctx context.Context, task *tasks.Task) (string, error) {
		mu.Lock()
		order = append(order, task.ID)
		mu.Unlock()
		return "", nil
	})

	first := tasks.New(tasks.TypeAnalyzeRequest, "analyze", 5)
	second := tasks.New(tasks.TypeAnalyzeRequest, "act on analysis", 9)
	second.DependsOn(first.ID)
	if err := o.SubmitTask(first); err != nil {
		t.Fatal(err)
	}
	if err := o.SubmitTask(second); err != nil {
		t.Fatal(err)
	}
	startOrchestrator(t, o)

	waitFor(t, func() bool { return taskStatus(o, second.ID) == tasks.StatusCompleted },
		"dependent task never completed")

	mu.Lock()
	defer mu.Unlock()
	// The dependent task outranks its dependency but must still wait.
	if len(order) != 2 || order[0] != first.ID || order[1] != second.ID {
		t.Errorf("execution order = %v, want dependency first", order)
	}
}

func TestExclusiveTypeSerialized(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConcurrent = 3
	cfg.ExclusiveTypes = []string{string(tasks.TypeFixErrors)}
	o := New(WithConfig(cfg))

	var current, peak atomic.Int64
	o.RegisterHandler(tasks.TypeFixErrors, func(ctx context.Context, task *tasks.Task) (string, error) {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(15 * time.Millisecond)
		current.Add(-1)
		return "", nil
	})

	ids := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		task := tasks.New(tasks.TypeFixErrors, "edit the same files", 5)
		if err := o.SubmitTask(task); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, task.ID)
	}
	startOrchestrator(t, o)

	waitFor(t, func() bool {
		for _, id := range ids {
			if taskStatus(o, id) != tasks.StatusCompleted {
				return false
			}
		}
		return true
	}, "exclusive tasks never completed")

	if got := peak.Load(); got != 1 {
		t.Errorf("peak concurrency for exclusive type = %d, want 1", got)
	}
}

func TestCancelPending(t *testing.T) {
	log := &eventLog{}
	o := New(WithConfig(testConfig()), WithEventHandler(log.record))

	task := tasks.New(tasks.TypeExecuteRequest, "never runs", 5)
	if err := o.SubmitTask(task); err != nil {
		t.Fatal(err)
	}

	if !o.Cancel(task.ID) {
		t.Fatal("Cancel() = false for pending task")
	}
	if got := taskStatus(o, task.ID); got != tasks.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}
	if o.Cancel(task.ID) {
		t.Error("Cancel() = true for already-cancelled task")
	}
	if log.count(EventTaskCancelled) != 1 {
		t.Errorf("cancelled events = %d, want 1", log.count(EventTaskCancelled))
	}
}

func TestCancelActive(t *testing.T) {
	o := New(WithConfig(testConfig()))

	released := make(chan struct{})
	o.RegisterHandler(tasks.TypeExecuteRequest, func(ctx context.Context, task *tasks.Task) (string, error) {
		defer close(released)
		<-ctx.Done()
		return "", ctx.Err()
	})

	task := tasks.New(tasks.TypeExecuteRequest, "long running", 5)
	if err := o.SubmitTask(task); err != nil {
		t.Fatal(err)
	}
	startOrchestrator(t, o)

	waitFor(t, func() bool { return taskStatus(o, task.ID) == tasks.StatusActive },
		"task never became active")

	if !o.Cancel(task.ID) {
		t.Fatal("Cancel() = false for active task")
	}

	select {
	case <-released:
	case <-time.After(time.Second):
		t.Fatal("handler context never cancelled")
	}

	// The handler's late error return must not overwrite the cancellation.
	time.Sleep(20 * time.Millisecond)
	if got := taskStatus(o, task.ID); got != tasks.StatusCancelled {
		t.Errorf("status = %s, want cancelled", got)
	}
}

func TestTimeoutFailsAttempt(t *testing.T) {
	cfg := testConfig()
	cfg.AutoRetry = false
	o := New(WithConfig(cfg))

	o.RegisterHandler(tasks.TypeExecuteRequest, func(ctx context.Context, task *tasks.Task) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	task := tasks.New(tasks.TypeExecuteRequest, "hangs forever", 5)
	task.Timeout = 15 * time.Millisecond
	if err := o.SubmitTask(task); err != nil {
		t.Fatal(err)
	}
	startOrchestrator(t, o)

	waitFor(t, func() bool { return taskStatus(o, task.ID) == tasks.StatusFailed },
		"task never timed out")

	got, _ := o.store.Get(task.ID)
	if !strings.Contains(got.Error, "timed out") {
		t.Errorf("Error = %q, want timeout message", got.Error)
	}
}

func TestGoalCompletion(t *testing.T) {
	log := &eventLog{}
	o := New(WithConfig(testConfig()), WithEventHandler(log.record))

	for _, typ := range []tasks.Type{tasks.TypeAnalyzeErrors, tasks.TypeFixErrors, tasks.TypeVerifyFixes} {
		o.RegisterHandler(typ, func(ctx context.Context, task *tasks.Task) (string, error) {
			return "ok", nil
		})
	}

	p := planner.New(config.PlannerConfig{BaseTimeout: time.Minute, MaxRetries: 3})
	plan := p.Decompose("Fix the flaky test errors", 7, nil)
	if err := o.SubmitPlan(plan); err != nil {
		t.Fatal(err)
	}
	startOrchestrator(t, o)

	waitFor(t, func() bool { return log.count(EventGoalCompleted) > 0 },
		"goal never completed")

	g, ok := o.store.Goal(plan.Goal.ID)
	if !ok {
		t.Fatal("goal missing from store")
	}
	if g.Progress != 1.0 {
		t.Errorf("goal progress = %f, want 1.0", g.Progress)
	}
	if g.Status != tasks.GoalCompleted {
		t.Errorf("goal status = %s, want completed", g.Status)
	}
	if log.count(EventGoalCompleted) != 1 {
		t.Errorf("goal completed events = %d, want exactly 1", log.count(EventGoalCompleted))
	}
}

func TestFailedDependencyCancelsDependents(t *testing.T) {
	log := &eventLog{}
	o := New(WithConfig(testConfig()), WithEventHandler(log.record))
	o.RegisterHandler(tasks.TypeFixErrors, func(ctx context.Context, task *tasks.Task) (string, error) {
		return "", errors.New("still broken")
	})
	o.RegisterHandler(tasks.TypeVerifyFixes, func(ctx context.Context, task *tasks.Task) (string, error) {
		return "verified", nil
	})
	o.RegisterHandler(tasks.TypeDocumentChanges, func(ctx context.Context, task *tasks.Task) (string, error) {
		return "documented", nil
	})

	fix := tasks.New(tasks.TypeFixErrors, "fix the build", 9)
	fix.MaxRetries = 1
	verify := tasks.New(tasks.TypeVerifyFixes, "verify the fix", 7).DependsOn(fix.ID)
	document := tasks.New(tasks.TypeDocumentChanges, "document the fix", 4).DependsOn(verify.ID)
	for _, task := range []*tasks.Task{fix, verify, document} {
		if err := o.SubmitTask(task); err != nil {
			t.Fatal(err)
		}
	}
	startOrchestrator(t, o)

	waitFor(t, func() bool { return taskStatus(o, fix.ID) == tasks.StatusFailed },
		"fix task never failed terminally")
	waitFor(t, func() bool {
		return taskStatus(o, verify.ID) == tasks.StatusCancelled &&
			taskStatus(o, document.ID) == tasks.StatusCancelled
	}, "dependents of the failed task were not cancelled")

	if got := log.count(EventTaskCancelled); got != 2 {
		t.Errorf("cancelled event count = %d, want 2", got)
	}
	log.mu.Lock()
	for _, ev := range log.events {
		if ev.Type == EventTaskCancelled && !strings.Contains(ev.Error, "did not complete") {
			t.Errorf("cancel event Error = %q, want a dependency reason", ev.Error)
		}
	}
	log.mu.Unlock()
}

func TestCancelCascadesToDependents(t *testing.T) {
	o := New(WithConfig(testConfig()))

	analyze := tasks.New(tasks.TypeAnalyzeErrors, "analyze the crash", 8)
	fix := tasks.New(tasks.TypeFixErrors, "fix the crash", 9).DependsOn(analyze.ID)
	for _, task := range []*tasks.Task{analyze, fix} {
		if err := o.SubmitTask(task); err != nil {
			t.Fatal(err)
		}
	}

	if !o.Cancel(analyze.ID) {
		t.Fatal("Cancel(analyze) = false, want true")
	}
	if got := taskStatus(o, fix.ID); got != tasks.StatusCancelled {
		t.Errorf("dependent status = %s, want cancelled", got)
	}
}

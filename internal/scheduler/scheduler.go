// Package scheduler triggers recurring and one-shot goal submissions.
// Recurring schedules use standard 5-field cron expressions from the
// config file; one-shot schedules fire at an absolute time.
package scheduler

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/marcus/taskforge/internal/logging"
)

// Scheduler wraps cron with one-shot timers.
type Scheduler struct {
	cron   *cron.Cron
	logger *logging.Logger

	mu     sync.Mutex
	timers []*time.Timer
}

// New creates a stopped scheduler. Call Start to begin firing jobs.
func New() *Scheduler {
	return &Scheduler{
		cron:   cron.New(),
		logger: logging.Component("scheduler"),
	}
}

// ScheduleCron registers a recurring job. The expression uses the
// standard 5-field cron format.
func (s *Scheduler) ScheduleCron(expr string, job func()) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(expr, job)
	if err != nil {
		return 0, fmt.Errorf("cron expression %q: %w", expr, err)
	}
	s.logger.InfoCtx("cron schedule added", map[string]any{"expr": expr})
	return id, nil
}

// ScheduleAt registers a one-shot job. Times in the past fire
// immediately after Start-independent timer delivery.
func (s *Scheduler) ScheduleAt(at time.Time, job func()) {
	delay := time.Until(at)
	if delay < 0 {
		delay = 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timers = append(s.timers, time.AfterFunc(delay, job))
}

// Entries returns the number of registered cron schedules.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

// Start begins firing cron jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started")
}

// Stop halts cron firing and cancels pending one-shot timers.
// Running jobs are allowed to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.timers {
		t.Stop()
	}
	s.timers = nil
	s.logger.Info("scheduler stopped")
}

// Package schedule triggers unattended runs from a cron expression.
// Only one run is ever live at a time: a tick that fires while a run
// is still in progress is skipped, phases must never overlap.
package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/hochfrequenz/phase-orchestrator/internal/logging"
)

// standardParser accepts the common five-field cron syntax.
var standardParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate checks a cron expression.
func Validate(expr string) error {
	if expr == "" {
		return fmt.Errorf("cron expression is required")
	}
	if _, err := standardParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// Scheduler fires a run function on a cron schedule.
type Scheduler struct {
	sched cron.Schedule
	log   *logging.Logger
	tick  time.Duration

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// New creates a Scheduler for the given expression.
func New(expr string, log *logging.Logger) (*Scheduler, error) {
	sched, err := standardParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return &Scheduler{sched: sched, log: log, tick: time.Minute}, nil
}

// NextRun returns the next time the schedule fires.
func (s *Scheduler) NextRun() time.Time {
	return s.sched.Next(time.Now())
}

// ShouldRun reports whether a run is due and none is in progress.
func (s *Scheduler) ShouldRun() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	last := s.lastRun
	if last.IsZero() {
		last = time.Now().Add(-24 * time.Hour)
	}
	return time.Now().After(s.sched.Next(last))
}

// Run loops until ctx is cancelled, invoking runFunc whenever the
// schedule fires. runFunc errors are logged; the loop keeps going.
func (s *Scheduler) Run(ctx context.Context, runFunc func(context.Context) error) {
	s.log.Printf("scheduler started, next run %s", s.NextRun().Format(time.RFC3339))
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !s.ShouldRun() {
				continue
			}
			s.markRunning()
			s.log.Printf("scheduled run starting")
			if err := runFunc(ctx); err != nil {
				s.log.Warnf("scheduled run: %v", err)
			}
			s.markComplete()
			s.log.Printf("next run %s", s.NextRun().Format(time.RFC3339))
		}
	}
}

func (s *Scheduler) markRunning() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
}

func (s *Scheduler) markComplete() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.lastRun = time.Now()
}

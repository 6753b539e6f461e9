package limits

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// UsageResetter zeroes all usage counters.
type UsageResetter interface {
	ResetUsage(ctx context.Context) (int64, error)
}

// ResetScheduler runs usage resets on a cron schedule.
type ResetScheduler struct {
	store    UsageResetter
	schedule string
	cron     *cron.Cron
	logger   *slog.Logger

	mu      sync.Mutex
	running bool
	lastRun time.Time
}

// NewResetScheduler creates a scheduler for the standard 5-field cron
// expression schedule. An empty schedule disables resets.
func NewResetScheduler(store UsageResetter, schedule string) *ResetScheduler {
	return &ResetScheduler{
		store:    store,
		schedule: schedule,
		cron:     cron.New(),
		logger:   slog.Default().With("component", "limits.scheduler"),
	}
}

// ValidateSchedule reports whether schedule parses as a standard cron spec.
func ValidateSchedule(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", schedule, err)
	}
	return nil
}

// Start registers the job and starts the cron runner. It stops when ctx ends.
func (s *ResetScheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("quota reset schedule not configured, skipping scheduler")
		return nil
	}
	if err := ValidateSchedule(s.schedule); err != nil {
		return err
	}

	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule quota reset: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("quota reset scheduler started", "schedule", s.schedule)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

// RunOnce performs a reset immediately.
func (s *ResetScheduler) RunOnce(ctx context.Context) {
	n, err := s.store.ResetUsage(ctx)
	if err != nil {
		s.logger.Error("scheduled quota reset failed", "error", err)
		return
	}

	s.mu.Lock()
	s.lastRun = time.Now()
	s.mu.Unlock()

	s.logger.Info("usage counters reset", "users_reset", n)
}

// Stop halts the runner and waits for an in-progress reset to finish.
func (s *ResetScheduler) Stop() {
	s.mu.Lock()
	running := s.running
	s.running = false
	s.mu.Unlock()

	if !running {
		return
	}
	// Not under mu: a running job takes mu when it finishes.
	<-s.cron.Stop().Done()
	s.logger.Info("quota reset scheduler stopped")
}

// NextRun returns the next scheduled reset, or nil when not running.
func (s *ResetScheduler) NextRun() *time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := s.cron.Entries()
	if !s.running || len(entries) == 0 {
		return nil
	}
	next := entries[0].Next
	return &next
}

// LastRun returns when the last reset completed.
func (s *ResetScheduler) LastRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRun
}

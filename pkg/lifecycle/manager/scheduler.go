package manager

import (
	"context"
	"time"

	"mercator-hq/ilm/pkg/schedule"
	"mercator-hq/ilm/pkg/telemetry/logging"
)

// Scheduler runs lifecycle cycles on a cron expression. A tick that fires
// while the previous cycle is still running is skipped.
type Scheduler struct {
	manager *Manager
	runner  *schedule.Runner
	now     func() time.Time
}

// NewScheduler creates a scheduler for m. An empty expression disables it.
func NewScheduler(m *Manager, expr string) *Scheduler {
	s := &Scheduler{manager: m, now: time.Now}
	s.runner = schedule.NewRunner("lifecycle_cycle", expr, s.runCycle, m.logger)
	return s
}

// Start schedules cycles until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.runner.Start(ctx)
}

// Stop stops scheduling and waits for a running cycle to complete.
func (s *Scheduler) Stop() {
	s.runner.Stop()
}

// IsRunning reports whether cycles are being scheduled.
func (s *Scheduler) IsRunning() bool {
	return s.runner.Running()
}

// NextRun returns when the next cycle fires.
func (s *Scheduler) NextRun() (time.Time, bool) {
	return s.runner.Next()
}

func (s *Scheduler) runCycle(ctx context.Context) {
	ctx = logging.WithTrigger(ctx, "schedule")
	result, err := s.manager.RunCycle(ctx, s.now())
	if err != nil {
		s.manager.logger.ErrorContext(ctx, "scheduled cycle failed", "run_id", result.RunID, "error", err)
	}
}

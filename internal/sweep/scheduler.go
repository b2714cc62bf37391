package sweep

import (
	"context"
	"log/slog"
	"time"
)

// Scheduler runs the sweep on a fixed interval.
type Scheduler struct {
	sweeper    *Sweeper
	interval   time.Duration
	runOnStart bool
	now        func() time.Time
}

func NewScheduler(s *Sweeper, interval time.Duration, runOnStart bool) *Scheduler {
	if interval <= 0 {
		interval = 24 * time.Hour
	}

	return &Scheduler{sweeper: s, interval: interval, runOnStart: runOnStart, now: time.Now}
}

// Start blocks until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("overdue sweep scheduled", "interval", s.interval, "run_on_start", s.runOnStart)

	if s.runOnStart {
		s.tick(ctx)
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("overdue sweep stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	if _, err := s.sweeper.Run(ctx, s.now()); err != nil {
		slog.Error("overdue sweep failed", "error", err)
	}
}

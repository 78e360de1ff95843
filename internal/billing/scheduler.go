package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/jjnetworks/notify/internal/log"
)

// Scheduler runs the billing cycle once a day at a fixed local hour.
type Scheduler struct {
	engine *Engine
	hour   int
	tz     *time.Location
	logger *slog.Logger
}

// NewScheduler creates a Scheduler firing daily at hour (0-23) in tz.
func NewScheduler(engine *Engine, hour int, tz *time.Location, logger *slog.Logger) *Scheduler {
	if tz == nil {
		tz = time.Local
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Scheduler{engine: engine, hour: hour, tz: tz, logger: logger}
}

// Run blocks until ctx is cancelled, firing the cycle at each scheduled time.
func (s *Scheduler) Run(ctx context.Context) {
	for {
		next := nextRunAt(time.Now().In(s.tz), s.hour)
		s.logger.Info("billing cycle scheduled", "at", next.Format(time.RFC3339))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if err := s.engine.RunCycle(ctx); err != nil {
				s.logger.Error("billing cycle failed", "err", err)
			}
		}
	}
}

// nextRunAt returns the next occurrence of hour after now.
func nextRunAt(now time.Time, hour int) time.Time {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}

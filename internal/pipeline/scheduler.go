package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
)

// Recomputer recomputes the metric summaries.
type Recomputer interface {
	RecomputeSummaries(ctx context.Context) (domain.AggregationResult, error)
}

// Scheduler invokes the aggregation run once at start and then on every tick.
type Scheduler struct {
	recomputer Recomputer
	interval   time.Duration
	clock      clockwork.Clock
	logger     *slog.Logger
}

// NewScheduler creates a Scheduler; interval must be positive.
func NewScheduler(r Recomputer, interval time.Duration, clock clockwork.Clock, logger *slog.Logger) *Scheduler {
	return &Scheduler{recomputer: r, interval: interval, clock: clock, logger: logger}
}

// Run blocks until the context is cancelled. Runs never overlap: a tick that
// fires during a slow run is coalesced by the ticker.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("aggregation scheduler started", "interval", s.interval)
	s.runOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("aggregation scheduler stopping", "reason", ctx.Err())
			return nil
		case <-ticker.Chan():
			s.runOnce(ctx)
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if _, err := s.recomputer.RecomputeSummaries(ctx); err != nil && ctx.Err() == nil {
		s.logger.Error("scheduled aggregation failed", "error", err)
	}
}

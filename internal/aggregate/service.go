// Package aggregate recomputes summary metrics over the observation table
// and upserts them by metric name.
package aggregate

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
	"github.com/couchcryptid/ocean-data-etl/internal/observability"
)

// Store is the relational capability the aggregation run needs.
type Store interface {
	Ping(ctx context.Context) error
	WithSnapshot(ctx context.Context, fn func(domain.Snapshot) error) error
}

// Service runs every metric definition as an independent unit of work.
type Service struct {
	store        Store
	defs         []Definition
	clock        clockwork.Clock
	storeTimeout time.Duration
	logger       *slog.Logger
	metrics      *observability.Metrics
}

// NewService creates an aggregation service. storeTimeout bounds the
// connection check and each metric's transaction; zero means unbounded.
func NewService(store Store, defs []Definition, clock clockwork.Clock, storeTimeout time.Duration, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		store:        store,
		defs:         defs,
		clock:        clock,
		storeTimeout: storeTimeout,
		logger:       logger,
		metrics:      metrics,
	}
}

// RecomputeSummaries evaluates every definition and upserts the defined
// ones. A failing definition is reported and the run continues; only an
// unreachable store aborts the run.
func (s *Service) RecomputeSummaries(ctx context.Context) (domain.AggregationResult, error) {
	start := s.clock.Now()
	var res domain.AggregationResult

	pingCtx, cancel := s.withTimeout(ctx)
	err := s.store.Ping(pingCtx)
	cancel()
	if err != nil {
		s.logger.Error("aggregation aborted, store unreachable", "error", err)
		return res, err
	}

	for _, def := range s.defs {
		written, err := s.recompute(ctx, def)
		switch {
		case err != nil:
			res.Failures = append(res.Failures, domain.MetricFailure{Metric: def.Name(), Error: err.Error()})
			s.metrics.SummaryOutcomes.WithLabelValues("failed").Inc()
			s.logger.Warn("metric recompute failed", "metric", def.Name(), "error", err)
		case written:
			res.MetricsUpdated++
			s.metrics.SummaryOutcomes.WithLabelValues("updated").Inc()
		default:
			res.MetricsSkipped++
			s.metrics.SummaryOutcomes.WithLabelValues("skipped").Inc()
			s.logger.Debug("metric undefined for current data, skipping", "metric", def.Name())
		}
	}

	s.metrics.AggregationDuration.Observe(s.clock.Since(start).Seconds())
	s.logger.Info("summaries recomputed",
		"updated", res.MetricsUpdated,
		"skipped", res.MetricsSkipped,
		"failed", len(res.Failures),
	)
	return res, nil
}

// recompute reads and upserts one metric in a single snapshot.
func (s *Service) recompute(ctx context.Context, def Definition) (bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var written bool
	err := s.store.WithSnapshot(ctx, func(snap domain.Snapshot) error {
		summary, ok, err := def.Compute(ctx, snap)
		if err != nil || !ok {
			return err
		}
		summary.MetricName = def.Name()
		summary.LastUpdated = s.clock.Now().UTC()
		if err := snap.UpsertSummary(ctx, summary); err != nil {
			return err
		}
		written = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return written, nil
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.storeTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.storeTimeout)
}

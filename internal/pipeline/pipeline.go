package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
	"github.com/couchcryptid/ocean-data-etl/internal/observability"
)

const (
	initialBackoff = 200 * time.Millisecond
	maxBackoff     = 5 * time.Second

	// maxIngestAttempts bounds retries of one notification so a persistently
	// failing object cannot stall its partition.
	maxIngestAttempts = 5
)

// EventExtractor blocks until the next object notification is available.
type EventExtractor interface {
	Extract(ctx context.Context) (domain.RawEvent, error)
}

// Ingester runs one object ingestion.
type Ingester interface {
	Ingest(ctx context.Context, bucket, key string) domain.IngestionResult
}

// ResultPublisher forwards terminal ingestion outcomes downstream.
type ResultPublisher interface {
	Publish(ctx context.Context, res domain.IngestionResult) error
}

// Pipeline consumes object notifications and ingests each referenced object.
type Pipeline struct {
	extractor EventExtractor
	ingester  Ingester
	publisher ResultPublisher
	logger    *slog.Logger
	metrics   *observability.Metrics
	running   atomic.Bool
	processed atomic.Int64
}

// New creates a Pipeline. publisher may be nil to disable outcome publishing.
func New(e EventExtractor, i Ingester, p ResultPublisher, logger *slog.Logger, metrics *observability.Metrics) *Pipeline {
	return &Pipeline{
		extractor: e,
		ingester:  i,
		publisher: p,
		logger:    logger,
		metrics:   metrics,
	}
}

// Ready reports whether the consume loop is running.
func (p *Pipeline) Ready() bool { return p.running.Load() }

// Processed returns the number of notifications that reached a terminal outcome.
func (p *Pipeline) Processed() int64 { return p.processed.Load() }

// CheckReadiness returns nil while the consume loop is running.
func (p *Pipeline) CheckReadiness(_ context.Context) error {
	if !p.running.Load() {
		return errors.New("event pipeline is not running")
	}
	return nil
}

// Run consumes notifications until the context is cancelled.
func (p *Pipeline) Run(ctx context.Context) error {
	p.logger.Info("pipeline started")
	p.running.Store(true)
	p.metrics.PipelineRunning.Set(1)
	defer func() {
		p.running.Store(false)
		p.metrics.PipelineRunning.Set(0)
	}()

	// Exponential backoff: start at 200ms, double each retry, cap at 5s.
	backoff := initialBackoff

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("pipeline stopping", "reason", ctx.Err())
			return nil
		default:
		}

		if !p.processNext(ctx, &backoff) {
			return nil
		}
	}
}

// processNext handles one notification. Returns false if the pipeline should stop.
func (p *Pipeline) processNext(ctx context.Context, backoff *time.Duration) bool {
	raw, err := p.extractor.Extract(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return false
		}
		p.logger.Error("extract event failed", "error", err)
		return backoffOrStop(ctx, backoff)
	}
	p.metrics.EventsConsumed.Inc()
	*backoff = initialBackoff

	events, err := domain.ParseObjectEvents(raw.Value)
	if err != nil {
		p.logger.Warn("unparseable notification, skipping message",
			"error", err,
			"topic", raw.Topic,
			"partition", raw.Partition,
			"offset", raw.Offset,
		)
		p.commitOffset(ctx, raw)
		return true
	}

	// The offset is committed only after every object the message names has
	// a published outcome; a restart mid-message re-delivers all of them and
	// the dedup ledger absorbs the ones already stored.
	for _, ev := range events {
		res, ok := p.ingestWithRetry(ctx, ev)
		if !ok {
			return false
		}
		if !p.publish(ctx, res) {
			return false
		}
	}

	p.commitOffset(ctx, raw)
	p.processed.Add(1)
	return true
}

// ingestWithRetry re-runs transient failures with backoff. Returns false if
// the context ended before a terminal outcome.
func (p *Pipeline) ingestWithRetry(ctx context.Context, ev domain.ObjectEvent) (domain.IngestionResult, bool) {
	backoff := initialBackoff
	for attempt := 1; ; attempt++ {
		res := p.ingester.Ingest(ctx, ev.Bucket, ev.Key)
		if !retryable(res) || attempt >= maxIngestAttempts {
			return res, true
		}
		p.logger.Warn("ingestion failed, retrying",
			"bucket", ev.Bucket,
			"object_key", ev.Key,
			"attempt", attempt,
			"cause", res.Cause,
			"error", res.Err,
		)
		if !backoffOrStop(ctx, &backoff) {
			return res, false
		}
	}
}

// publish forwards res until it succeeds or the context ends.
func (p *Pipeline) publish(ctx context.Context, res domain.IngestionResult) bool {
	if p.publisher == nil {
		return true
	}
	backoff := initialBackoff
	for {
		err := p.publisher.Publish(ctx, res)
		if err == nil {
			p.metrics.ResultsProduced.Inc()
			return true
		}
		p.logger.Error("publish result failed", "error", err, "object_key", res.ObjectKey)
		if !backoffOrStop(ctx, &backoff) {
			return false
		}
	}
}

// retryable reports whether a failed outcome may succeed on re-delivery.
func retryable(res domain.IngestionResult) bool {
	if res.Status != domain.StatusFailed {
		return false
	}
	switch res.Cause {
	case domain.CauseStore:
		return true
	case domain.CauseFetch:
		return !domain.IsNotFound(res.Err)
	default:
		return false
	}
}

// commitOffset commits the message offset if a commit function is available.
func (p *Pipeline) commitOffset(ctx context.Context, raw domain.RawEvent) {
	if raw.Commit == nil {
		return
	}
	if err := raw.Commit(ctx); err != nil {
		p.logger.Warn("commit offset failed", "error", err,
			"topic", raw.Topic, "partition", raw.Partition, "offset", raw.Offset)
	}
}

// backoffOrStop sleeps with the current backoff and advances it. Returns
// false if the context ended.
func backoffOrStop(ctx context.Context, backoff *time.Duration) bool {
	if ctx.Err() != nil {
		return false
	}
	if !sleepWithContext(ctx, *backoff) {
		return false
	}
	*backoff = nextBackoff(*backoff, maxBackoff)
	return true
}

func nextBackoff(current, maxBackoff time.Duration) time.Duration {
	next := current * 2
	if next > maxBackoff {
		return maxBackoff
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return true
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

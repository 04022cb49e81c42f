// Package ingest turns one uploaded observation file into committed records.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
	"github.com/couchcryptid/ocean-data-etl/internal/observability"
	"github.com/couchcryptid/ocean-data-etl/internal/tabular"
)

// DefaultPrefix is the object-key namespace eligible for ingestion.
const DefaultPrefix = "datasets/"

// maxRejectionDetails bounds the per-row details carried in a result.
// RowsRejected always holds the exact count.
const maxRejectionDetails = 100

// ObjectFetcher retrieves raw object bytes.
type ObjectFetcher interface {
	Fetch(ctx context.Context, bucket, key string) ([]byte, error)
}

// BatchStore commits a batch of records atomically.
type BatchStore interface {
	InsertBatch(ctx context.Context, batch domain.Batch) (int, error)
}

// Options configures a Service.
type Options struct {
	Prefix       string
	Dedup        bool
	FetchTimeout time.Duration
	StoreTimeout time.Duration
}

// Service orchestrates fetch, parse, validate, and persist for one object.
// It holds no per-call state and is safe for concurrent use.
type Service struct {
	fetcher ObjectFetcher
	store   BatchStore
	opts    Options
	logger  *slog.Logger
	metrics *observability.Metrics
	newID   func() string
}

// NewService creates an ingestion service.
func NewService(fetcher ObjectFetcher, store BatchStore, opts Options, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		fetcher: fetcher,
		store:   store,
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		newID:   uuid.NewString,
	}
}

// Ingest processes one object and reports a terminal outcome. It never
// retries; failures are safe to re-deliver.
func (s *Service) Ingest(ctx context.Context, bucket, key string) domain.IngestionResult {
	start := time.Now()
	res := s.ingest(ctx, bucket, key)

	s.metrics.Ingestions.WithLabelValues(string(res.Status), string(res.Cause)).Inc()
	if res.Status == domain.StatusSkipped {
		s.logger.Debug("object outside ingest prefix, skipping", "bucket", bucket, "object_key", key, "prefix", s.opts.Prefix)
		return res
	}
	s.metrics.IngestDuration.Observe(time.Since(start).Seconds())
	s.metrics.RowsInserted.Add(float64(res.RowsInserted))
	s.metrics.RowsRejected.Add(float64(res.RowsRejected))

	switch res.Status {
	case domain.StatusFailed:
		s.logger.Error("ingestion failed",
			"bucket", bucket, "object_key", key, "cause", res.Cause, "error", res.Err)
	case domain.StatusDuplicate:
		s.logger.Info("object already ingested", "bucket", bucket, "object_key", key)
	default:
		s.logger.Info("object ingested",
			"bucket", bucket,
			"object_key", key,
			"batch_id", res.BatchID,
			"rows_inserted", res.RowsInserted,
			"rows_rejected", res.RowsRejected,
		)
	}
	return res
}

func (s *Service) ingest(ctx context.Context, bucket, key string) domain.IngestionResult {
	res := domain.IngestionResult{Bucket: bucket, ObjectKey: key}
	if !strings.HasPrefix(key, s.opts.Prefix) {
		res.Status = domain.StatusSkipped
		return res
	}

	content, err := s.fetch(ctx, bucket, key)
	if err != nil {
		return failed(res, domain.CauseFetch, err)
	}
	s.metrics.ObjectBytes.Observe(float64(len(content)))

	records, rejections, err := ParseObservations(content, key)
	if err != nil {
		return failed(res, domain.CauseParse, err)
	}
	res.RowsRejected = len(rejections)
	if len(rejections) > maxRejectionDetails {
		rejections = rejections[:maxRejectionDetails]
	}
	res.Rejections = rejections

	batch := domain.Batch{
		ID:        s.newID(),
		Bucket:    bucket,
		ObjectKey: key,
		Records:   records,
	}
	if s.opts.Dedup {
		batch.ContentSHA256 = domain.ContentDigest(content)
		batch.DedupKey = domain.DedupKey(bucket, key, batch.ContentSHA256)
	}
	if len(records) == 0 && batch.DedupKey == "" {
		res.Status = domain.StatusSucceeded
		return res
	}

	inserted, err := s.commit(ctx, batch)
	switch {
	case errors.Is(err, domain.ErrDuplicateObject):
		res.Status = domain.StatusDuplicate
		return res
	case err != nil:
		return failed(res, domain.CauseStore, err)
	}

	res.Status = domain.StatusSucceeded
	res.BatchID = batch.ID
	res.RowsInserted = inserted
	return res
}

func (s *Service) fetch(ctx context.Context, bucket, key string) ([]byte, error) {
	if s.opts.FetchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.FetchTimeout)
		defer cancel()
	}
	content, err := s.fetcher.Fetch(ctx, bucket, key)
	if err != nil {
		var fe *domain.FetchError
		if !errors.As(err, &fe) {
			err = &domain.FetchError{Bucket: bucket, Key: key, Err: err}
		}
		return nil, err
	}
	return content, nil
}

// commit runs detached from the caller's cancellation: once started, a batch
// either commits or rolls back on its own, bounded only by StoreTimeout.
func (s *Service) commit(ctx context.Context, batch domain.Batch) (int, error) {
	ctx = context.WithoutCancel(ctx)
	if s.opts.StoreTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.StoreTimeout)
		defer cancel()
	}
	n, err := s.store.InsertBatch(ctx, batch)
	if err != nil && !errors.Is(err, domain.ErrDuplicateObject) {
		var se *domain.StoreError
		if !errors.As(err, &se) {
			err = &domain.StoreError{Op: "insert batch", Err: err}
		}
		return 0, err
	}
	return n, err
}

// ParseObservations reads every row of the file, keeping valid records in
// source order and collecting one ValidationError per rejected row.
func ParseObservations(content []byte, key string) ([]domain.ObservationRecord, []domain.ValidationError, error) {
	src, closeFn, err := tabular.Decompress(bytes.NewReader(content), key)
	if err != nil {
		return nil, nil, err
	}
	if closeFn != nil {
		defer closeFn() //nolint:errcheck // read-only stream
	}

	reader, err := tabular.NewReader(src, domain.RequiredColumns)
	if err != nil {
		return nil, nil, err
	}

	var (
		records    []domain.ObservationRecord
		rejections []domain.ValidationError
	)
	for {
		row, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return records, rejections, nil
		}
		if err != nil {
			return nil, nil, err
		}

		rec, err := domain.Validate(row)
		if err != nil {
			var ve *domain.ValidationError
			if !errors.As(err, &ve) {
				return nil, nil, fmt.Errorf("validate line %d: %w", row.Line, err)
			}
			rejections = append(rejections, *ve)
			continue
		}
		records = append(records, rec)
	}
}

func failed(res domain.IngestionResult, cause domain.FailureCause, err error) domain.IngestionResult {
	res.Status = domain.StatusFailed
	res.Cause = cause
	res.Err = err
	res.RowsInserted = 0
	return res
}

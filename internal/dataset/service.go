// Package dataset accepts observation file uploads into the object store,
// keeps the upload catalogue, and previews the column layout of a file.
package dataset

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/couchcryptid/ocean-data-etl/internal/domain"
	"github.com/couchcryptid/ocean-data-etl/internal/observability"
	"github.com/couchcryptid/ocean-data-etl/internal/tabular"
)

const defaultContentType = "application/octet-stream"

// ObjectWriter stores a new object.
type ObjectWriter interface {
	Put(ctx context.Context, bucket, key, contentType string, body []byte) error
}

// Catalog records and lists uploaded datasets.
type Catalog interface {
	RecordDataset(ctx context.Context, d domain.Dataset) (int64, error)
	ListDatasets(ctx context.Context) ([]domain.Dataset, error)
}

// Options configures a Service. An empty Bucket disables uploads.
type Options struct {
	Bucket  string
	Prefix  string
	Timeout time.Duration
}

// Service writes uploads under Prefix so the object notification that follows
// routes them into ingestion.
type Service struct {
	writer  ObjectWriter
	catalog Catalog
	opts    Options
	clock   clockwork.Clock
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewService creates a dataset service.
func NewService(w ObjectWriter, c Catalog, opts Options, clock clockwork.Clock, logger *slog.Logger, metrics *observability.Metrics) *Service {
	return &Service{
		writer:  w,
		catalog: c,
		opts:    opts,
		clock:   clock,
		logger:  logger,
		metrics: metrics,
	}
}

// Upload stores content as <prefix><unix millis>-<base name> and adds a
// catalogue row for it. A bad file name is a *domain.MalformedInputError and
// a catalogue failure a *domain.StoreError.
func (s *Service) Upload(ctx context.Context, filename, contentType string, content []byte) (domain.Dataset, error) {
	if s.opts.Bucket == "" {
		return domain.Dataset{}, domain.ErrUploadsDisabled
	}
	name, err := baseName(filename)
	if err != nil {
		s.metrics.Uploads.WithLabelValues("rejected").Inc()
		return domain.Dataset{}, err
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	now := s.clock.Now().UTC()
	d := domain.Dataset{
		OriginalFilename: filename,
		StoragePath:      s.opts.Prefix + strconv.FormatInt(now.UnixMilli(), 10) + "-" + name,
		Bucket:           s.opts.Bucket,
		DataType:         domain.DataTypeOceanographic,
		ContentType:      contentType,
		SizeBytes:        int64(len(content)),
		UploadedAt:       now,
	}

	if err := s.put(ctx, d, content); err != nil {
		s.metrics.Uploads.WithLabelValues("failed").Inc()
		s.logger.Error("upload failed", "bucket", d.Bucket, "object_key", d.StoragePath, "error", err)
		return domain.Dataset{}, fmt.Errorf("upload %s: %w", d.StoragePath, err)
	}

	id, err := s.record(ctx, d)
	if err != nil {
		s.metrics.Uploads.WithLabelValues("failed").Inc()
		s.logger.Error("dataset record failed", "bucket", d.Bucket, "object_key", d.StoragePath, "error", err)
		return domain.Dataset{}, err
	}
	d.ID = id

	s.metrics.Uploads.WithLabelValues("stored").Inc()
	s.logger.Info("dataset uploaded",
		"dataset_id", d.ID,
		"bucket", d.Bucket,
		"object_key", d.StoragePath,
		"bytes", d.SizeBytes,
	)
	return d, nil
}

func (s *Service) put(ctx context.Context, d domain.Dataset, content []byte) error {
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	return s.writer.Put(ctx, d.Bucket, d.StoragePath, d.ContentType, content)
}

// record runs detached from the caller once the object exists, so a client
// that disconnects does not leave an uncatalogued upload.
func (s *Service) record(ctx context.Context, d domain.Dataset) (int64, error) {
	ctx = context.WithoutCancel(ctx)
	if s.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
		defer cancel()
	}
	return s.catalog.RecordDataset(ctx, d)
}

// List returns the upload catalogue, most recent first.
func (s *Service) List(ctx context.Context) ([]domain.Dataset, error) {
	return s.catalog.ListDatasets(ctx)
}

// Analyze infers column types from the leading rows of a file. Gzip input is
// recognised by a .gz file name.
func (s *Service) Analyze(filename string, content []byte) ([]domain.ColumnSchema, error) {
	src, closeFn, err := tabular.Decompress(bytes.NewReader(content), filename)
	if err != nil {
		return nil, err
	}
	if closeFn != nil {
		defer closeFn() //nolint:errcheck // read-only stream
	}
	return tabular.InferSchema(src, tabular.DefaultSampleRows)
}

// baseName strips any client-side directory from an uploaded file name.
func baseName(filename string) (string, error) {
	name := path.Base(strings.ReplaceAll(strings.TrimSpace(filename), `\`, "/"))
	switch name {
	case "", ".", "..", "/":
		return "", &domain.MalformedInputError{Reason: fmt.Sprintf("invalid file name %q", filename)}
	}
	return name, nil
}

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"

	httpadapter "github.com/couchcryptid/ocean-data-etl/internal/adapter/http"
	kafkaadapter "github.com/couchcryptid/ocean-data-etl/internal/adapter/kafka"
	s3adapter "github.com/couchcryptid/ocean-data-etl/internal/adapter/s3"
	"github.com/couchcryptid/ocean-data-etl/internal/adapter/store"
	"github.com/couchcryptid/ocean-data-etl/internal/aggregate"
	"github.com/couchcryptid/ocean-data-etl/internal/config"
	"github.com/couchcryptid/ocean-data-etl/internal/dataset"
	"github.com/couchcryptid/ocean-data-etl/internal/ingest"
	"github.com/couchcryptid/ocean-data-etl/internal/observability"
	"github.com/couchcryptid/ocean-data-etl/internal/pipeline"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	metrics := observability.NewMetrics()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, metrics); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) error {
	openCtx, cancel := context.WithTimeout(ctx, cfg.StoreTimeout)
	defer cancel()

	st, err := store.Open(openCtx, store.Options{Driver: cfg.StoreDriver, DSN: cfg.StoreDSN()})
	if err != nil {
		return err
	}
	defer st.Close() //nolint:errcheck // best-effort on shutdown
	if err := st.EnsureSchema(openCtx); err != nil {
		return err
	}
	logger.Info("store connected", "driver", cfg.StoreDriver)

	objects, err := s3adapter.New(ctx, s3adapter.Config{
		Region:          cfg.S3Region,
		Endpoint:        cfg.S3Endpoint,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
		PathStyle:       cfg.S3PathStyle,
		MaxObjectBytes:  cfg.MaxObjectBytes,
	})
	if err != nil {
		return err
	}

	ingester := ingest.NewService(objects, st, ingest.Options{
		Prefix:       cfg.IngestPrefix,
		Dedup:        cfg.IngestDedup,
		FetchTimeout: cfg.FetchTimeout,
		StoreTimeout: cfg.StoreTimeout,
	}, logger, metrics)
	aggregator := aggregate.NewService(st, aggregate.DefaultDefinitions(), clockwork.NewRealClock(), cfg.StoreTimeout, logger, metrics)
	datasets := dataset.NewService(objects, st, dataset.Options{
		Bucket:  cfg.UploadBucket,
		Prefix:  cfg.IngestPrefix,
		Timeout: cfg.FetchTimeout,
	}, clockwork.NewRealClock(), logger, metrics)
	if cfg.UploadBucket == "" {
		logger.Info("uploads disabled: UPLOAD_BUCKET not set")
	}

	ready := readinessCheckers{st}

	var (
		reader *kafkaadapter.Reader
		writer *kafkaadapter.Writer
	)
	if cfg.KafkaEnabled() {
		reader = kafkaadapter.NewReader(cfg, logger)
		defer closeWithLog(logger, "kafka reader", reader.Close)

		var publisher pipeline.ResultPublisher
		if cfg.KafkaSinkTopic != "" {
			writer = kafkaadapter.NewWriter(cfg, clockwork.NewRealClock(), logger)
			defer closeWithLog(logger, "kafka writer", writer.Close)
			publisher = writer
		}

		p := pipeline.New(reader, ingester, publisher, logger, metrics)
		ready = append(ready, p)
		go func() {
			if err := p.Run(ctx); err != nil {
				logger.Error("pipeline error", "error", err)
			}
		}()
		logger.Info("kafka trigger enabled", "topic", cfg.KafkaSourceTopic, "group_id", cfg.KafkaGroupID)
	}

	if cfg.AggregationInterval > 0 {
		sched := pipeline.NewScheduler(aggregator, cfg.AggregationInterval, clockwork.NewRealClock(), logger)
		go func() {
			if err := sched.Run(ctx); err != nil {
				logger.Error("scheduler error", "error", err)
			}
		}()
	}

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Services{
		Ingester:   ingester,
		Aggregator: aggregator,
		Reader:     st,
		Datasets:   datasets,
	}, ready, logger)

	srvErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			srvErr <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-srvErr:
		return err
	}
	logger.Info("shutting down")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "error", err)
	}

	logger.Info("shutdown complete")
	return nil
}

// readinessCheckers is ready only when every member is.
type readinessCheckers []interface {
	CheckReadiness(ctx context.Context) error
}

func (rc readinessCheckers) CheckReadiness(ctx context.Context) error {
	for _, c := range rc {
		if err := c.CheckReadiness(ctx); err != nil {
			return err
		}
	}
	return nil
}

func closeWithLog(logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Error(name+" close error", "error", err)
	}
}

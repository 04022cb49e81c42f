package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	kafkago "github.com/segmentio/kafka-go"

	"github.com/couchcryptid/ocean-data-etl/internal/config"
	"github.com/couchcryptid/ocean-data-etl/internal/domain"
)

// Writer publishes ingestion outcomes to a Kafka topic.
// It implements pipeline.ResultPublisher.
type Writer struct {
	writer *kafkago.Writer
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured sink topic.
func NewWriter(cfg *config.Config, clock clockwork.Clock, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaSinkTopic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, clock: clock, logger: logger}
}

// Publish writes one ingestion outcome, keyed by object so outcomes for the
// same object land on the same partition.
func (w *Writer) Publish(ctx context.Context, res domain.IngestionResult) error {
	msg, err := serializeToMessage(res, w.clock.Now().UTC())
	if err != nil {
		return err
	}
	return w.writer.WriteMessages(ctx, msg)
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// outcome is the wire form of an ingestion result.
type outcome struct {
	Status       domain.IngestionStatus   `json:"status"`
	Bucket       string                   `json:"bucket"`
	ObjectKey    string                   `json:"object_key"`
	BatchID      string                   `json:"batch_id,omitempty"`
	RowsInserted int                      `json:"rows_inserted"`
	RowsRejected int                      `json:"rows_rejected"`
	Rejections   []domain.ValidationError `json:"rejections,omitempty"`
	Cause        domain.FailureCause      `json:"cause,omitempty"`
	Error        string                   `json:"error,omitempty"`
	ProcessedAt  time.Time                `json:"processed_at"`
}

// serializeToMessage marshals an IngestionResult into a Kafka message.
func serializeToMessage(res domain.IngestionResult, processedAt time.Time) (kafkago.Message, error) {
	data, err := json.Marshal(outcome{
		Status:       res.Status,
		Bucket:       res.Bucket,
		ObjectKey:    res.ObjectKey,
		BatchID:      res.BatchID,
		RowsInserted: res.RowsInserted,
		RowsRejected: res.RowsRejected,
		Rejections:   res.Rejections,
		Cause:        res.Cause,
		Error:        res.Error(),
		ProcessedAt:  processedAt,
	})
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize ingestion result: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(res.Bucket + "/" + res.ObjectKey),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "status", Value: []byte(res.Status)},
			{Key: "processed_at", Value: []byte(processedAt.Format(time.RFC3339))},
		},
	}, nil
}

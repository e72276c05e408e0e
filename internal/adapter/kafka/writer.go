package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/couchcryptid/snapshot-reconciler/internal/config"
	"github.com/couchcryptid/snapshot-reconciler/internal/domain"
	kafkago "github.com/segmentio/kafka-go"
)

const publishBatchSize = 500

// messageWriter is the subset of kafkago.Writer used for publishing.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// Writer produces master table rows to a Kafka topic.
// It implements pipeline.Publisher.
type Writer struct {
	writer messageWriter
	logger *slog.Logger
}

// NewWriter creates a Kafka producer for the configured master topic.
func NewWriter(cfg *config.Config, logger *slog.Logger) *Writer {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaMasterTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return &Writer{writer: w, logger: logger}
}

// PublishMaster publishes every master row keyed by its primary key, in
// batches. It returns the number of rows written before any failure.
func (w *Writer) PublishMaster(ctx context.Context, t *domain.Table, sel domain.Selection) (int, error) {
	published := 0
	batch := make([]kafkago.Message, 0, min(publishBatchSize, len(t.Rows)))
	for _, r := range t.Rows {
		msg, err := serializeToMessage(t, r, sel)
		if err != nil {
			return published, err
		}
		batch = append(batch, msg)
		if len(batch) == publishBatchSize {
			if err := w.writer.WriteMessages(ctx, batch...); err != nil {
				return published, fmt.Errorf("publish master rows: %w", err)
			}
			published += len(batch)
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		if err := w.writer.WriteMessages(ctx, batch...); err != nil {
			return published, fmt.Errorf("publish master rows: %w", err)
		}
		published += len(batch)
	}
	w.logger.Debug("master rows published", "count", published)
	return published, nil
}

func (w *Writer) Close() error {
	return w.writer.Close()
}

// serializeToMessage marshals one master row into a Kafka message. Null
// cells are omitted; finite numbers are encoded as JSON numbers and
// non-finite ones as their text form.
func serializeToMessage(t *domain.Table, r domain.Record, sel domain.Selection) (kafkago.Message, error) {
	doc := make(map[string]any, len(r.Cells)+1)
	doc[t.KeyColumn] = r.Key
	for c, v := range r.Cells {
		if f, ok := v.Float(); ok && !math.IsInf(f, 0) && !math.IsNaN(f) {
			doc[c] = f
			continue
		}
		doc[c] = v.Text()
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize master row %q: %w", r.Key, err)
	}
	return kafkago.Message{
		Key:   []byte(r.Key),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "snapshot_date", Value: []byte(sel.Newer.Date.Format(time.DateOnly))},
			{Key: "source", Value: []byte(sel.Newer.Name)},
		},
	}, nil
}

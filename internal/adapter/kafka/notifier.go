// Package kafka publishes compile events to a Kafka topic.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"go.ngs.io/climate-compiler/internal/config"
	"go.ngs.io/climate-compiler/internal/domain"
	"go.ngs.io/climate-compiler/internal/observability"
)

// EventType labels every message this notifier publishes.
const EventType = "compile.completed"

// MessageWriter is the subset of *kafkago.Writer the notifier needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	io.Closer
}

// Notifier announces written bundles, one message per compile.
type Notifier struct {
	writer  MessageWriter
	logger  *slog.Logger
	metrics *observability.Metrics
}

// NewNotifier creates a producer for the configured topic.
func NewNotifier(cfg *config.Config, logger *slog.Logger, metrics *observability.Metrics) *Notifier {
	w := &kafkago.Writer{
		Addr:         kafkago.TCP(cfg.KafkaBrokers...),
		Topic:        cfg.KafkaTopic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
	}
	return NewNotifierWithWriter(w, logger, metrics)
}

// NewNotifierWithWriter wraps an existing writer.
func NewNotifierWithWriter(w MessageWriter, logger *slog.Logger, metrics *observability.Metrics) *Notifier {
	return &Notifier{writer: w, logger: logger, metrics: metrics}
}

// Notify publishes ev keyed by its dataset, so events for one dataset keep
// their order on a single partition.
func (n *Notifier) Notify(ctx context.Context, ev domain.CompileEvent) error {
	msg, err := serializeToMessage(ev)
	if err != nil {
		n.observe("error")
		return err
	}
	if err := n.writer.WriteMessages(ctx, msg); err != nil {
		n.observe("error")
		return fmt.Errorf("publish compile event %s: %w", ev.ID, err)
	}
	n.observe("success")
	n.logger.Debug("compile event published", "id", ev.ID, "dataset", ev.Dataset)
	return nil
}

// Close flushes and closes the underlying writer.
func (n *Notifier) Close() error {
	return n.writer.Close()
}

func (n *Notifier) observe(outcome string) {
	if n.metrics != nil {
		n.metrics.Notifications.WithLabelValues(outcome).Inc()
	}
}

func serializeToMessage(ev domain.CompileEvent) (kafkago.Message, error) {
	data, err := json.Marshal(ev)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize compile event: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(ev.Dataset),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(EventType)},
			{Key: "event_id", Value: []byte(ev.ID)},
			{Key: "finished_at", Value: []byte(ev.FinishedAt.Format(time.RFC3339))},
		},
	}, nil
}

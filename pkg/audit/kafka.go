package audit

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events as JSON, keyed by user id so that one user's
// events stay ordered within a partition.
type KafkaSink struct {
	writer MessageWriter
	logger *slog.Logger
}

// kafkaBatchTimeout caps how long a partial batch waits before it is sent.
const kafkaBatchTimeout = 10 * time.Millisecond

// NewKafkaWriter builds an asynchronous writer for the audit topic, so Emit
// never waits on the broker. Delivery failures are logged as they complete.
func NewKafkaWriter(brokers []string, topic string, logger *slog.Logger) *kafka.Writer {
	if logger == nil {
		logger = slog.Default()
	}
	return &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: kafkaBatchTimeout,
		Async:        true,
		Completion:   deliveryLogger(logger),
	}
}

func deliveryLogger(logger *slog.Logger) func([]kafka.Message, error) {
	return func(msgs []kafka.Message, err error) {
		if err == nil {
			return
		}
		for _, m := range msgs {
			logger.Error("failed to deliver audit event", "error", err, "key", string(m.Key), "topic", m.Topic)
		}
	}
}

// NewKafkaSink wraps a message writer.
func NewKafkaSink(writer MessageWriter, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{writer: writer, logger: logger}
}

func (k *KafkaSink) Emit(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		k.logger.Error("failed to marshal audit event", "error", err, "event_id", e.ID)
		return
	}
	msg := kafka.Message{
		Key:   []byte(e.UserID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "severity", Value: []byte(e.Severity)},
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		k.logger.Error("failed to publish audit event", "error", err, "event_id", e.ID, "type", e.Type)
	}
}

// Close flushes and closes the underlying writer.
func (k *KafkaSink) Close() error {
	return k.writer.Close()
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaNotifier struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaNotifier publishes asynchronously; delivery errors are reported to
// the completion callback and logged.
func NewKafkaNotifier(brokers []string, topic string, logger *slog.Logger) (*KafkaNotifier, error) {
	if len(brokers) == 0 {
		return nil, fmt.Errorf("NewKafkaNotifier: at least one broker required")
	}
	w := &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		RequiredAcks: kafka.RequireAll,
		Balancer:     &kafka.Hash{},
		Async:        true,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(msgs []kafka.Message, err error) {
			if err != nil {
				logger.Error("notification delivery failed", "messages", len(msgs), "error", err)
			}
		},
	}
	return newKafkaNotifier(w, topic, logger), nil
}

func newKafkaNotifier(w messageWriter, topic string, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{writer: w, topic: topic, logger: logger}
}

func (n *KafkaNotifier) Notify(ctx context.Context, e Event) {
	payload, err := json.Marshal(e)
	if err != nil {
		n.logger.Error("notification marshal failed", "type", e.Type, "error", err)
		return
	}

	err = n.writer.WriteMessages(ctx, kafka.Message{
		Topic: n.topic,
		Key:   []byte(e.SubjectID.String()),
		Value: payload,
		Time:  e.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(e.Type)},
		},
	})
	if err != nil {
		n.logger.Warn("notification publish failed", "type", e.Type, "subject_id", e.SubjectID, "error", err)
	}
}

func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"

	"github.com/njoerd114/pinreminder/internal/model"
)

// MessageWriter is the subset of [kafkago.Writer] used by the sink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaSink publishes notifications as JSON, keyed by reminder ID so all
// triggers of one reminder land on the same partition.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaSink creates a producer for topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return NewKafkaSinkWithWriter(&kafkago.Writer{
		Addr:                   kafkago.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafkago.Hash{},
		RequiredAcks:           kafkago.RequireAll,
		AllowAutoTopicCreation: true,
	})
}

// NewKafkaSinkWithWriter creates a sink with a caller-supplied writer.
func NewKafkaSinkWithWriter(w MessageWriter) *KafkaSink {
	return &KafkaSink{writer: w}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Notify(ctx context.Context, n model.Notification) error {
	msg, err := notificationMessage(n)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publishing notification %s: %w", n.Tag, err)
	}
	return nil
}

// Close flushes and closes the producer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func notificationMessage(n model.Notification) (kafkago.Message, error) {
	data, err := json.Marshal(n)
	if err != nil {
		return kafkago.Message{}, fmt.Errorf("serialize notification: %w", err)
	}
	return kafkago.Message{
		Key:   []byte(n.Tag),
		Value: data,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte("reminder.triggered")},
			{Key: "triggered_at", Value: []byte(n.TriggeredAt.UTC().Format(time.RFC3339))},
		},
	}, nil
}

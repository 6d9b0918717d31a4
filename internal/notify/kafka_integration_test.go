//go:build integration

package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/njoerd114/pinreminder/internal/model"
)

func startKafka(t *testing.T) []string {
	t.Helper()
	ctx := context.Background()

	c, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0",
		tckafka.WithClusterID("pinreminder-test"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	brokers, err := c.Brokers(ctx)
	require.NoError(t, err)
	return brokers
}

func TestKafkaSink_Integration(t *testing.T) {
	brokers := startKafka(t)
	const topic = "reminder-notifications"

	sink := NewKafkaSink(brokers, topic)
	t.Cleanup(func() { _ = sink.Close() })

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	// The first write may race topic auto-creation.
	var err error
	for range 10 {
		if err = sink.Notify(ctx, sampleNotification()); err == nil {
			break
		}
		time.Sleep(time.Second)
	}
	require.NoError(t, err)

	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:   brokers,
		Topic:     topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  1 << 20,
	})
	t.Cleanup(func() { _ = reader.Close() })

	msg, err := reader.ReadMessage(ctx)
	require.NoError(t, err)
	require.Equal(t, "rem-1", string(msg.Key))

	var got model.Notification
	require.NoError(t, json.Unmarshal(msg.Value, &got))
	require.Equal(t, "Buy milk", got.Title)
}

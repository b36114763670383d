package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"order-lifecycle/internal/lifecycle"
	"order-lifecycle/internal/models"

	"github.com/segmentio/kafka-go"
)

// Consumer is the relay's single upstream subscription to the order change
// stream. Read errors surface as ErrStreamDisconnected so the relay can run
// its resynchronization protocol instead of assuming continuity.
type Consumer struct {
	reader  *kafka.Reader
	brokers []string
	topic   string
	groupID string
}

func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	c := &Consumer{
		brokers: brokers,
		topic:   topic,
		groupID: groupID,
	}
	c.reader = c.newReader()
	return c
}

func (c *Consumer) newReader() *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.brokers,
		Topic:    c.topic,
		GroupID:  c.groupID,
		MinBytes: 10e3, // 10KB
		MaxBytes: 10e6, // 10MB
	})
}

// Read blocks for the next change envelope. A malformed payload is
// reported as a plain error; a transport failure is wrapped in
// ErrStreamDisconnected.
func (c *Consumer) Read(ctx context.Context) (models.ChangeEnvelope, error) {
	msg, err := c.reader.ReadMessage(ctx)
	if err != nil {
		return models.ChangeEnvelope{}, fmt.Errorf("%w: %v", lifecycle.ErrStreamDisconnected, err)
	}

	var env models.ChangeEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return models.ChangeEnvelope{}, fmt.Errorf("unmarshal change envelope: %w", err)
	}
	return env, nil
}

// Reconnect tears down the current reader and subscribes again. The caller
// must treat everything since the last successful read as lost.
func (c *Consumer) Reconnect() error {
	if err := c.reader.Close(); err != nil {
		return err
	}
	c.reader = c.newReader()
	return nil
}

// Close gracefully shuts down the Kafka reader
func (c *Consumer) Close() error {
	return c.reader.Close()
}

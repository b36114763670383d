package kafka

import (
	"context"
	"encoding/json"
	"fmt"

	"order-lifecycle/internal/logger"
	"order-lifecycle/internal/models"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

// Producer publishes order change envelopes onto the change stream. One
// envelope is written per successful store mutation; messages are keyed by
// order id so per-order ordering is preserved within a partition.
type Producer struct {
	Writer *kafka.Writer
	Logger *logger.Logger
}

func NewProducer(brokers []string, topic string, log *logger.Logger) *Producer {
	writer := kafka.NewWriter(kafka.WriterConfig{
		Brokers: brokers,
		Topic:   topic,
	})
	return &Producer{Writer: writer, Logger: log}
}

// PublishOrderInserted streams a new-order envelope.
func (p *Producer) PublishOrderInserted(ctx context.Context, order models.Order) error {
	return p.publish(ctx, models.ChangeEnvelope{
		ChangeID: uuid.NewString(),
		Op:       models.OpInsert,
		Order:    order,
	})
}

// PublishOrderUpdated streams an update envelope carrying both the previous
// and the new status so the relay can classify without a store read.
func (p *Producer) PublishOrderUpdated(ctx context.Context, order models.Order, oldStatus models.OrderStatus) error {
	return p.publish(ctx, models.ChangeEnvelope{
		ChangeID:  uuid.NewString(),
		Op:        models.OpUpdate,
		Order:     order,
		OldStatus: oldStatus,
	})
}

func (p *Producer) publish(ctx context.Context, env models.ChangeEnvelope) error {
	msgBytes, err := json.Marshal(env)
	if err != nil {
		return err
	}

	if p.Logger != nil {
		p.Logger.LogKafka("PUBLISH", p.Writer.Topic, fmt.Sprintf("op=%s order=%s", env.Op, env.Order.OrderID))
	}

	return p.Writer.WriteMessages(ctx,
		kafka.Message{
			Key:   []byte(env.Order.OrderID),
			Value: msgBytes,
		},
	)
}

func (p *Producer) Close() error {
	return p.Writer.Close()
}

// NopPublisher discards change envelopes. It takes the producer's place
// when the change stream is disabled; connected sessions then serve
// snapshots without live updates.
type NopPublisher struct{}

func (NopPublisher) PublishOrderInserted(ctx context.Context, order models.Order) error {
	return nil
}

func (NopPublisher) PublishOrderUpdated(ctx context.Context, order models.Order, oldStatus models.OrderStatus) error {
	return nil
}

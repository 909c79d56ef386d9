// Package broker wraps the durable log the services communicate through.
// Producers confirm writes against all in-sync replicas; consumers commit
// offsets manually, after the side effect, so delivery is at-least-once.
package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flightwatch/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/segmentio/kafka-go"
)

// Producer publishes messages to one topic.
type Producer struct {
	writer *kafka.Writer
	logger *log.Helper
}

// NewProducer creates a producer for the given topic.
//
// Messages are keyed by the caller, and the hash balancer pins a key to a
// partition: all results for one airport, and all notifications for one
// recipient, stay ordered.
func NewProducer(c *conf.Kafka, topic string, logger log.Logger) *Producer {
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(c.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		logger: log.NewHelper(logger),
	}
}

// PublishJSON serializes v and publishes it under the given key.
func (p *Producer) PublishJSON(ctx context.Context, key string, v interface{}) error {
	value, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("broker: failed to marshal message: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		p.logger.Errorw("failed to publish message",
			"topic", p.writer.Topic,
			"key", key,
			"error", err)
		return fmt.Errorf("broker: failed to publish to %s: %w", p.writer.Topic, err)
	}

	p.logger.Debugw("message published", "topic", p.writer.Topic, "key", key)
	return nil
}

// Close flushes pending writes and releases the writer.
func (p *Producer) Close() error {
	return p.writer.Close()
}

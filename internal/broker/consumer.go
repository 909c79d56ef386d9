package broker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"flightwatch/internal/conf"

	"github.com/go-kratos/kratos/v2/log"
	"github.com/segmentio/kafka-go"
)

// ErrPoison marks a message that can never be processed (unparseable
// payload, impossible reference). Poison messages are committed and
// dropped: redelivering them would wedge the partition forever.
var ErrPoison = errors.New("broker: poison message")

// Handler processes one fetched message. Returning nil or ErrPoison
// commits the offset; any other error is treated as transient and the
// same message is retried with backoff, so the offset never moves past
// unprocessed work.
type Handler func(ctx context.Context, msg kafka.Message) error

// Retry backoff for transient handler failures. Doubles per attempt up
// to the cap; a downstream outage just slows the partition down instead
// of killing the consumer.
const (
	defaultRetryBackoff = time.Second
	maxRetryBackoff     = 30 * time.Second
)

// fetcher is the part of kafka.Reader the consumer loop needs.
// Narrowed for tests.
type fetcher interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer runs a manual-commit consume loop over one topic as part of a
// consumer group.
type Consumer struct {
	reader fetcher
	topic  string
	logger *log.Helper

	// retryBackoff overrides the initial backoff; zero selects the default.
	retryBackoff time.Duration
}

// NewConsumer creates a consumer for the given topic and group.
func NewConsumer(c *conf.Kafka, topic, group string, logger log.Logger) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:           c.Brokers,
			Topic:             topic,
			GroupID:           group,
			StartOffset:       kafka.FirstOffset,
			QueueCapacity:     int(c.MaxBatch),
			SessionTimeout:    c.SessionTimeout.AsDuration(),
			HeartbeatInterval: c.HeartbeatInterval.AsDuration(),
		}),
		topic:  topic,
		logger: log.NewHelper(logger),
	}
}

// Run consumes until the context is canceled. The offset is committed
// only after the handler finished its side effect: a crash between
// effect and commit redelivers the message, never loses it. Transient
// handler failures retry the same message in place; only cancellation
// ends the loop.
func (c *Consumer) Run(ctx context.Context, handler Handler) error {
	for {
		msg, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return fmt.Errorf("broker: fetch from %s failed: %w", c.topic, err)
		}

		if err := c.handleWithRetry(ctx, handler, msg); err != nil {
			// Only cancellation escapes the retry loop.
			return nil
		}

		if err := c.reader.CommitMessages(ctx, msg); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("broker: commit on %s failed: %w", c.topic, err)
		}
	}
}

// handleWithRetry invokes the handler until it succeeds or declares the
// message poison. Anything else is a transient downstream failure: back
// off and retry the same message, so processing resumes from the exact
// position once the dependency recovers.
func (c *Consumer) handleWithRetry(ctx context.Context, handler Handler, msg kafka.Message) error {
	backoff := c.retryBackoff
	if backoff <= 0 {
		backoff = defaultRetryBackoff
	}

	for {
		err := handler(ctx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrPoison) {
			c.logger.Warnw("dropping poison message",
				"topic", c.topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
				"error", err)
			return nil
		}

		c.logger.Errorw("handler failed, retrying message",
			"topic", c.topic,
			"partition", msg.Partition,
			"offset", msg.Offset,
			"backoff", backoff.String(),
			"error", err)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxRetryBackoff {
			backoff = maxRetryBackoff
		}
	}
}

// Close releases the underlying reader.
func (c *Consumer) Close() error {
	return c.reader.Close()
}

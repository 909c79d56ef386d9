package server

import (
	"context"

	"flightwatch/internal/broker"
)

// ConsumerServer adapts a broker consume loop to the Kratos server
// lifecycle. Start blocks on the loop; Kratos cancels the context on
// shutdown and Run returns cleanly.
type ConsumerServer struct {
	consumer *broker.Consumer
	handler  broker.Handler
}

// NewConsumerServer wraps a consumer and its message handler.
func NewConsumerServer(consumer *broker.Consumer, handler broker.Handler) *ConsumerServer {
	return &ConsumerServer{consumer: consumer, handler: handler}
}

// Start runs the consume loop until the context is canceled.
func (s *ConsumerServer) Start(ctx context.Context) error {
	return s.consumer.Run(ctx, s.handler)
}

// Stop releases the underlying reader.
func (s *ConsumerServer) Stop(_ context.Context) error {
	return s.consumer.Close()
}

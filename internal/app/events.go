package app

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// EventPublisher publishes domain events to the message broker.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

const publishTimeout = 5 * time.Second

// eventSink publishes best-effort. A nil publisher drops events.
type eventSink struct {
	publisher EventPublisher
	exchange  string
	logger    logrus.FieldLogger
}

func (s eventSink) emit(routingKey string, body interface{}) {
	if s.publisher == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := s.publisher.Publish(ctx, s.exchange, routingKey, body); err != nil {
		s.logger.WithError(err).WithField("routing_key", routingKey).Warn("failed to publish event")
	}
}

/**
 * @description
 * This package provides a generic, reusable RabbitMQ event producer and consumer.
 *
 * Key features:
 * - Manages the AMQP connection and channel.
 * - Declares a topic exchange to allow route-based delivery.
 * - Publish marshals a Go struct into JSON and sends it.
 *
 * @dependencies
 * - github.com/rabbitmq/amqp091-go: The official Go client for RabbitMQ.
 */
package rabbitmq

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// EventProducer is a client for publishing events to RabbitMQ.
type EventProducer struct {
	conn     *amqp091.Connection
	channel  *amqp091.Channel
	logger   logrus.FieldLogger
	mu       sync.Mutex
	declared map[string]bool
}

// NewEventProducer creates and returns a new EventProducer.
func NewEventProducer(amqpURL string, logger logrus.FieldLogger) (*EventProducer, error) {
	conn, channel, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &EventProducer{
		conn:     conn,
		channel:  channel,
		logger:   logger.WithField("component", "rabbitmq_producer"),
		declared: make(map[string]bool),
	}, nil
}

// Publish sends an event to a specific exchange with a routing key.
func (p *EventProducer) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.declared[exchange] {
		if err := declareTopicExchange(p.channel, exchange); err != nil {
			return err
		}
		p.declared[exchange] = true
	}

	err = p.channel.PublishWithContext(ctx,
		exchange,   // exchange
		routingKey, // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			DeliveryMode: amqp091.Persistent,
			Body:         jsonBody,
		})
	if err != nil {
		return err
	}

	p.logger.WithFields(logrus.Fields{"exchange": exchange, "routing_key": routingKey}).Debug("published message")
	return nil
}

// Close gracefully closes the channel and connection.
func (p *EventProducer) Close() {
	if p.channel != nil {
		p.channel.Close()
	}
	if p.conn != nil {
		p.conn.Close()
	}
}

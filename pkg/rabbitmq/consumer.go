package rabbitmq

import (
	"context"
	"errors"

	"github.com/rabbitmq/amqp091-go"
	"github.com/sirupsen/logrus"
)

// Consumer handles the connection and consumption of messages from RabbitMQ.
type Consumer struct {
	conn    *amqp091.Connection
	channel *amqp091.Channel
	logger  logrus.FieldLogger
}

// NewConsumer creates a new RabbitMQ consumer.
func NewConsumer(amqpURL string, logger logrus.FieldLogger) (*Consumer, error) {
	conn, channel, err := dial(amqpURL)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Consumer{
		conn:    conn,
		channel: channel,
		logger:  logger.WithField("component", "rabbitmq_consumer"),
	}, nil
}

// MessageHandler processes a single RabbitMQ message.
// It returns true to acknowledge (ack) the message, or false to reject (nack) and requeue it.
type MessageHandler func(body []byte) bool

// Consume binds a durable queue to the exchange and processes deliveries until ctx
// is cancelled or the channel closes.
func (c *Consumer) Consume(ctx context.Context, exchange, queueName, routingKey string, handler MessageHandler) error {
	if err := declareTopicExchange(c.channel, exchange); err != nil {
		return err
	}

	q, err := c.channel.QueueDeclare(
		queueName, // name
		true,      // durable
		false,     // delete when unused
		false,     // exclusive
		false,     // no-wait
		nil,       // arguments
	)
	if err != nil {
		return err
	}

	if err := c.channel.QueueBind(q.Name, routingKey, exchange, false, nil); err != nil {
		return err
	}

	msgs, err := c.channel.Consume(
		q.Name, // queue
		"",     // consumer
		false,  // auto-ack (we want manual acknowledgment)
		false,  // exclusive
		false,  // no-local
		false,  // no-wait
		nil,    // args
	)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-msgs:
			if !ok {
				return errors.New("rabbitmq delivery channel closed")
			}
			c.logger.WithField("routing_key", d.RoutingKey).Debug("received message")
			if handler(d.Body) {
				d.Ack(false)
			} else {
				d.Nack(false, true)
			}
		}
	}
}

// Close gracefully closes the channel and connection.
func (c *Consumer) Close() {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		c.conn.Close()
	}
}

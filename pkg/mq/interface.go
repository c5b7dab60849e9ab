package mq

import (
	"context"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ClientInterface is the subset of Client used by publishers and consumers.
// Consumers and relays depend on it so tests can substitute mock.Client.
type ClientInterface interface {
	// Push publishes data and blocks until the broker confirms it.
	Push(ctx context.Context, data []byte) error

	// UnsafePush publishes without waiting for a confirmation.
	UnsafePush(ctx context.Context, data []byte) error

	// Consume returns the delivery stream of the queue. Every delivery must be
	// acknowledged with Ack or Nack.
	Consume() (<-chan amqp.Delivery, error)

	// QueueName reports the queue the client is bound to.
	QueueName() string

	// Close shuts down the channel and connection.
	Close() error
}

var _ ClientInterface = (*Client)(nil)

// Package mock provides a hand-written mq.ClientInterface for tests.
package mock

import (
	"context"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/water-monitor/pkg/mq"
)

// Client records calls and returns configurable results.
type Client struct {
	mu sync.Mutex

	// Queue is returned by QueueName.
	Queue string

	// PushFunc overrides Push. When nil, PushError is returned.
	PushFunc  func(ctx context.Context, data []byte) error
	PushError error
	pushed    [][]byte

	// UnsafePushError is returned by UnsafePush.
	UnsafePushError error
	unsafePushed    [][]byte

	// Deliveries is returned by Consume unless ConsumeError is set.
	Deliveries   chan amqp.Delivery
	ConsumeError error
	consumeCalls int

	CloseError error
	closeCalls int
}

// NewClient creates a mock bound to queue with an unbuffered delivery channel.
func NewClient(queue string) *Client {
	return &Client{
		Queue:      queue,
		Deliveries: make(chan amqp.Delivery),
	}
}

// Push implements mq.ClientInterface.
func (m *Client) Push(ctx context.Context, data []byte) error {
	m.mu.Lock()
	m.pushed = append(m.pushed, append([]byte(nil), data...))
	fn, err := m.PushFunc, m.PushError
	m.mu.Unlock()

	if fn != nil {
		return fn(ctx, data)
	}
	return err
}

// UnsafePush implements mq.ClientInterface.
func (m *Client) UnsafePush(_ context.Context, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.unsafePushed = append(m.unsafePushed, append([]byte(nil), data...))
	return m.UnsafePushError
}

// Consume implements mq.ClientInterface.
func (m *Client) Consume() (<-chan amqp.Delivery, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.consumeCalls++
	if m.ConsumeError != nil {
		return nil, m.ConsumeError
	}
	return m.Deliveries, nil
}

// QueueName implements mq.ClientInterface.
func (m *Client) QueueName() string {
	return m.Queue
}

// Close implements mq.ClientInterface.
func (m *Client) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeCalls++
	return m.CloseError
}

// Pushed returns copies of every payload passed to Push.
func (m *Client) Pushed() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.pushed...)
}

// UnsafePushed returns copies of every payload passed to UnsafePush.
func (m *Client) UnsafePushed() [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]byte(nil), m.unsafePushed...)
}

// ConsumeCalls reports how often Consume was called.
func (m *Client) ConsumeCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.consumeCalls
}

// CloseCalls reports how often Close was called.
func (m *Client) CloseCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeCalls
}

var _ mq.ClientInterface = (*Client)(nil)

package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"procodus.dev/water-monitor/internal/ingest"
	"procodus.dev/water-monitor/internal/store"
	"procodus.dev/water-monitor/pkg/logger"
	"procodus.dev/water-monitor/pkg/metrics"
	"procodus.dev/water-monitor/pkg/mq"
)

const (
	// submitTimeout bounds the processing of one queued or MQTT reading.
	submitTimeout = 5 * time.Second

	defaultResubscribeDelay = 2 * time.Second
)

// Submitter accepts readings. *ingest.Service implements it.
type Submitter interface {
	SubmitReading(ctx context.Context, sub ingest.Submission) (*store.Reading, error)
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger    *slog.Logger
	Client    mq.ClientInterface
	Submitter Submitter
	Metrics   *metrics.MQMetrics // optional

	// ResubscribeDelay is the pause between attempts to (re)open the
	// delivery stream. Defaults to 2s.
	ResubscribeDelay time.Duration
}

// Consumer reads JSON readings from the RabbitMQ ingest queue and submits them.
// Invalid messages are acknowledged and dropped; messages that fail to persist
// are requeued.
type Consumer struct {
	logger    *slog.Logger
	client    mq.ClientInterface
	submitter Submitter
	metrics   *metrics.MQMetrics
	delay     time.Duration

	startOnce sync.Once
	stopOnce  sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Client == nil {
		return nil, errors.New("mq client cannot be nil")
	}
	if cfg.Submitter == nil {
		return nil, errors.New("submitter cannot be nil")
	}
	delay := cfg.ResubscribeDelay
	if delay <= 0 {
		delay = defaultResubscribeDelay
	}

	return &Consumer{
		logger:    logger.ForComponent(cfg.Logger, "consumer", slog.String("queue", cfg.Client.QueueName())),
		client:    cfg.Client,
		submitter: cfg.Submitter,
		metrics:   cfg.Metrics,
		delay:     delay,
		done:      make(chan struct{}),
	}, nil
}

// Start begins consuming in the background. The consumer keeps re-opening
// the delivery stream across broker reconnects until ctx ends or Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	c.startOnce.Do(func() {
		ctx, c.cancel = context.WithCancel(ctx)
		go c.run(ctx)
	})
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.done)

	for {
		deliveries, err := c.client.Consume()
		if err != nil {
			c.logger.Debug("delivery stream not available yet", "error", err)
		} else {
			c.logger.Info("consumer started, waiting for messages")
			if stopped := c.processMessages(ctx, deliveries); stopped {
				return
			}
			c.logger.Warn("deliveries channel closed, re-subscribing")
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.delay):
		}
	}
}

// processMessages drains deliveries. It returns true when ctx has ended and
// false when the channel was closed underneath it.
func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) bool {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			return true
		case delivery, ok := <-deliveries:
			if !ok {
				return false
			}
			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery submits one message and settles it.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	sub, err := ingest.DecodeSubmission(delivery.Body)
	if err == nil {
		sctx, cancel := context.WithTimeout(ctx, submitTimeout)
		_, err = c.submitter.SubmitReading(sctx, sub)
		cancel()
	}

	switch {
	case err == nil:
		c.settle("ack", delivery.Ack(false))
	case ingest.IsValidation(err):
		c.logger.Warn("dropping invalid reading", "error", err)
		c.failure("validation")
		c.settle("drop", delivery.Ack(false))
	default:
		c.logger.Error("failed to store reading, requeueing", "error", err)
		c.failure("persistence")
		c.settle("nack", delivery.Nack(false, true))
	}
}

func (c *Consumer) settle(outcome string, err error) {
	if err != nil {
		c.logger.Error("failed to settle message", "outcome", outcome, "error", err)
		return
	}
	if c.metrics != nil {
		c.metrics.MessagesConsumed.WithLabelValues(c.client.QueueName(), outcome).Inc()
	}
}

func (c *Consumer) failure(reason string) {
	if c.metrics != nil {
		c.metrics.ConsumptionFailures.WithLabelValues(c.client.QueueName(), reason).Inc()
	}
}

// Stop stops processing and closes the MQ client. It is safe to call more
// than once and before Start.
func (c *Consumer) Stop() error {
	var err error
	c.stopOnce.Do(func() {
		c.logger.Info("stopping consumer")
		started := false
		c.startOnce.Do(func() {}) // prevents a later Start
		if c.cancel != nil {
			started = true
			c.cancel()
		}

		if cerr := c.client.Close(); cerr != nil && !errors.Is(cerr, mq.ErrAlreadyClosed) {
			err = fmt.Errorf("failed to close mq client: %w", cerr)
		}

		if started {
			<-c.done
		}
		c.logger.Info("consumer stopped")
	})
	return err
}

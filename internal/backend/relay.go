package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"procodus.dev/water-monitor/internal/hub"
	"procodus.dev/water-monitor/pkg/logger"
	"procodus.dev/water-monitor/pkg/metrics"
	"procodus.dev/water-monitor/pkg/mq"
)

const (
	defaultRelayBuffer  = 64
	relayPublishTimeout = 5 * time.Second
)

var errRelayStopped = errors.New("relay stopped")

// Publisher sends one encoded event to an external system.
type Publisher interface {
	Publish(ctx context.Context, payload []byte) error
	Close() error
}

// AMQPPublisher publishes events to a RabbitMQ queue with confirms.
type AMQPPublisher struct {
	Client mq.ClientInterface
}

// Publish implements Publisher.
func (p AMQPPublisher) Publish(ctx context.Context, payload []byte) error {
	return p.Client.Push(ctx, payload)
}

// Close implements Publisher.
func (p AMQPPublisher) Close() error {
	if err := p.Client.Close(); err != nil && !errors.Is(err, mq.ErrAlreadyClosed) {
		return err
	}
	return nil
}

// KafkaPublisher writes events to a Kafka topic.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher creates a producer for topic on brokers.
func NewKafkaPublisher(brokers []string, topic string) (*KafkaPublisher, error) {
	if len(brokers) == 0 {
		return nil, errors.New("kafka brokers cannot be empty")
	}
	if topic == "" {
		return nil, errors.New("kafka topic cannot be empty")
	}
	return &KafkaPublisher{writer: &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}}, nil
}

// Publish implements Publisher.
func (p *KafkaPublisher) Publish(ctx context.Context, payload []byte) error {
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(hub.EventName),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "content_type", Value: []byte("application/json")},
		},
	})
}

// Close implements Publisher.
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// RelayConfig holds the configuration for a Relay.
type RelayConfig struct {
	Name      string
	Publisher Publisher
	Logger    *slog.Logger
	Buffer    int                 // defaults to 64
	Metrics   *metrics.APIMetrics // optional
}

// Relay is a hub subscriber that forwards events to a Publisher from its own
// goroutine. When the buffer is full new events are dropped; the relay itself
// stays subscribed.
type Relay struct {
	name    string
	pub     Publisher
	logger  *slog.Logger
	metrics *metrics.APIMetrics
	events  chan hub.Event

	stop     chan struct{}
	done     chan struct{}
	startMu  sync.Mutex
	started  bool
	stopOnce sync.Once
}

// NewRelay creates a stopped relay.
func NewRelay(cfg *RelayConfig) (*Relay, error) {
	if cfg == nil {
		return nil, errors.New("relay config cannot be nil")
	}
	if cfg.Name == "" {
		return nil, errors.New("relay name cannot be empty")
	}
	if cfg.Publisher == nil {
		return nil, errors.New("publisher cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	size := cfg.Buffer
	if size <= 0 {
		size = defaultRelayBuffer
	}
	return &Relay{
		name:    cfg.Name,
		pub:     cfg.Publisher,
		logger:  logger.ForComponent(cfg.Logger, "relay", slog.String("relay", cfg.Name)),
		metrics: cfg.Metrics,
		events:  make(chan hub.Event, size),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}, nil
}

// Name returns the relay name used in logs and metrics.
func (r *Relay) Name() string { return r.name }

// Deliver implements hub.Subscriber. It never blocks.
func (r *Relay) Deliver(e hub.Event) error {
	select {
	case <-r.stop:
		return errRelayStopped
	default:
	}

	select {
	case r.events <- e:
	default:
		r.logger.Warn("relay buffer full, dropping event")
		r.count("dropped")
	}
	return nil
}

// Start launches the forwarding goroutine.
func (r *Relay) Start(ctx context.Context) {
	r.startMu.Lock()
	defer r.startMu.Unlock()
	if r.started {
		return
	}
	r.started = true
	go r.run(ctx)
}

func (r *Relay) run(ctx context.Context) {
	defer close(r.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case e := <-r.events:
			r.forward(ctx, e)
		}
	}
}

func (r *Relay) forward(ctx context.Context, e hub.Event) {
	payload, err := json.Marshal(e.Envelope())
	if err != nil {
		r.logger.Error("failed to encode event", "error", err)
		r.count("failed")
		return
	}

	pctx, cancel := context.WithTimeout(ctx, relayPublishTimeout)
	defer cancel()

	if err := r.pub.Publish(pctx, payload); err != nil {
		r.logger.Error("failed to publish event", "error", err)
		r.count("failed")
		return
	}
	r.count("published")
}

func (r *Relay) count(result string) {
	if r.metrics != nil {
		r.metrics.RelayEvents.WithLabelValues(r.name, result).Inc()
	}
}

// Stop ends forwarding and closes the publisher. Buffered events that have
// not been forwarded yet are discarded.
func (r *Relay) Stop() error {
	var err error
	r.stopOnce.Do(func() {
		close(r.stop)

		r.startMu.Lock()
		started := r.started
		r.started = true
		r.startMu.Unlock()
		if started {
			<-r.done
		}

		if cerr := r.pub.Close(); cerr != nil {
			err = fmt.Errorf("close %s publisher: %w", r.name, cerr)
		}
	})
	return err
}

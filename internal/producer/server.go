package producer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"procodus.dev/water-monitor/pkg/logger"
	"procodus.dev/water-monitor/pkg/metrics"
	"procodus.dev/water-monitor/pkg/mq"
)

// ServerConfig holds the configuration for the producer server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// Sink selects the ingest path: SinkAMQP or SinkHTTP.
	Sink string
	// RabbitMQURL and QueueName address the ingest queue for SinkAMQP.
	RabbitMQURL string
	QueueName   string
	// APIURL is the backend base URL for SinkHTTP.
	APIURL string
	// Interval is the time between readings of one producer
	Interval time.Duration
	// ProducerCount is the number of simulated stations
	ProducerCount int
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.ProducerMetrics
	// MQMetrics is the optional Prometheus metrics collector for MQ operations
	MQMetrics *metrics.MQMetrics
	// NewPublisher overrides publisher construction. Optional.
	NewPublisher func(id int) (Publisher, error)
}

// Server runs a fleet of simulated stations.
type Server struct {
	logger    *slog.Logger
	config    *ServerConfig
	producers []*Producer
	pubs      []Publisher
	wg        sync.WaitGroup
	metrics   *metrics.ProducerMetrics
	closeOnce sync.Once
}

var (
	errInvalidProducerCount = errors.New("producer count must be greater than 0")
	errInvalidInterval      = errors.New("interval must be greater than 0")
	errLoggerRequired       = errors.New("logger is required")
)

// NewServer creates a new producer server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.ProducerCount <= 0 {
		return nil, errInvalidProducerCount
	}
	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}
	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	newPublisher := cfg.NewPublisher
	if newPublisher == nil {
		var err error
		if newPublisher, err = defaultPublisher(cfg); err != nil {
			return nil, err
		}
	}

	s := &Server{
		config:    cfg,
		producers: make([]*Producer, 0, cfg.ProducerCount),
		pubs:      make([]Publisher, 0, cfg.ProducerCount),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}

	for i := range cfg.ProducerCount {
		pub, err := newPublisher(i)
		if err != nil {
			s.closePublishers()
			return nil, fmt.Errorf("create publisher %d: %w", i, err)
		}

		producer := NewProducer(pub, cfg.Metrics)
		s.pubs = append(s.pubs, pub)
		s.producers = append(s.producers, producer)

		s.logger.Info("created producer instance",
			"producer_id", i,
			"sink", pub.Sink(),
			"station_id", producer.Station.ID,
			"station", producer.Station.Label(),
		)
	}

	return s, nil
}

// defaultPublisher builds publishers for the configured sink.
func defaultPublisher(cfg *ServerConfig) (func(int) (Publisher, error), error) {
	switch cfg.Sink {
	case SinkAMQP, "":
		if cfg.RabbitMQURL == "" || cfg.QueueName == "" {
			return nil, errors.New("rabbitmq URL and queue name are required for the amqp sink")
		}
		return func(id int) (Publisher, error) {
			client := mq.New(mq.Config{
				URL:     cfg.RabbitMQURL,
				Queue:   cfg.QueueName,
				Durable: true,
				Logger:  logger.ForComponent(cfg.Logger, "mq-client", slog.Int("producer_id", id)),
				Metrics: cfg.MQMetrics,
			})
			return AMQPPublisher{Client: client}, nil
		}, nil
	case SinkHTTP:
		return func(int) (Publisher, error) {
			return NewHTTPPublisher(cfg.APIURL, nil)
		}, nil
	default:
		return nil, fmt.Errorf("unknown sink %q", cfg.Sink)
	}
}

// Run starts all producers and blocks until shutdown signal is received.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	for i, producer := range s.producers {
		s.wg.Add(1)
		go s.runProducer(ctx, i, producer)
	}

	s.logger.Info("producer server started",
		"producer_count", len(s.producers),
		"interval", s.config.Interval,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.logger.Info("waiting for producers to shut down...")
	s.wg.Wait()

	s.closePublishers()

	s.logger.Info("producer server stopped")
	return nil
}

// runProducer publishes one reading per interval until ctx ends.
func (s *Server) runProducer(ctx context.Context, id int, producer *Producer) {
	defer s.wg.Done()

	if s.metrics != nil {
		s.metrics.ActiveProducers.Inc()
		defer s.metrics.ActiveProducers.Dec()
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	producerLogger := s.logger.With(slog.Int("producer_id", id), slog.String("station_id", producer.Station.ID))
	producerLogger.Info("producer started")

	for {
		select {
		case <-ctx.Done():
			producerLogger.Info("producer shutting down")
			return

		case <-ticker.C:
			if err := producer.RandomDataPoint(ctx); err != nil {
				// Keep producing; the next tick may succeed.
				producerLogger.Error("failed to publish reading", "error", err)
				continue
			}
			producerLogger.Debug("reading published")
		}
	}
}

// closePublishers closes every publisher once, in parallel.
func (s *Server) closePublishers() {
	s.closeOnce.Do(func() {
		var wg sync.WaitGroup
		for i, pub := range s.pubs {
			wg.Add(1)
			go func(id int, p Publisher) {
				defer wg.Done()
				if err := p.Close(); err != nil {
					s.logger.Error("failed to close publisher", "producer_id", id, "error", err)
					return
				}
				s.logger.Debug("publisher closed", "producer_id", id)
			}(i, pub)
		}
		wg.Wait()
	})
}

// Shutdown closes all publishers without waiting for Run.
func (s *Server) Shutdown() error {
	s.logger.Info("shutdown requested")
	s.closePublishers()
	return nil
}

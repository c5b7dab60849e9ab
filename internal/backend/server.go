// Package backend wires the water-monitor backend: storage, the broadcast hub,
// the HTTP API, the gRPC query service, device ingest adapters and event relays.
package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"
	"gorm.io/gorm"

	"procodus.dev/water-monitor/internal/api"
	"procodus.dev/water-monitor/internal/command"
	"procodus.dev/water-monitor/internal/hub"
	"procodus.dev/water-monitor/internal/ingest"
	"procodus.dev/water-monitor/internal/store"
	"procodus.dev/water-monitor/pkg/logger"
	"procodus.dev/water-monitor/pkg/metrics"
	"procodus.dev/water-monitor/pkg/mq"
	"procodus.dev/water-monitor/pkg/sensorrpc"
)

const (
	shutdownTimeout  = 10 * time.Second
	redisPingTimeout = 3 * time.Second
)

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Database configuration. Driver is detected from the URL when empty.
	DatabaseURL    string
	DatabaseDriver string

	// AdminSecret authorizes operator commands.
	AdminSecret string

	// HTTPPort serves the API and live channel. 0 picks a free port.
	HTTPPort int
	// GRPCPort enables the gRPC query service when positive.
	GRPCPort int

	// Redis latest-reading cache, enabled when RedisAddr is set.
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// RabbitMQ ingest queue and event relay, enabled when RabbitMQURL is set.
	RabbitMQURL string
	IngestQueue string
	EventQueue  string

	// MQTT device ingest, enabled when MQTTBroker is set.
	MQTTBroker   string
	MQTTTopic    string
	MQTTClientID string

	// Kafka event relay, enabled when KafkaBrokers is set.
	KafkaBrokers []string
	KafkaTopic   string

	// Optional collaborators.
	Notifier  command.Notifier
	Clock     clockwork.Clock
	Metrics   *metrics.APIMetrics
	MQMetrics *metrics.MQMetrics
}

// Server represents the backend process.
type Server struct {
	logger *slog.Logger
	config *ServerConfig

	db         *gorm.DB
	redis      *redis.Client
	hub        *hub.Hub
	relays     []*Relay
	consumer   *Consumer
	mqtt       *MQTTListener
	httpServer *http.Server
	grpcServer *grpc.Server

	httpAddr     net.Addr
	ready        chan struct{}
	shutdownOnce sync.Once
	shutdownErr  error
}

// NewServer validates cfg and creates a Server.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.DatabaseURL == "" {
		return nil, errors.New("database URL cannot be empty")
	}
	if cfg.AdminSecret == "" {
		return nil, errors.New("admin secret cannot be empty")
	}
	if cfg.HTTPPort < 0 {
		return nil, errors.New("HTTP port cannot be negative")
	}
	if cfg.GRPCPort < 0 {
		return nil, errors.New("gRPC port cannot be negative")
	}
	if cfg.RabbitMQURL != "" && cfg.IngestQueue == "" && cfg.EventQueue == "" {
		return nil, errors.New("rabbitmq requires an ingest or event queue")
	}
	if cfg.MQTTBroker != "" && cfg.MQTTTopic == "" {
		return nil, errors.New("mqtt topic cannot be empty")
	}
	if len(cfg.KafkaBrokers) > 0 && cfg.KafkaTopic == "" {
		return nil, errors.New("kafka topic cannot be empty")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
		ready:  make(chan struct{}),
	}, nil
}

// Ready is closed once every listener is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// HTTPAddr returns the bound HTTP address. Valid after Ready.
func (s *Server) HTTPAddr() string {
	if s.httpAddr == nil {
		return ""
	}
	return s.httpAddr.String()
}

// Run starts the backend and blocks until a signal, ctx cancellation or a
// listener failure, then shuts everything down.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting backend server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	readings, err := s.openStore()
	if err != nil {
		_ = s.Shutdown()
		return err
	}

	s.hub = hub.New(s.logger, s.config.Metrics)

	if err := s.startRelays(ctx); err != nil {
		_ = s.Shutdown()
		return err
	}

	svc, err := ingest.NewService(ingest.Config{
		Store:       readings,
		Broadcaster: s.hub,
		Logger:      s.logger,
		Metrics:     s.config.Metrics,
	})
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to initialize ingest service: %w", err)
	}

	notifier := s.config.Notifier
	if notifier == nil {
		notifier = command.LogNotifier{Logger: logger.ForComponent(s.logger, "notifier")}
	}
	gateway, err := command.NewGateway(command.Config{
		Secret:   s.config.AdminSecret,
		Notifier: notifier,
		Logger:   s.logger,
		Metrics:  s.config.Metrics,
	})
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to initialize command gateway: %w", err)
	}

	handler, err := api.New(api.Config{
		Readings:      svc,
		Commands:      gateway,
		Subscriptions: s.hub,
		Logger:        s.logger,
		Metrics:       s.config.Metrics,
	})
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to initialize HTTP API: %w", err)
	}

	serveErr := make(chan error, 2)

	httpAddr := net.JoinHostPort("", strconv.Itoa(s.config.HTTPPort))
	httpLis, err := net.Listen("tcp", httpAddr)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to listen on %s: %w", httpAddr, err)
	}
	s.httpAddr = httpLis.Addr()
	s.httpServer = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting HTTP server", "address", s.httpAddr.String())
	go func() {
		if err := s.httpServer.Serve(httpLis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	if s.config.GRPCPort > 0 {
		if err := s.startGRPC(svc, serveErr); err != nil {
			_ = s.Shutdown()
			return err
		}
	}

	if err := s.startIngestAdapters(ctx, svc); err != nil {
		_ = s.Shutdown()
		return err
	}

	close(s.ready)
	s.logger.Info("backend server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-serveErr:
		s.logger.Error("server error", "error", err)
		_ = s.Shutdown()
		return err
	}

	return s.Shutdown()
}

// openStore connects the database and, when configured, the Redis cache.
func (s *Server) openStore() (store.ReadingStore, error) {
	db, err := store.NewDB(&store.DBConfig{
		Logger: s.logger,
		DSN:    s.config.DatabaseURL,
		Driver: s.config.DatabaseDriver,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	gs, err := store.New(store.Config{
		DB:      db,
		Logger:  s.logger,
		Clock:   s.config.Clock,
		Metrics: s.config.Metrics,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if s.config.RedisAddr == "" {
		return gs, nil
	}

	s.redis = redis.NewClient(&redis.Options{
		Addr:     s.config.RedisAddr,
		Password: s.config.RedisPassword,
		DB:       s.config.RedisDB,
	})
	pingCtx, cancel := context.WithTimeout(context.Background(), redisPingTimeout)
	defer cancel()
	if err := s.redis.Ping(pingCtx).Err(); err != nil {
		// The cache falls back to the database on every error.
		s.logger.Warn("redis unavailable, serving latest from the database until it recovers", "error", err)
	}

	return store.NewCachedStore(store.CacheConfig{
		Store:   gs,
		Cache:   s.redis,
		Logger:  s.logger,
		TTL:     s.config.CacheTTL,
		Metrics: s.config.Metrics,
	})
}

// startRelays subscribes the configured event relays to the hub.
func (s *Server) startRelays(ctx context.Context) error {
	type namedPublisher struct {
		name string
		pub  Publisher
	}
	var pubs []namedPublisher

	if s.config.RabbitMQURL != "" && s.config.EventQueue != "" {
		client := mq.New(mq.Config{
			URL:     s.config.RabbitMQURL,
			Queue:   s.config.EventQueue,
			Durable: true,
			Logger:  s.logger,
			Metrics: s.config.MQMetrics,
		})
		pubs = append(pubs, namedPublisher{"amqp", AMQPPublisher{Client: client}})
	}

	if len(s.config.KafkaBrokers) > 0 {
		kp, err := NewKafkaPublisher(s.config.KafkaBrokers, s.config.KafkaTopic)
		if err != nil {
			return fmt.Errorf("failed to initialize kafka relay: %w", err)
		}
		pubs = append(pubs, namedPublisher{"kafka", kp})
	}

	for _, p := range pubs {
		relay, err := NewRelay(&RelayConfig{
			Name:      p.name,
			Publisher: p.pub,
			Logger:    s.logger,
			Metrics:   s.config.Metrics,
		})
		if err != nil {
			_ = p.pub.Close()
			return fmt.Errorf("failed to initialize %s relay: %w", p.name, err)
		}
		relay.Start(ctx)
		s.hub.Subscribe(relay)
		s.relays = append(s.relays, relay)
		s.logger.Info("event relay started", "relay", p.name)
	}
	return nil
}

func (s *Server) startGRPC(queries Queries, serveErr chan<- error) error {
	svc, err := NewSensorDataService(s.logger, queries, s.config.Metrics)
	if err != nil {
		return fmt.Errorf("failed to initialize gRPC service: %w", err)
	}

	s.grpcServer = grpc.NewServer()
	sensorrpc.RegisterSensorDataServer(s.grpcServer, svc)

	grpcAddr := fmt.Sprintf(":%d", s.config.GRPCPort)
	lis, err := net.Listen("tcp", grpcAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", grpcAddr, err)
	}

	s.logger.Info("starting gRPC server", "address", grpcAddr)
	go func() {
		if err := s.grpcServer.Serve(lis); err != nil {
			serveErr <- fmt.Errorf("gRPC server error: %w", err)
		}
	}()
	return nil
}

// startIngestAdapters starts the RabbitMQ consumer and MQTT listener.
func (s *Server) startIngestAdapters(ctx context.Context, sub Submitter) error {
	if s.config.RabbitMQURL != "" && s.config.IngestQueue != "" {
		client := mq.New(mq.Config{
			URL:     s.config.RabbitMQURL,
			Queue:   s.config.IngestQueue,
			Durable: true,
			Logger:  s.logger,
			Metrics: s.config.MQMetrics,
		})
		consumer, err := NewConsumer(&ConsumerConfig{
			Logger:    s.logger,
			Client:    client,
			Submitter: sub,
			Metrics:   s.config.MQMetrics,
		})
		if err != nil {
			_ = client.Close()
			return fmt.Errorf("failed to initialize consumer: %w", err)
		}
		s.consumer = consumer
		consumer.Start(ctx)
	}

	if s.config.MQTTBroker != "" {
		listener, err := NewMQTTListener(&MQTTConfig{
			Logger:    s.logger,
			Submitter: sub,
			Broker:    s.config.MQTTBroker,
			Topic:     s.config.MQTTTopic,
			ClientID:  s.config.MQTTClientID,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize mqtt listener: %w", err)
		}
		s.mqtt = listener
		if err := listener.Start(ctx); err != nil {
			return fmt.Errorf("failed to start mqtt listener: %w", err)
		}
	}
	return nil
}

// Shutdown tears the server down in reverse start order. It is safe to call
// more than once; later calls return the first result.
func (s *Server) Shutdown() error {
	s.shutdownOnce.Do(func() {
		s.shutdownErr = s.shutdown()
	})
	return s.shutdownErr
}

func (s *Server) shutdown() error {
	s.logger.Info("shutting down backend server")

	var errs []error

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP shutdown: %w", err))
		}
		cancel()
	}

	if s.grpcServer != nil {
		s.logger.Info("stopping gRPC server")
		s.grpcServer.GracefulStop()
	}

	if s.mqtt != nil {
		s.mqtt.Stop()
	}

	if s.consumer != nil {
		if err := s.consumer.Stop(); err != nil {
			errs = append(errs, fmt.Errorf("consumer shutdown: %w", err))
		}
	}

	for _, relay := range s.relays {
		if err := relay.Stop(); err != nil {
			errs = append(errs, err)
		}
	}

	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		}
	}

	if s.db != nil {
		if err := store.CloseDB(s.db, s.logger); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("backend server shutdown completed with errors", "error", err)
		return err
	}
	s.logger.Info("backend server shutdown completed successfully")
	return nil
}

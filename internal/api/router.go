// Package api exposes sensor readings, operator commands and the live update
// channel over HTTP.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"procodus.dev/water-monitor/internal/command"
	"procodus.dev/water-monitor/internal/hub"
	"procodus.dev/water-monitor/internal/ingest"
	"procodus.dev/water-monitor/internal/store"
	"procodus.dev/water-monitor/pkg/logger"
	"procodus.dev/water-monitor/pkg/metrics"
)

// Route paths.
const (
	PathLatest  = "/api/sensor-data/latest"
	PathHistory = "/api/sensor-data/history"
	PathSubmit  = "/api/sensor-data"
	PathSendSMS = "/api/send-sms"
	PathLive    = "/ws"
	PathHealth  = "/health"
	PathMetrics = "/metrics"
)

// Readings is the ingest and query surface. *ingest.Service implements it.
type Readings interface {
	SubmitReading(ctx context.Context, sub ingest.Submission) (*store.Reading, error)
	GetLatest(ctx context.Context) (*store.Reading, error)
	GetHistory(ctx context.Context) ([]store.Reading, error)
}

// Commands sends operator commands. *command.Gateway implements it.
type Commands interface {
	SendCommand(ctx context.Context, credential, target, message string) (command.Ack, error)
}

// Subscriptions registers live sessions. *hub.Hub implements it.
type Subscriptions interface {
	Subscribe(hub.Subscriber) hub.Handle
	Unsubscribe(hub.Handle)
}

// Config configures the API.
type Config struct {
	Readings      Readings
	Commands      Commands
	Subscriptions Subscriptions
	Logger        *slog.Logger
	// Metrics enables request instrumentation when set.
	Metrics *metrics.APIMetrics
	// MetricsHandler is served on /metrics. Defaults to metrics.Handler().
	MetricsHandler http.Handler
}

// API holds the dependencies of the HTTP handlers.
type API struct {
	readings Readings
	commands Commands
	subs     Subscriptions
	log      *slog.Logger
	metrics  *metrics.APIMetrics
	router   chi.Router
}

// New builds the API and its router.
func New(cfg Config) (*API, error) {
	if cfg.Readings == nil {
		return nil, errors.New("readings service cannot be nil")
	}
	if cfg.Commands == nil {
		return nil, errors.New("command gateway cannot be nil")
	}
	if cfg.Subscriptions == nil {
		return nil, errors.New("subscriptions cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.MetricsHandler == nil {
		cfg.MetricsHandler = metrics.Handler()
	}

	a := &API{
		readings: cfg.Readings,
		commands: cfg.Commands,
		subs:     cfg.Subscriptions,
		log:      logger.ForComponent(cfg.Logger, "api"),
		metrics:  cfg.Metrics,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(a.log))
	r.Use(middleware.Recoverer)
	r.Use(a.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		MaxAge:         300,
	}))

	r.Get(PathLatest, a.handle(a.getLatest))
	r.Get(PathHistory, a.handle(a.getHistory))
	r.Post(PathSubmit, a.handle(a.postReading))
	r.Post(PathSendSMS, a.handle(a.sendSMS))
	r.Get(PathLive, a.serveLive)
	r.Get(PathHealth, a.health)
	r.Method(http.MethodGet, PathMetrics, cfg.MetricsHandler)

	a.router = r
	return a, nil
}

// ServeHTTP implements http.Handler.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

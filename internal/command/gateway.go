// Package command authorizes operator commands with a shared secret and
// forwards them to a notifier.
package command

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"

	"procodus.dev/water-monitor/pkg/logger"
	"procodus.dev/water-monitor/pkg/metrics"
)

// AckMessage is returned to the caller once a command has been handed off.
const AckMessage = "SMS command sent"

// ErrAuth is returned when the supplied credential does not match.
var ErrAuth = errors.New("authentication failed")

// Notifier delivers a command to its destination.
type Notifier interface {
	Notify(ctx context.Context, target, message string) error
}

// Ack confirms that a command was accepted.
type Ack struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Config configures a Gateway.
type Config struct {
	Secret   string
	Notifier Notifier
	Logger   *slog.Logger
	Metrics  *metrics.APIMetrics // optional
}

// Gateway checks credentials and forwards commands.
type Gateway struct {
	secret   []byte
	notifier Notifier
	log      *slog.Logger
	metrics  *metrics.APIMetrics
}

// NewGateway creates a Gateway. An empty secret is rejected so that an unset
// configuration can never authenticate anyone.
func NewGateway(cfg Config) (*Gateway, error) {
	if cfg.Secret == "" {
		return nil, errors.New("admin secret cannot be empty")
	}
	if cfg.Notifier == nil {
		return nil, errors.New("notifier cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Gateway{
		secret:   []byte(cfg.Secret),
		notifier: cfg.Notifier,
		log:      logger.ForComponent(cfg.Logger, "command"),
		metrics:  cfg.Metrics,
	}, nil
}

// SendCommand forwards message to target if credential matches the secret.
func (g *Gateway) SendCommand(ctx context.Context, credential, target, message string) (Ack, error) {
	if subtle.ConstantTimeCompare([]byte(credential), g.secret) != 1 {
		g.log.Warn("command rejected", "reason", "bad credential")
		g.count("auth_failed")
		return Ack{}, ErrAuth
	}

	if err := g.notifier.Notify(ctx, target, message); err != nil {
		g.log.Error("notifier failed", "error", err)
		g.count("error")
		return Ack{}, fmt.Errorf("notify %q: %w", target, err)
	}

	g.log.Info("command sent", "target", target)
	g.count("success")
	return Ack{Success: true, Message: AckMessage}, nil
}

func (g *Gateway) count(outcome string) {
	if g.metrics != nil {
		g.metrics.CommandsTotal.WithLabelValues(outcome).Inc()
	}
}

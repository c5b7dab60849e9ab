// Package ingest validates submitted readings, stores them and announces them
// to live subscribers. It also answers latest and history queries.
package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"procodus.dev/water-monitor/internal/hub"
	"procodus.dev/water-monitor/internal/store"
	"procodus.dev/water-monitor/pkg/logger"
	"procodus.dev/water-monitor/pkg/metrics"
)

// Broadcaster announces stored readings. *hub.Hub implements it.
type Broadcaster interface {
	Broadcast(hub.Event) int
}

// Submission is an incoming reading. Pointer fields distinguish a missing
// value from zero.
type Submission struct {
	WaterLevel *float64   `json:"waterLevel"`
	WaterFlow  *float64   `json:"waterFlow"`
	Timestamp  *time.Time `json:"timestamp,omitempty"`
}

// Validate checks that both measurements are present.
func (s Submission) Validate() error {
	if s.WaterLevel == nil {
		return &ValidationError{Field: "waterLevel", Reason: "is required"}
	}
	if s.WaterFlow == nil {
		return &ValidationError{Field: "waterFlow", Reason: "is required"}
	}
	return nil
}

// DecodeSubmission parses a JSON submission. Malformed input and missing
// fields are reported as a ValidationError.
func DecodeSubmission(data []byte) (Submission, error) {
	var s Submission
	if len(bytes.TrimSpace(data)) == 0 {
		return s, &ValidationError{Reason: "empty body"}
	}
	if err := json.Unmarshal(data, &s); err != nil {
		return s, &ValidationError{Reason: "malformed JSON: " + err.Error()}
	}
	if err := s.Validate(); err != nil {
		return s, err
	}
	return s, nil
}

// Config configures a Service.
type Config struct {
	Store       store.ReadingStore
	Broadcaster Broadcaster
	Logger      *slog.Logger
	Metrics     *metrics.APIMetrics // optional
}

// Service coordinates the reading store and the broadcast hub.
type Service struct {
	store   store.ReadingStore
	bcast   Broadcaster
	log     *slog.Logger
	metrics *metrics.APIMetrics
}

// NewService creates a Service.
func NewService(cfg Config) (*Service, error) {
	if cfg.Store == nil {
		return nil, errors.New("store cannot be nil")
	}
	if cfg.Broadcaster == nil {
		return nil, errors.New("broadcaster cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Service{
		store:   cfg.Store,
		bcast:   cfg.Broadcaster,
		log:     logger.ForComponent(cfg.Logger, "ingest"),
		metrics: cfg.Metrics,
	}, nil
}

// SubmitReading stores a reading and, once the store has confirmed it,
// broadcasts it to every subscriber. A failed append is never broadcast.
func (s *Service) SubmitReading(ctx context.Context, sub Submission) (*store.Reading, error) {
	if err := sub.Validate(); err != nil {
		s.count("validation_error")
		return nil, err
	}

	stored, err := s.store.Append(ctx, store.NewReading{
		WaterLevel: *sub.WaterLevel,
		WaterFlow:  *sub.WaterFlow,
		Timestamp:  sub.Timestamp,
	})
	if err != nil {
		s.count("persistence_error")
		return nil, err
	}
	s.count("success")

	delivered := s.bcast.Broadcast(EventFor(stored))
	s.log.Debug("reading submitted", "id", stored.ID, "delivered", delivered)
	return stored, nil
}

// GetLatest returns the newest reading or nil when none exist.
func (s *Service) GetLatest(ctx context.Context) (*store.Reading, error) {
	return s.store.Latest(ctx)
}

// GetHistory returns the most recent readings, newest first.
func (s *Service) GetHistory(ctx context.Context) ([]store.Reading, error) {
	return s.store.Recent(ctx, store.DefaultHistoryLimit)
}

// EventFor builds the live event announced for a stored reading.
func EventFor(r *store.Reading) hub.Event {
	return hub.Event{
		WaterLevel: r.WaterLevel,
		WaterFlow:  r.WaterFlow,
		Timestamp:  r.Timestamp,
	}
}

func (s *Service) count(status string) {
	if s.metrics != nil {
		s.metrics.ReadingsSubmitted.WithLabelValues(status).Inc()
	}
}

package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"procodus.dev/water-monitor/internal/store"
	"procodus.dev/water-monitor/pkg/logger"
	"procodus.dev/water-monitor/pkg/metrics"
	"procodus.dev/water-monitor/pkg/sensorrpc"
)

// Queries answers latest and history lookups. *ingest.Service implements it.
type Queries interface {
	GetLatest(ctx context.Context) (*store.Reading, error)
	GetHistory(ctx context.Context) ([]store.Reading, error)
}

// SensorDataService implements the gRPC SensorData service.
type SensorDataService struct {
	sensorrpc.UnimplementedSensorDataServer
	logger  *slog.Logger
	queries Queries
	metrics *metrics.APIMetrics // Optional metrics
}

// NewSensorDataService creates a new SensorDataService instance.
func NewSensorDataService(log *slog.Logger, queries Queries, m *metrics.APIMetrics) (*SensorDataService, error) {
	if log == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if queries == nil {
		return nil, errors.New("queries cannot be nil")
	}
	return &SensorDataService{
		logger:  logger.ForComponent(log, "grpc"),
		queries: queries,
		metrics: m,
	}, nil
}

// GetLatest returns the newest reading or NotFound.
func (s *SensorDataService) GetLatest(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	defer s.track("GetLatest", time.Now())()

	latest, err := s.queries.GetLatest(ctx)
	if err != nil {
		s.logger.Error("failed to fetch latest reading", "error", err)
		s.result("GetLatest", "error")
		return nil, status.Errorf(codes.Internal, "failed to fetch latest reading: %v", err)
	}
	if latest == nil {
		s.result("GetLatest", "not_found")
		return nil, status.Error(codes.NotFound, "no readings recorded yet")
	}

	s.result("GetLatest", "success")
	return toWire(*latest).ToStruct(), nil
}

// GetHistory returns the recent readings, newest first.
func (s *SensorDataService) GetHistory(ctx context.Context, _ *emptypb.Empty) (*structpb.ListValue, error) {
	defer s.track("GetHistory", time.Now())()

	rows, err := s.queries.GetHistory(ctx)
	if err != nil {
		s.logger.Error("failed to fetch history", "error", err)
		s.result("GetHistory", "error")
		return nil, status.Errorf(codes.Internal, "failed to fetch history: %v", err)
	}

	readings := make([]sensorrpc.Reading, len(rows))
	for i, r := range rows {
		readings[i] = toWire(r)
	}

	s.logger.Debug("fetched history", "count", len(readings))
	s.result("GetHistory", "success")
	return sensorrpc.ToList(readings), nil
}

func (s *SensorDataService) track(method string, start time.Time) func() {
	return func() {
		if s.metrics != nil {
			s.metrics.GRPCRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
		}
	}
}

func (s *SensorDataService) result(method, outcome string) {
	if s.metrics != nil {
		s.metrics.GRPCRequestsTotal.WithLabelValues(method, outcome).Inc()
	}
}

func toWire(r store.Reading) sensorrpc.Reading {
	return sensorrpc.Reading{
		ID:         uint64(r.ID),
		WaterLevel: r.WaterLevel,
		WaterFlow:  r.WaterFlow,
		Timestamp:  r.Timestamp,
	}
}

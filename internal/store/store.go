package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"gorm.io/gorm"

	"procodus.dev/water-monitor/pkg/logger"
	"procodus.dev/water-monitor/pkg/metrics"
)

// DefaultHistoryLimit is the history window used when no positive limit is given.
const DefaultHistoryLimit = 100

// ErrPersistence wraps every failure of the underlying database.
var ErrPersistence = errors.New("persistence failure")

// ReadingStore is the behaviour the rest of the system needs from storage.
type ReadingStore interface {
	// Append stores a reading and returns it with its id and timestamp.
	Append(ctx context.Context, r NewReading) (*Reading, error)
	// Latest returns the newest reading, or nil when the store is empty.
	Latest(ctx context.Context) (*Reading, error)
	// Recent returns up to limit readings, newest first.
	Recent(ctx context.Context, limit int) ([]Reading, error)
}

// Config configures a GormStore.
type Config struct {
	DB      *gorm.DB
	Logger  *slog.Logger
	Clock   clockwork.Clock     // defaults to the real clock
	Metrics *metrics.APIMetrics // optional
}

// GormStore is a ReadingStore backed by gorm.
type GormStore struct {
	db      *gorm.DB
	log     *slog.Logger
	clock   clockwork.Clock
	metrics *metrics.APIMetrics
}

var _ ReadingStore = (*GormStore)(nil)

// New creates a GormStore.
func New(cfg Config) (*GormStore, error) {
	if cfg.DB == nil {
		return nil, errors.New("database cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &GormStore{
		db:      cfg.DB,
		log:     logger.ForComponent(cfg.Logger, "store"),
		clock:   cfg.Clock,
		metrics: cfg.Metrics,
	}, nil
}

// normalize converts t to UTC at the precision PostgreSQL keeps.
func normalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}

// Append implements ReadingStore.
func (s *GormStore) Append(ctx context.Context, r NewReading) (*Reading, error) {
	start := time.Now()

	ts := s.clock.Now()
	if r.Timestamp != nil {
		ts = *r.Timestamp
	}

	row := &Reading{
		WaterLevel: r.WaterLevel,
		WaterFlow:  r.WaterFlow,
		Timestamp:  normalize(ts),
	}

	err := s.db.WithContext(ctx).Create(row).Error
	s.observe("append", start, err)
	if err != nil {
		s.log.Error("failed to append reading", "error", err)
		return nil, fmt.Errorf("append reading: %w: %w", ErrPersistence, err)
	}

	s.log.Debug("reading stored", "id", row.ID, "timestamp", row.Timestamp)
	return row, nil
}

// Latest implements ReadingStore.
func (s *GormStore) Latest(ctx context.Context) (*Reading, error) {
	start := time.Now()

	var rows []Reading
	err := s.newestFirst(ctx).Limit(1).Find(&rows).Error
	s.observe("latest", start, err)
	if err != nil {
		return nil, fmt.Errorf("latest reading: %w: %w", ErrPersistence, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// Recent implements ReadingStore. A limit of zero or less means DefaultHistoryLimit.
func (s *GormStore) Recent(ctx context.Context, limit int) ([]Reading, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	start := time.Now()

	rows := make([]Reading, 0, limit)
	err := s.newestFirst(ctx).Limit(limit).Find(&rows).Error
	s.observe("recent", start, err)
	if err != nil {
		return nil, fmt.Errorf("recent readings: %w: %w", ErrPersistence, err)
	}
	return rows, nil
}

func (s *GormStore) newestFirst(ctx context.Context) *gorm.DB {
	return s.db.WithContext(ctx).Model(&Reading{}).Order("timestamp DESC").Order("id DESC")
}

func (s *GormStore) observe(op string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	s.metrics.StoreOperationsTotal.WithLabelValues(op, status).Inc()
	s.metrics.StoreDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// Package producer simulates gauging stations that submit water readings.
package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/water-monitor/pkg/generator"
	"procodus.dev/water-monitor/pkg/metrics"
)

// reading is the wire form accepted by every ingest path.
type reading struct {
	WaterLevel float64   `json:"waterLevel"`
	WaterFlow  float64   `json:"waterFlow"`
	Timestamp  time.Time `json:"timestamp"`
}

// Producer simulates one station and publishes its readings.
type Producer struct {
	Station   *generator.Station
	publisher Publisher
	gen       *generator.WaterGenerator
	now       func() time.Time
	metrics   *metrics.ProducerMetrics // Optional metrics
}

// NewProducer creates a producer for a randomly generated station.
func NewProducer(pub Publisher, m *metrics.ProducerMetrics) *Producer {
	station := generator.NewStation()
	return &Producer{
		Station:   station,
		publisher: pub,
		gen:       generator.NewWaterGenerator(station.ID),
		now:       time.Now,
		metrics:   m,
	}
}

// RandomDataPoint generates the next reading and publishes it.
func (p *Producer) RandomDataPoint(ctx context.Context) error {
	sink := p.publisher.Sink()
	if p.metrics != nil {
		timer := prometheus.NewTimer(p.metrics.PublishDuration.WithLabelValues(sink))
		defer timer.ObserveDuration()
	}

	sample := p.gen.Next(p.now().UTC())
	payload, err := json.Marshal(reading{
		WaterLevel: sample.WaterLevel,
		WaterFlow:  sample.WaterFlow,
		Timestamp:  sample.Timestamp,
	})
	if err != nil {
		p.fail(sink, "marshal_error")
		return err
	}

	if err := p.publisher.Publish(ctx, payload); err != nil {
		p.fail(sink, "publish_error")
		return err
	}

	if p.metrics != nil {
		p.metrics.ReadingsGenerated.Inc()
	}
	return nil
}

func (p *Producer) fail(sink, reason string) {
	if p.metrics != nil {
		p.metrics.PublishFailures.WithLabelValues(sink, reason).Inc()
	}
}

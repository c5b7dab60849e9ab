package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// ProducerMetrics contains Prometheus metrics for the device simulator.
type ProducerMetrics struct {
	ReadingsGenerated prometheus.Counter
	PublishFailures   *prometheus.CounterVec
	PublishDuration   *prometheus.HistogramVec
	ActiveProducers   prometheus.Gauge
}

// NewProducerMetrics creates simulator metrics and registers them with the global registry.
func NewProducerMetrics(namespace string) *ProducerMetrics {
	return NewProducerMetricsWith(Registry, namespace)
}

// NewProducerMetricsWith creates simulator metrics and registers them with reg.
func NewProducerMetricsWith(reg prometheus.Registerer, namespace string) *ProducerMetrics {
	m := &ProducerMetrics{
		ReadingsGenerated: counter(namespace, "producer", "readings_generated_total",
			"Total number of simulated readings published"),
		PublishFailures: counterVec(namespace, "producer", "publish_failures_total",
			"Total number of simulated readings that could not be published", "sink", "reason"),
		PublishDuration: histogramVec(namespace, "producer", "publish_duration_seconds",
			"Duration of publishing one simulated reading", "sink"),
		ActiveProducers: gauge(namespace, "producer", "active_producers",
			"Number of currently active producers"),
	}

	reg.MustRegister(
		m.ReadingsGenerated,
		m.PublishFailures,
		m.PublishDuration,
		m.ActiveProducers,
	)

	return m
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MQMetrics contains Prometheus metrics for the RabbitMQ client.
type MQMetrics struct {
	MessagesPushed      *prometheus.CounterVec
	PushFailures        *prometheus.CounterVec
	PushDuration        *prometheus.HistogramVec
	ReconnectAttempts   prometheus.Counter
	ConnectionStatus    prometheus.Gauge
	MessagesConsumed    *prometheus.CounterVec
	ConsumptionFailures *prometheus.CounterVec
}

// NewMQMetrics creates MQ client metrics and registers them with the global registry.
func NewMQMetrics(namespace string) *MQMetrics {
	return NewMQMetricsWith(Registry, namespace)
}

// NewMQMetricsWith creates MQ client metrics and registers them with reg.
func NewMQMetricsWith(reg prometheus.Registerer, namespace string) *MQMetrics {
	m := &MQMetrics{
		MessagesPushed: counterVec(namespace, "mq", "messages_pushed_total",
			"Total number of messages pushed to RabbitMQ", "queue"),
		PushFailures: counterVec(namespace, "mq", "push_failures_total",
			"Total number of failed message pushes", "queue", "reason"),
		PushDuration: histogramVec(namespace, "mq", "push_duration_seconds",
			"Duration of message push operations", "queue"),
		ReconnectAttempts: counter(namespace, "mq", "reconnect_attempts_total",
			"Total number of reconnection attempts"),
		ConnectionStatus: gauge(namespace, "mq", "connection_status",
			"Current connection status (1=connected, 0=disconnected)"),
		MessagesConsumed: counterVec(namespace, "mq", "messages_consumed_total",
			"Total number of messages consumed from RabbitMQ", "queue", "outcome"), // outcome: ack, nack, drop
		ConsumptionFailures: counterVec(namespace, "mq", "consumption_failures_total",
			"Total number of failed message consumptions", "queue", "reason"),
	}

	reg.MustRegister(
		m.MessagesPushed,
		m.PushFailures,
		m.PushDuration,
		m.ReconnectAttempts,
		m.ConnectionStatus,
		m.MessagesConsumed,
		m.ConsumptionFailures,
	)

	return m
}

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// APIMetrics contains Prometheus metrics for the backend service: HTTP API,
// reading store, broadcast hub, relays, command gateway and gRPC.
type APIMetrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight prometheus.Gauge

	ReadingsSubmitted    *prometheus.CounterVec
	StoreOperationsTotal *prometheus.CounterVec
	StoreDuration        *prometheus.HistogramVec
	CacheLookups         *prometheus.CounterVec

	BroadcastDeliveries *prometheus.CounterVec
	ActiveSessions      prometheus.Gauge
	RelayEvents         *prometheus.CounterVec

	CommandsTotal *prometheus.CounterVec

	GRPCRequestsTotal   *prometheus.CounterVec
	GRPCRequestDuration *prometheus.HistogramVec
}

// NewAPIMetrics creates backend metrics and registers them with the global registry.
func NewAPIMetrics(namespace string) *APIMetrics {
	return NewAPIMetricsWith(Registry, namespace)
}

// NewAPIMetricsWith creates backend metrics and registers them with reg.
// Tests pass a fresh prometheus.NewRegistry() to avoid duplicate registration.
func NewAPIMetricsWith(reg prometheus.Registerer, namespace string) *APIMetrics {
	m := &APIMetrics{
		HTTPRequestsTotal: counterVec(namespace, "http", "requests_total",
			"Total number of HTTP requests", "method", "route", "status_code"),
		HTTPRequestDuration: histogramVec(namespace, "http", "request_duration_seconds",
			"Duration of HTTP requests", "method", "route"),
		HTTPRequestsInFlight: gauge(namespace, "http", "requests_in_flight",
			"Number of HTTP requests currently being processed"),

		ReadingsSubmitted: counterVec(namespace, "ingest", "readings_total",
			"Total number of submitted readings", "status"), // status: success, validation_error, persistence_error
		StoreOperationsTotal: counterVec(namespace, "store", "operations_total",
			"Total number of reading store operations", "operation", "status"),
		StoreDuration: histogramVec(namespace, "store", "operation_duration_seconds",
			"Duration of reading store operations", "operation"),
		CacheLookups: counterVec(namespace, "store", "cache_lookups_total",
			"Latest-reading cache lookups", "result"), // result: hit, miss, error

		BroadcastDeliveries: counterVec(namespace, "hub", "deliveries_total",
			"Events handed to subscriber sessions", "result"), // result: delivered, dropped
		ActiveSessions: gauge(namespace, "hub", "sessions_active",
			"Number of currently subscribed sessions"),
		RelayEvents: counterVec(namespace, "relay", "events_total",
			"Events forwarded by relays", "relay", "result"), // result: published, dropped, failed

		CommandsTotal: counterVec(namespace, "command", "requests_total",
			"Command gateway requests", "outcome"), // outcome: success, auth_failed, error

		GRPCRequestsTotal: counterVec(namespace, "grpc", "requests_total",
			"Total number of gRPC requests", "method", "status"),
		GRPCRequestDuration: histogramVec(namespace, "grpc", "request_duration_seconds",
			"Duration of gRPC requests", "method"),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
		m.ReadingsSubmitted,
		m.StoreOperationsTotal,
		m.StoreDuration,
		m.CacheLookups,
		m.BroadcastDeliveries,
		m.ActiveSessions,
		m.RelayEvents,
		m.CommandsTotal,
		m.GRPCRequestsTotal,
		m.GRPCRequestDuration,
	)

	return m
}

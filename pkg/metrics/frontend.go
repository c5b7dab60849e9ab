package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// FrontendMetrics contains Prometheus metrics for the dashboard service.
type FrontendMetrics struct {
	HTTPRequestsTotal    *prometheus.CounterVec
	GRPCClientCalls      *prometheus.CounterVec
	GRPCClientDuration   *prometheus.HistogramVec
	TemplateRenderTime   *prometheus.HistogramVec
	TemplateRenderErrors *prometheus.CounterVec
}

// NewFrontendMetrics creates dashboard metrics and registers them with the global registry.
func NewFrontendMetrics(namespace string) *FrontendMetrics {
	return NewFrontendMetricsWith(Registry, namespace)
}

// NewFrontendMetricsWith creates dashboard metrics and registers them with reg.
func NewFrontendMetricsWith(reg prometheus.Registerer, namespace string) *FrontendMetrics {
	m := &FrontendMetrics{
		HTTPRequestsTotal: counterVec(namespace, "dashboard_http", "requests_total",
			"Total number of dashboard HTTP requests", "path", "status_code"),
		GRPCClientCalls: counterVec(namespace, "grpc_client", "calls_total",
			"Total number of gRPC client calls", "method", "status"),
		GRPCClientDuration: histogramVec(namespace, "grpc_client", "call_duration_seconds",
			"Duration of gRPC client calls", "method"),
		TemplateRenderTime: histogramVec(namespace, "template", "render_duration_seconds",
			"Duration of template rendering", "template"),
		TemplateRenderErrors: counterVec(namespace, "template", "render_errors_total",
			"Total number of template rendering errors", "template"),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.GRPCClientCalls,
		m.GRPCClientDuration,
		m.TemplateRenderTime,
		m.TemplateRenderErrors,
	)

	return m
}

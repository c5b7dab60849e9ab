package frontend

import (
	"context"
	"net/http"

	"github.com/a-h/templ"
	"github.com/prometheus/client_golang/prometheus"

	"procodus.dev/water-monitor/pkg/metrics"
)

// renderIndex renders the dashboard page.
func renderIndex(ctx context.Context, w http.ResponseWriter, v dashboardView, m *metrics.FrontendMetrics) error {
	return renderComponent(ctx, w, m, "index", index(v))
}

// renderHistory renders the history table fragment.
func renderHistory(ctx context.Context, w http.ResponseWriter, v dashboardView, m *metrics.FrontendMetrics) error {
	return renderComponent(ctx, w, m, "history", historyTable(v.History))
}

// renderComponent renders c with metrics tracking.
func renderComponent(ctx context.Context, w http.ResponseWriter, m *metrics.FrontendMetrics, name string, c templ.Component) error {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if m == nil {
		return c.Render(ctx, w)
	}

	timer := prometheus.NewTimer(m.TemplateRenderTime.WithLabelValues(name))
	defer timer.ObserveDuration()

	if err := c.Render(ctx, w); err != nil {
		m.TemplateRenderErrors.WithLabelValues(name).Inc()
		return err
	}
	return nil
}

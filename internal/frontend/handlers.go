// Package frontend serves the water-monitor dashboard.
package frontend

import (
	"context"
	"net/http"
	"time"

	"google.golang.org/grpc/status"
)

const backendTimeout = 5 * time.Second

// loadView fetches the latest reading and history from the backend.
func (s *Server) loadView(ctx context.Context) (dashboardView, error) {
	ctx, cancel := context.WithTimeout(ctx, backendTimeout)
	defer cancel()

	v := dashboardView{LiveURL: s.config.LiveURL}

	start := time.Now()
	latest, err := s.client.Latest(ctx)
	s.trackCall("GetLatest", start, err)
	if err != nil {
		return v, err
	}
	v.Latest = latest

	start = time.Now()
	history, err := s.client.History(ctx)
	s.trackCall("GetHistory", start, err)
	if err != nil {
		return v, err
	}
	v.History = history
	return v, nil
}

// handleIndex serves the dashboard page.
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("handling index request")

	v, err := s.loadView(r.Context())
	if err != nil {
		s.logger.Error("failed to fetch readings", "error", err)
		http.Error(w, "Failed to fetch readings", http.StatusBadGateway)
		return
	}

	if err := renderIndex(r.Context(), w, v, s.metrics); err != nil {
		s.logger.Error("failed to render index", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleHistory serves the history table as an HTML fragment.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("handling history fragment request")

	v, err := s.loadView(r.Context())
	if err != nil {
		s.logger.Error("failed to fetch readings", "error", err)
		http.Error(w, "Failed to fetch readings", http.StatusBadGateway)
		return
	}

	if err := renderHistory(r.Context(), w, v, s.metrics); err != nil {
		s.logger.Error("failed to render history", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
	}
}

// handleHealth serves health check endpoint.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte(`{"status":"ok"}`)); err != nil {
		s.logger.Error("failed to write health response", "error", err)
	}
}

func (s *Server) trackCall(method string, start time.Time, err error) {
	if s.metrics == nil {
		return
	}
	s.metrics.GRPCClientDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	s.metrics.GRPCClientCalls.WithLabelValues(method, status.Code(err).String()).Inc()
}

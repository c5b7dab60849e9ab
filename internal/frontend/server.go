package frontend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"procodus.dev/water-monitor/pkg/logger"
	"procodus.dev/water-monitor/pkg/metrics"
	"procodus.dev/water-monitor/pkg/sensorrpc"
)

// Route paths.
const (
	PathIndex   = "/"
	PathHistory = "/fragments/history"
	PathHealth  = "/health"
	PathMetrics = "/metrics"
)

// Server represents the dashboard HTTP server.
type Server struct {
	logger     *slog.Logger
	httpServer *http.Server
	client     *sensorrpc.Client
	grpcConn   *grpc.ClientConn
	config     *ServerConfig
	metrics    *metrics.FrontendMetrics

	httpAddr net.Addr
	ready    chan struct{}
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// HTTPPort is the dashboard port. 0 picks a free port.
	HTTPPort int

	// BackendGRPCAddr is the host:port of the backend query service.
	BackendGRPCAddr string

	// LiveURL is the backend WebSocket URL opened by the browser. Live
	// updates are disabled when empty.
	LiveURL string

	Metrics *metrics.FrontendMetrics // optional
}

// NewServer creates a new frontend Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.HTTPPort < 0 {
		return nil, errors.New("HTTP port cannot be negative")
	}

	if cfg.BackendGRPCAddr == "" {
		return nil, errors.New("backend gRPC address cannot be empty")
	}

	return &Server{
		logger:  logger.ForComponent(cfg.Logger, "dashboard"),
		config:  cfg,
		metrics: cfg.Metrics,
		ready:   make(chan struct{}),
	}, nil
}

// Ready is closed once the HTTP listener is accepting connections.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// HTTPAddr returns the bound HTTP address. Valid after Ready.
func (s *Server) HTTPAddr() string {
	if s.httpAddr == nil {
		return ""
	}
	return s.httpAddr.String()
}

// Run starts the frontend server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting frontend server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	s.logger.Info("connecting to backend gRPC server", "address", s.config.BackendGRPCAddr)
	conn, err := grpc.NewClient(
		s.config.BackendGRPCAddr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to backend: %w", err)
	}
	s.grpcConn = conn
	s.client = sensorrpc.NewClient(conn)

	addr := net.JoinHostPort("", strconv.Itoa(s.config.HTTPPort))
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		_ = s.Shutdown()
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.httpAddr = lis.Addr()

	s.httpServer = &http.Server{
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", s.httpAddr.String())

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	close(s.ready)
	s.logger.Info("frontend server started successfully")

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			_ = s.Shutdown()
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down frontend server")

	var errs []error

	if s.httpServer != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
		}
		s.logger.Info("HTTP server stopped")
	}

	if s.grpcConn != nil {
		s.logger.Info("closing gRPC connection")
		if err := s.grpcConn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("gRPC connection close error: %w", err))
		}
		s.grpcConn = nil
	}

	if err := errors.Join(errs...); err != nil {
		s.logger.Error("frontend server shutdown completed with errors", "error", err)
		return err
	}

	s.logger.Info("frontend server shutdown completed successfully")
	return nil
}

// setupRoutes configures the HTTP routes.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET "+PathHealth, s.handleHealth)
	mux.HandleFunc("GET "+PathHistory, s.handleHistory)
	mux.Handle("GET "+PathMetrics, metrics.Handler())

	// Index page (catch-all, must be last)
	mux.HandleFunc("GET /{$}", s.handleIndex)

	return s.countRequests(mux)
}

// countRequests records the status of every response by matched route.
func (s *Server) countRequests(next http.Handler) http.Handler {
	if s.metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.metrics.HTTPRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	})
}

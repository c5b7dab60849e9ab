package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/water-monitor/internal/frontend"
	"procodus.dev/water-monitor/pkg/metrics"
)

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Run the web dashboard",
	Long: `Run the web dashboard that:
- Reads the latest reading and history from the backend over gRPC
- Renders them as an HTML page
- Lets the browser subscribe to live sensor-update events`,
	RunE: runDashboard,
}

func init() {
	rootCmd.AddCommand(dashboardCmd)

	dashboardCmd.Flags().Int("http-port", 8080, "HTTP server port")
	dashboardCmd.Flags().String("backend-addr", "localhost:9090", "backend gRPC server address")
	dashboardCmd.Flags().String("live-url", "ws://localhost:5000/ws", "backend WebSocket URL opened by the browser")

	_ = viper.BindPFlag("dashboard.http.port", dashboardCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("dashboard.backend.addr", dashboardCmd.Flags().Lookup("backend-addr"))
	_ = viper.BindPFlag("dashboard.live_url", dashboardCmd.Flags().Lookup("live-url"))
}

func runDashboard(_ *cobra.Command, _ []string) error {
	logger := GetLogger("water-monitor-dashboard")
	logger.Info("starting dashboard service")

	config := &frontend.ServerConfig{
		Logger:          logger,
		HTTPPort:        viper.GetInt("dashboard.http.port"),
		BackendGRPCAddr: viper.GetString("dashboard.backend.addr"),
		LiveURL:         viper.GetString("dashboard.live_url"),
		Metrics:         metrics.NewFrontendMetrics(metrics.Namespace),
	}

	server, err := frontend.NewServer(config)
	if err != nil {
		logger.Error("failed to create dashboard server", "error", err)
		return err
	}

	logger.Info("dashboard server configuration",
		"http_port", config.HTTPPort,
		"backend_addr", config.BackendGRPCAddr,
		"live_url", config.LiveURL,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("dashboard server error", "error", err)
		return err
	}

	logger.Info("dashboard server stopped")
	return nil
}

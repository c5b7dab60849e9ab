package main

import (
	"context"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"procodus.dev/water-monitor/internal/backend"
	"procodus.dev/water-monitor/pkg/metrics"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the backend service",
	Long: `Run the backend service that:
- Accepts readings over HTTP, RabbitMQ and MQTT
- Persists readings to PostgreSQL or SQLite
- Pushes sensor-update events to WebSocket clients and relays
- Serves latest and history over HTTP and gRPC
- Forwards authenticated operator commands`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	f := serveCmd.Flags()
	f.Int("port", 5000, "HTTP port (env PORT)")
	f.Int("grpc-port", 9090, "gRPC port, 0 disables")
	f.String("database-url", "file:water-monitor.db", "PostgreSQL URL or SQLite file (env DATABASE_URL)")
	f.String("database-driver", "", "postgres or sqlite, detected from the URL when empty")
	f.String("admin-secret", "", "operator command secret (env ADMIN_PASSWORD)")
	f.String("redis-addr", "", "Redis address for the latest-reading cache")
	f.String("redis-password", "", "Redis password")
	f.Int("redis-db", 0, "Redis database")
	f.Duration("cache-ttl", 0, "latest-reading cache TTL (default 1h)")
	f.String("rabbitmq-url", "", "RabbitMQ URL, empty disables queue ingest and relay")
	f.String("ingest-queue", "sensor-readings", "RabbitMQ queue consumed for readings")
	f.String("event-queue", "", "RabbitMQ queue receiving sensor-update events")
	f.String("mqtt-broker", "", "MQTT broker URL, empty disables MQTT ingest")
	f.String("mqtt-topic", "water-monitor/readings", "MQTT topic for readings")
	f.String("mqtt-client-id", "water-monitor-backend", "MQTT client ID")
	f.StringSlice("kafka-brokers", nil, "Kafka brokers for the event relay")
	f.String("kafka-topic", "sensor-updates", "Kafka topic for sensor-update events")

	bind := map[string]string{
		"serve.http.port":       "port",
		"serve.grpc.port":       "grpc-port",
		"serve.database.url":    "database-url",
		"serve.database.driver": "database-driver",
		"serve.admin_secret":    "admin-secret",
		"serve.redis.addr":      "redis-addr",
		"serve.redis.password":  "redis-password",
		"serve.redis.db":        "redis-db",
		"serve.redis.ttl":       "cache-ttl",
		"serve.rabbitmq.url":    "rabbitmq-url",
		"serve.rabbitmq.ingest": "ingest-queue",
		"serve.rabbitmq.events": "event-queue",
		"serve.mqtt.broker":     "mqtt-broker",
		"serve.mqtt.topic":      "mqtt-topic",
		"serve.mqtt.client_id":  "mqtt-client-id",
		"serve.kafka.brokers":   "kafka-brokers",
		"serve.kafka.topic":     "kafka-topic",
	}
	for key, flag := range bind {
		_ = viper.BindPFlag(key, f.Lookup(flag))
	}
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := GetLogger("water-monitor")
	logger.Info("starting backend service")

	config := &backend.ServerConfig{
		Logger:         logger,
		DatabaseURL:    viper.GetString("serve.database.url"),
		DatabaseDriver: viper.GetString("serve.database.driver"),
		AdminSecret:    viper.GetString("serve.admin_secret"),
		HTTPPort:       viper.GetInt("serve.http.port"),
		GRPCPort:       viper.GetInt("serve.grpc.port"),
		RedisAddr:      viper.GetString("serve.redis.addr"),
		RedisPassword:  viper.GetString("serve.redis.password"),
		RedisDB:        viper.GetInt("serve.redis.db"),
		CacheTTL:       viper.GetDuration("serve.redis.ttl"),
		RabbitMQURL:    viper.GetString("serve.rabbitmq.url"),
		IngestQueue:    viper.GetString("serve.rabbitmq.ingest"),
		EventQueue:     viper.GetString("serve.rabbitmq.events"),
		MQTTBroker:     viper.GetString("serve.mqtt.broker"),
		MQTTTopic:      viper.GetString("serve.mqtt.topic"),
		MQTTClientID:   viper.GetString("serve.mqtt.client_id"),
		KafkaBrokers:   splitList("serve.kafka.brokers"),
		KafkaTopic:     viper.GetString("serve.kafka.topic"),
		Metrics:        metrics.NewAPIMetrics(metrics.Namespace),
		MQMetrics:      metrics.NewMQMetrics(metrics.Namespace),
	}

	server, err := backend.NewServer(config)
	if err != nil {
		logger.Error("failed to create backend server", "error", err)
		return err
	}

	logger.Info("backend server configuration",
		"http_port", config.HTTPPort,
		"grpc_port", config.GRPCPort,
		"database_driver", config.DatabaseDriver,
		"redis_enabled", config.RedisAddr != "",
		"rabbitmq_enabled", config.RabbitMQURL != "",
		"mqtt_enabled", config.MQTTBroker != "",
		"kafka_enabled", len(config.KafkaBrokers) > 0,
	)

	if err := server.Run(context.Background()); err != nil {
		logger.Error("backend server error", "error", err)
		return err
	}

	logger.Info("backend server stopped")
	return nil
}

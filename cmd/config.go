package main

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"

	"procodus.dev/water-monitor/pkg/logger"
)

// envAliases maps plain environment names onto config keys.
var envAliases = map[string]string{
	"serve.database.url": "DATABASE_URL",
	"serve.admin_secret": "ADMIN_PASSWORD",
	"serve.http.port":    "PORT",
}

// InitConfig initializes Viper configuration.
// It supports reading from config files (config.yaml) and environment variables.
func InitConfig(cfgFile string) error {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.AddConfigPath("/etc/water-monitor/")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// WATER_MONITOR_SERVE_HTTP_PORT and friends.
	viper.SetEnvPrefix("WATER_MONITOR")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	viper.AutomaticEnv()

	for key, env := range envAliases {
		if err := viper.BindEnv(key, "WATER_MONITOR_"+envKey(key), env); err != nil {
			return fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := viper.ReadInConfig(); err != nil {
		var configNotFoundErr viper.ConfigFileNotFoundError
		if errors.As(err, &configNotFoundErr) {
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	return nil
}

func envKey(key string) string {
	return strings.ToUpper(strings.NewReplacer(".", "_", "-", "_").Replace(key))
}

// GetLogger creates a slog.Logger based on configuration.
func GetLogger(service string) *slog.Logger {
	return logger.FromStrings(viper.GetString("log.level"), viper.GetString("log.format"), service)
}

// splitList accepts a comma separated string or a YAML list.
func splitList(key string) []string {
	var out []string
	for _, item := range viper.GetStringSlice(key) {
		for _, part := range strings.Split(item, ",") {
			if p := strings.TrimSpace(part); p != "" {
				out = append(out, p)
			}
		}
	}
	return out
}

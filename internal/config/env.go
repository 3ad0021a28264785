package config

import (
	"os"
)

// LoadFromEnv loads configuration from environment variables
func LoadFromEnv(cfg *Config) {
	if url := os.Getenv("CAPSCOUT_APP_URL"); url != "" {
		cfg.App.URL = url
	}

	if logLevel := os.Getenv("CAPSCOUT_LOG_LEVEL"); logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	// Result storage
	if path := os.Getenv("CAPSCOUT_STORAGE_PATH"); path != "" {
		cfg.Storage.Path = path
	}
	if dsn := os.Getenv("CAPSCOUT_POSTGRES_DSN"); dsn != "" {
		cfg.Storage.Postgres.DSN = dsn
	}

	cfg.Metrics.Addr = GetEnvOrDefault("CAPSCOUT_METRICS_ADDR", cfg.Metrics.Addr)
}

// GetEnvOrDefault returns environment variable or default value
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

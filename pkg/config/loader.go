// Configuration loading from environment variables with defaults.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config: Runtime configuration for the scheduler service
type Config struct {
	// etcd (deployment/cluster store, scheduler lease)
	EtcdEndpoints   []string
	EtcdDialTimeout time.Duration

	// Redis (idempotency, event publication, resource mirror)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// HTTP gateway
	GatewayPort int

	// Logging
	LogLevel string

	// Scheduler
	SweepInterval time.Duration // periodic admission sweep; 0 disables
	LeaseTTL      time.Duration // scheduler leader lease TTL
}

// LoadConfig loads configuration from environment variables and defaults
func LoadConfig() *Config {
	return &Config{
		EtcdEndpoints:   getStringSlice("NIMBUS_ETCD_ENDPOINTS", []string{"localhost:2379"}),
		EtcdDialTimeout: getDuration("NIMBUS_ETCD_TIMEOUT", 10*time.Second),

		RedisAddr:     getString("NIMBUS_REDIS_ADDR", "localhost:6379"),
		RedisPassword: getString("NIMBUS_REDIS_PASSWORD", ""),
		RedisDB:       getInt("NIMBUS_REDIS_DB", 0),

		GatewayPort: getInt("NIMBUS_GATEWAY_PORT", 8080),

		LogLevel: getString("NIMBUS_LOG_LEVEL", "info"),

		SweepInterval: getDuration("NIMBUS_SWEEP_INTERVAL", 30*time.Second),
		LeaseTTL:      getDuration("NIMBUS_LEASE_TTL", 15*time.Second),
	}
}

// ValidateConfig: Validate configuration values
func ValidateConfig(cfg *Config) error {
	if len(cfg.EtcdEndpoints) == 0 {
		return &configError{field: "EtcdEndpoints", reason: "cannot be empty"}
	}
	if cfg.RedisAddr == "" {
		return &configError{field: "RedisAddr", reason: "cannot be empty"}
	}
	if cfg.GatewayPort < 1 || cfg.GatewayPort > 65535 {
		return &configError{field: "GatewayPort", reason: "must be between 1 and 65535"}
	}
	if cfg.SweepInterval < 0 {
		return &configError{field: "SweepInterval", reason: "cannot be negative"}
	}
	if cfg.LeaseTTL <= 0 {
		return &configError{field: "LeaseTTL", reason: "must be positive"}
	}
	return nil
}

// configError: Custom error type for config validation
type configError struct {
	field  string
	reason string
}

func (e *configError) Error() string {
	return "config validation error: " + e.field + " " + e.reason
}

// Helper functions to read environment variables with type conversion

func getString(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value, exists := os.LookupEnv(key); exists {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value, exists := os.LookupEnv(key); exists {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getStringSlice: Read comma-separated strings from an environment variable
func getStringSlice(key string, defaultValue []string) []string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		parts := strings.Split(value, ",")
		result := make([]string, 0, len(parts))
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}

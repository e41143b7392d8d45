// Package config provides configuration for the archive server.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds the archive server configuration.
type Config struct {
	// Server settings
	Host string
	Port int

	// Archive layout
	Root string

	// Query limits
	PageSize int

	// Timeouts
	ShutdownTimeout time.Duration

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables.
func Load() *Config {
	cfg := &Config{
		Host:            getEnv("ARCHIVE_HOST", "127.0.0.1"),
		Port:            getEnvInt("ARCHIVE_PORT", 8000),
		Root:            getEnv("ARCHIVE_ROOT", "output"),
		PageSize:        getEnvInt("ARCHIVE_PAGE_SIZE", 400),
		ShutdownTimeout: time.Duration(getEnvInt("SHUTDOWN_TIMEOUT_MS", 10000)) * time.Millisecond,
		LogLevel:        getEnv("LOG_LEVEL", "info"),
	}
	return cfg
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string
	NumWorkers  int

	// HTTPTimeout bounds every outbound delivery attempt. An uncapped
	// attempt is a correctness bug, so zero and negative values are
	// rejected at load time.
	HTTPTimeout time.Duration

	// RetryScanInterval is how often the scheduler scans for due retries.
	RetryScanInterval time.Duration

	// RetentionDays is the delivery-history horizon; SweepInterval is
	// how often the sweeper enforces it.
	RetentionDays int
	SweepInterval time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	port := getEnv("PORT", "8080")
	dbURL := getEnv("DATABASE_URL", "")
	redisURL := getEnv("REDIS_URL", "")
	numWorkers := getEnvInt("NUM_WORKERS", 50)
	httpTimeout := getEnvInt("HTTP_TIMEOUT_SECONDS", 10)
	scanInterval := getEnvInt("RETRY_SCAN_INTERVAL_SECONDS", 30)
	retentionDays := getEnvInt("RETENTION_DAYS", 30)
	sweepHours := getEnvInt("SWEEP_INTERVAL_HOURS", 24)

	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if redisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if httpTimeout <= 0 {
		return nil, fmt.Errorf("HTTP_TIMEOUT_SECONDS must be positive")
	}
	if retentionDays <= 0 {
		return nil, fmt.Errorf("RETENTION_DAYS must be positive")
	}

	return &Config{
		Port:              port,
		DatabaseURL:       dbURL,
		RedisURL:          redisURL,
		NumWorkers:        numWorkers,
		HTTPTimeout:       time.Duration(httpTimeout) * time.Second,
		RetryScanInterval: time.Duration(scanInterval) * time.Second,
		RetentionDays:     retentionDays,
		SweepInterval:     time.Duration(sweepHours) * time.Hour,
	}, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the delivery engine.
type Config struct {
	Port        string
	DatabaseURL string
	RedisURL    string

	NumWorkers        int
	QueuePollInterval time.Duration
	QueueBatchSize    int64

	MaxAttempts     int
	HTTPTimeout     time.Duration
	ResponseBodyCap int64

	BackoffBase time.Duration
	BackoffCap  time.Duration

	RetryInterval  time.Duration
	RetryBatchSize int
	RetryClaimTTL  time.Duration

	EventRetention time.Duration
	PurgeInterval  time.Duration

	// RateLimitPerSecond caps outbound deliveries per subscription.
	// Zero disables rate limiting.
	RateLimitPerSecond int
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: getEnv("DATABASE_URL", ""),
		RedisURL:    getEnv("REDIS_URL", ""),

		NumWorkers:        getEnvInt("NUM_WORKERS", 50),
		QueuePollInterval: getEnvDuration("QUEUE_POLL_INTERVAL", 100*time.Millisecond),
		QueueBatchSize:    int64(getEnvInt("QUEUE_BATCH_SIZE", 25)),

		MaxAttempts:     getEnvInt("MAX_ATTEMPTS", 5),
		HTTPTimeout:     getEnvDuration("HTTP_TIMEOUT", 10*time.Second),
		ResponseBodyCap: int64(getEnvInt("RESPONSE_BODY_CAP", 10*1024)),

		BackoffBase: getEnvDuration("BACKOFF_BASE", 30*time.Second),
		BackoffCap:  getEnvDuration("BACKOFF_CAP", time.Hour),

		RetryInterval:  getEnvDuration("RETRY_INTERVAL", 30*time.Second),
		RetryBatchSize: getEnvInt("RETRY_BATCH_SIZE", 100),
		RetryClaimTTL:  getEnvDuration("RETRY_CLAIM_TTL", 5*time.Minute),

		EventRetention: getEnvDuration("EVENT_RETENTION", 7*24*time.Hour),
		PurgeInterval:  getEnvDuration("PURGE_INTERVAL", time.Hour),

		RateLimitPerSecond: getEnvInt("RATE_LIMIT_PER_SECOND", 0),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, fmt.Errorf("REDIS_URL is required")
	}
	if cfg.MaxAttempts < 1 {
		return nil, fmt.Errorf("MAX_ATTEMPTS must be at least 1")
	}

	return cfg, nil
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

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		d, err := time.ParseDuration(val)
		if err == nil {
			return d
		}
	}
	return fallback
}

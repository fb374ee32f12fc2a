package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config collects the environment-driven settings shared by the api, worker
// and sweeper binaries.
type Config struct {
	DatabaseURL string
	DBMaxConns  int32
	RabbitURL   string

	ListenAddr  string
	MetricsAddr string

	AnthropicAPIKey string
	AnthropicModel  string

	WorkerConcurrency int
	MaxAttempts       int

	// JobTTL is the lifetime of a job record. Keep it comfortably above
	// GenerationTimeout plus the full retry ladder, or a slow run can be
	// reaped while legitimately in flight.
	JobTTL            time.Duration
	ResultRetention   time.Duration
	GenerationTimeout time.Duration
	// ProcessingCeiling is how long a job may sit in PROCESSING before the
	// sweeper declares it abandoned.
	ProcessingCeiling time.Duration
	SweepInterval     time.Duration

	ResultSigningSecret string
	ResultHandleTTL     time.Duration
}

func Load() (*Config, error) {
	c := &Config{
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		RabbitURL:           os.Getenv("RABBITMQ_URL"),
		ListenAddr:          getEnv("LISTEN_ADDR", ":8080"),
		MetricsAddr:         getEnv("METRICS_ADDR", ":9090"),
		AnthropicAPIKey:     os.Getenv("ANTHROPIC_API_KEY"),
		AnthropicModel:      os.Getenv("ANTHROPIC_MODEL"),
		ResultSigningSecret: os.Getenv("RESULT_SIGNING_SECRET"),
		WorkerConcurrency:   getEnvInt("WORKER_CONCURRENCY", 10),
		MaxAttempts:         getEnvInt("MAX_ATTEMPTS", 3),
		JobTTL:              getEnvDuration("JOB_TTL", 30*time.Minute),
		ResultRetention:     getEnvDuration("RESULT_RETENTION", 24*time.Hour),
		GenerationTimeout:   getEnvDuration("GENERATION_TIMEOUT", 5*time.Minute),
		SweepInterval:       getEnvDuration("SWEEP_INTERVAL", time.Minute),
		ResultHandleTTL:     getEnvDuration("RESULT_HANDLE_TTL", 15*time.Minute),
		DBMaxConns:          int32(getEnvInt("DB_MAX_CONNS", 0)),
	}
	c.ProcessingCeiling = getEnvDuration("PROCESSING_CEILING", 2*c.GenerationTimeout)

	if c.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if c.RabbitURL == "" {
		return nil, fmt.Errorf("RABBITMQ_URL is required")
	}
	if c.ResultSigningSecret == "" {
		return nil, fmt.Errorf("RESULT_SIGNING_SECRET is required")
	}
	if c.JobTTL <= c.GenerationTimeout {
		return nil, fmt.Errorf("JOB_TTL (%s) must exceed GENERATION_TIMEOUT (%s)", c.JobTTL, c.GenerationTimeout)
	}
	return c, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the runtime configuration for the extraction service.
type Config struct {
	// Server settings
	Host    string
	Port    string
	GinMode string

	// Internal API authentication. Empty disables the check.
	InternalAPIKey string

	// Queue settings
	RedisURI          string
	QueueName         string
	WorkerConcurrency int

	// Document store settings
	MinioEndpoint  string
	MinioAccessKey string
	MinioSecretKey string
	ResultBucket   string

	// Status store settings
	DBPath string

	// Extraction limits
	MaxFileSize int64
	MaxPages    int

	// Retry and timeout policy
	MaxRetries    int
	RetryDelay    time.Duration
	SoftTimeLimit time.Duration
	HardTimeLimit time.Duration

	// Completed task retention in the queue backend
	TaskRetention time.Duration
}

// Load reads configuration from environment variables, applying defaults.
// A .env file in the working directory is loaded first if present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Host:    getEnv("HOST", "0.0.0.0"),
		Port:    getEnv("PORT", "8000"),
		GinMode: getEnv("GIN_MODE", "release"),

		InternalAPIKey: getEnv("INTERNAL_API_KEY", ""),

		RedisURI:          getEnv("REDIS_URI", "redis://127.0.0.1:6379/0"),
		QueueName:         getEnv("EXTRACT_QUEUE", "pdf_extract"),
		WorkerConcurrency: getEnvAsInt("WORKER_CONCURRENCY", 4),

		MinioEndpoint:  getEnv("MINIO_ENDPOINT", "http://127.0.0.1:9000"),
		MinioAccessKey: getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey: getEnv("MINIO_SECRET_KEY", ""),
		ResultBucket:   getEnv("RESULT_BUCKET", "papers"),

		DBPath: getEnv("DB_PATH", "extract-jobs.db"),

		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 100*1024*1024),
		MaxPages:    getEnvAsInt("MAX_PAGES", 500),

		MaxRetries:    getEnvAsInt("MAX_RETRIES", 2),
		RetryDelay:    getEnvAsDuration("RETRY_DELAY", 30*time.Second),
		SoftTimeLimit: getEnvAsDuration("SOFT_TIME_LIMIT", 5*time.Minute),
		HardTimeLimit: getEnvAsDuration("HARD_TIME_LIMIT", 6*time.Minute),

		TaskRetention: getEnvAsDuration("TASK_RETENTION", time.Hour),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is internally consistent.
func (c *Config) Validate() error {
	if c.MaxFileSize <= 0 {
		return fmt.Errorf("MAX_FILE_SIZE must be positive, got %d", c.MaxFileSize)
	}
	if c.MaxPages <= 0 {
		return fmt.Errorf("MAX_PAGES must be positive, got %d", c.MaxPages)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be positive, got %d", c.WorkerConcurrency)
	}
	if c.HardTimeLimit <= c.SoftTimeLimit {
		return fmt.Errorf("HARD_TIME_LIMIT (%s) must exceed SOFT_TIME_LIMIT (%s)",
			c.HardTimeLimit, c.SoftTimeLimit)
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

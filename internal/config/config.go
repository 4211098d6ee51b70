/**
 * Configuration for the MRZ worker
 *
 * Precedence: built-in defaults, then the optional YAML file named by
 * MRZ_CONFIG_FILE, then environment variables.
 */

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	QueueBackendRedis = "redis"
	QueueBackendAsynq = "asynq"
)

// Config holds worker configuration
type Config struct {
	// Redis configuration
	RedisURL string `yaml:"redis_url"`

	// PostgreSQL configuration
	DatabaseURL string `yaml:"database_url"`

	// Qdrant fingerprint index; an empty URL disables duplicate detection
	QdrantURL        string `yaml:"qdrant_url"`
	QdrantCollection string `yaml:"qdrant_collection"`

	// Remote OCR; an empty URL disables the remote engine
	MageAgentURL string `yaml:"mageagent_url"`

	// Queue configuration
	QueueBackend      string `yaml:"queue_backend"`
	QueueName         string `yaml:"queue_name"`
	WorkerConcurrency int    `yaml:"worker_concurrency"`

	// Processing limits
	MaxFileSize       int64 `yaml:"max_file_size"`
	ProcessingTimeout int   `yaml:"processing_timeout"` // milliseconds

	// OCR tuning
	OCRLanguage        string  `yaml:"ocr_language"`
	MinImageWidth      int     `yaml:"min_image_width"`
	DuplicateThreshold float64 `yaml:"duplicate_threshold"`

	// HTTP API
	HTTPAddr string `yaml:"http_addr"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	Env string `yaml:"env"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		RedisURL:           "redis://nexus-redis:6379",
		QdrantURL:          "",
		QdrantCollection:   "mrz_fingerprints",
		QueueBackend:       QueueBackendRedis,
		QueueName:          "mrz:scans",
		WorkerConcurrency:  4,
		MaxFileSize:        20 << 20, // 20MB
		ProcessingTimeout:  120000,   // 2 minutes
		OCRLanguage:        "eng",
		MinImageWidth:      1600,
		DuplicateThreshold: 0.9,
		HTTPAddr:           ":8098",
		LogLevel:           "info",
		LogFormat:          "text",
		Env:                "development",
	}
}

// LoadConfig loads configuration from the optional YAML file and the
// environment, then validates it.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv("MRZ_CONFIG_FILE"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	cfg.overlayEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) overlayEnv() {
	c.RedisURL = getEnvOrDefault("REDIS_URL", c.RedisURL)
	c.DatabaseURL = getEnvOrDefault("DATABASE_URL", c.DatabaseURL)
	c.QdrantURL = getEnvOrDefault("QDRANT_URL", c.QdrantURL)
	c.QdrantCollection = getEnvOrDefault("QDRANT_COLLECTION", c.QdrantCollection)
	c.MageAgentURL = getEnvOrDefault("MAGEAGENT_URL", c.MageAgentURL)
	c.QueueBackend = strings.ToLower(getEnvOrDefault("QUEUE_BACKEND", c.QueueBackend))
	c.QueueName = getEnvOrDefault("QUEUE_NAME", c.QueueName)
	c.WorkerConcurrency = getEnvAsIntOrDefault("WORKER_CONCURRENCY", c.WorkerConcurrency)
	c.MaxFileSize = getEnvAsInt64OrDefault("MAX_FILE_SIZE", c.MaxFileSize)
	c.ProcessingTimeout = getEnvAsIntOrDefault("PROCESSING_TIMEOUT", c.ProcessingTimeout)
	c.OCRLanguage = getEnvOrDefault("OCR_LANGUAGE", c.OCRLanguage)
	c.MinImageWidth = getEnvAsIntOrDefault("MIN_IMAGE_WIDTH", c.MinImageWidth)
	c.DuplicateThreshold = getEnvAsFloatOrDefault("DUPLICATE_THRESHOLD", c.DuplicateThreshold)
	c.HTTPAddr = getEnvOrDefault("HTTP_ADDR", c.HTTPAddr)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnvOrDefault("LOG_FORMAT", c.LogFormat)
	c.Env = getEnvOrDefault("NODE_ENV", c.Env)
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.QueueBackend != QueueBackendRedis && c.QueueBackend != QueueBackendAsynq {
		return fmt.Errorf("QUEUE_BACKEND must be %q or %q, got %q", QueueBackendRedis, QueueBackendAsynq, c.QueueBackend)
	}

	if c.QueueName == "" {
		return fmt.Errorf("QUEUE_NAME is required")
	}

	if c.WorkerConcurrency < 1 || c.WorkerConcurrency > 100 {
		return fmt.Errorf("WORKER_CONCURRENCY must be between 1 and 100, got %d", c.WorkerConcurrency)
	}

	if c.MaxFileSize < 1024 || c.MaxFileSize > 1073741824 { // 1KB to 1GB
		return fmt.Errorf("MAX_FILE_SIZE must be between 1KB and 1GB, got %d", c.MaxFileSize)
	}

	if c.ProcessingTimeout < 1000 {
		return fmt.Errorf("PROCESSING_TIMEOUT must be at least 1000ms, got %d", c.ProcessingTimeout)
	}

	if c.MinImageWidth < 0 || c.MinImageWidth > 8000 {
		return fmt.Errorf("MIN_IMAGE_WIDTH must be between 0 and 8000, got %d", c.MinImageWidth)
	}

	if c.DuplicateThreshold <= 0 || c.DuplicateThreshold > 1 {
		return fmt.Errorf("DUPLICATE_THRESHOLD must be in (0, 1], got %v", c.DuplicateThreshold)
	}

	return nil
}

// getEnvOrDefault gets environment variable or returns default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsIntOrDefault gets environment variable as int or returns default
func getEnvAsIntOrDefault(key string, defaultValue int) int {
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

// getEnvAsInt64OrDefault gets environment variable as int64 or returns default
func getEnvAsInt64OrDefault(key string, defaultValue int64) int64 {
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

func getEnvAsFloatOrDefault(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}

	return value
}

// Package config provides environment-based configuration for the forge control plane.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration for the control plane.
type Config struct {
	// Database configuration
	DatabaseDSN string

	// Authentication
	JWTSecret    string
	JWTExpiry    time.Duration
	APIKeyHeader string

	// Server configuration
	APIPort int
	APIHost string

	// Graceful shutdown timeout
	ShutdownTimeout time.Duration

	// Design artifact source
	DesignDir string

	// Generator configuration
	Generator GeneratorConfig

	// Pipeline worker configuration
	Worker WorkerConfig
}

// GeneratorConfig holds code-generation collaborator configuration.
type GeneratorConfig struct {
	// OpenAIAPIKey authenticates generation and fix calls.
	OpenAIAPIKey string
	// OpenAIModel is the chat model used for file generation and fixes.
	OpenAIModel string
	// OpenAIBaseURL overrides the API endpoint (empty = upstream default).
	OpenAIBaseURL string
	// Timeout bounds a single generation or fix call.
	Timeout time.Duration
	// Concurrency bounds parallel generation calls within one wave.
	Concurrency int
	// WaveRetries bounds how often a wave with failed members is retried.
	WaveRetries int
}

// WorkerConfig holds pipeline worker-specific configuration.
type WorkerConfig struct {
	WorkDir          string
	BuildTimeout     time.Duration
	MaxBuildAttempts int
	MaxConcurrency   int
	BackendBuildCmd  string
	FrontendBuildCmd string
	SmokeTestCmd     string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := loadFromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required configuration values are set.
func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters")
	}
	if c.Worker.MaxBuildAttempts < 1 {
		return fmt.Errorf("WORKER_MAX_BUILD_ATTEMPTS must be at least 1")
	}
	return nil
}

// LoadWithDefaults loads configuration with defaults for development.
// It does not validate required fields, useful for testing.
func LoadWithDefaults() *Config {
	cfg := loadFromEnv()
	if cfg.JWTSecret == "" {
		cfg.JWTSecret = "development-secret-key-min-32-chars"
	}
	return cfg
}

func loadFromEnv() *Config {
	return &Config{
		DatabaseDSN:     getEnv("DATABASE_URL", "postgres://localhost:5432/forge?sslmode=disable"),
		JWTSecret:       getEnv("JWT_SECRET", ""),
		JWTExpiry:       getDurationEnv("JWT_EXPIRY", 24*time.Hour),
		APIKeyHeader:    getEnv("API_KEY_HEADER", "X-API-Key"),
		APIPort:         getIntEnv("API_PORT", 8080),
		APIHost:         getEnv("API_HOST", "0.0.0.0"),
		ShutdownTimeout: getDurationEnv("SHUTDOWN_TIMEOUT", 30*time.Second),
		DesignDir:       getEnv("DESIGN_DIR", "/var/lib/forge/designs"),
		Generator: GeneratorConfig{
			OpenAIAPIKey:  getEnv("OPENAI_API_KEY", ""),
			OpenAIModel:   getEnv("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBaseURL: getEnv("OPENAI_BASE_URL", ""),
			Timeout:       getDurationEnv("GENERATOR_TIMEOUT", 2*time.Minute),
			Concurrency:   getIntEnv("GENERATOR_CONCURRENCY", 4),
			WaveRetries:   getIntEnv("GENERATOR_WAVE_RETRIES", 2),
		},
		Worker: WorkerConfig{
			WorkDir:          getEnv("WORKER_WORKDIR", "/tmp/forge-builds"),
			BuildTimeout:     getDurationEnv("BUILD_TIMEOUT", 10*time.Minute),
			MaxBuildAttempts: getIntEnv("WORKER_MAX_BUILD_ATTEMPTS", 3),
			MaxConcurrency:   getIntEnv("WORKER_MAX_CONCURRENCY", 4),
			BackendBuildCmd:  getEnv("BACKEND_BUILD_CMD", "npm run build"),
			FrontendBuildCmd: getEnv("FRONTEND_BUILD_CMD", "npm run build"),
			SmokeTestCmd:     getEnv("SMOKE_TEST_CMD", "npm run smoke"),
		},
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

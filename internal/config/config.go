package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/EricMurray-e-m-dev/RevenueMonkey/internal/logger"
	"github.com/joho/godotenv"
)

// Config holds all configuration for the Executor service.
type Config struct {
	// Service addresses
	HTTPPort    string
	GRPCPort    string
	HealthPort  string
	NatsURL     string
	DatabaseURL string

	// Shared circuit breaker state (optional)
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Scheduling
	SweepInterval      time.Duration
	QueueFlushInterval time.Duration
	DailyDigestHour    int // -1 disables the digest; Mondays also send the weekly report

	// Auto-execution policy
	MaxAutoExecutionsPerHour int
	MaxAutoExecutionsPerDay  int
	CircuitBreakerThreshold  int
	MinAutoConfidence        float64
	MinAutoRevenueImpact     float64

	// Notification policy
	StandardBatchMaxSize int
	StandardBatchMaxAge  time.Duration
	HighImpactThreshold  float64
	QuietHoursStart      int // -1 disables quiet hours
	QuietHoursEnd        int

	// Notifier delivery
	SlackWebhookURL string
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	EmailFrom       string
	AdminEmails     []string

	// Feature flags
	EnableAutoExecution bool
}

// Load reads configuration from environment variables and .env file.
func Load() (*Config, error) {
	log := logger.For(logger.ComponentConfig)

	envPaths := []string{
		".env",
		"../.env",
		"/app/.env", // Docker
	}

	envLoaded := false
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			log.Infof("Loaded config from: %s", path)
			envLoaded = true
			break
		}
	}

	if !envLoaded {
		log.Infof("No .env file found, using environment variables")
	}

	config := &Config{
		HTTPPort:    getEnvOrDefault("HTTP_PORT", "8084"),
		GRPCPort:    getEnvOrDefault("GRPC_PORT", "50052"),
		HealthPort:  getEnvOrDefault("HEALTH_PORT", "8082"),
		NatsURL:     getEnvOrDefault("NATS_URL", "nats://localhost:4222"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       parseIntOrDefault("REDIS_DB", 0),

		SweepInterval:      time.Duration(parseIntOrDefault("SWEEP_INTERVAL_SECONDS", 300)) * time.Second,
		QueueFlushInterval: time.Duration(parseIntOrDefault("QUEUE_FLUSH_INTERVAL_SECONDS", 60)) * time.Second,
		DailyDigestHour:    parseIntOrDefault("DAILY_DIGEST_HOUR", 8),

		MaxAutoExecutionsPerHour: parseIntOrDefault("MAX_AUTO_EXECUTIONS_PER_HOUR", 10),
		MaxAutoExecutionsPerDay:  parseIntOrDefault("MAX_AUTO_EXECUTIONS_PER_DAY", 50),
		CircuitBreakerThreshold:  parseIntOrDefault("CIRCUIT_BREAKER_THRESHOLD", 3),
		MinAutoConfidence:        parseFloatOrDefault("MIN_AUTO_CONFIDENCE", 0.7),
		MinAutoRevenueImpact:     parseFloatOrDefault("MIN_AUTO_REVENUE_IMPACT", 0.10),

		StandardBatchMaxSize: parseIntOrDefault("STANDARD_BATCH_MAX_SIZE", 20),
		StandardBatchMaxAge:  time.Duration(parseIntOrDefault("STANDARD_BATCH_MAX_AGE_SECONDS", 3600)) * time.Second,
		HighImpactThreshold:  parseFloatOrDefault("HIGH_IMPACT_THRESHOLD", 50),
		QuietHoursStart:      parseIntOrDefault("QUIET_HOURS_START", -1),
		QuietHoursEnd:        parseIntOrDefault("QUIET_HOURS_END", -1),

		SlackWebhookURL: os.Getenv("SLACK_WEBHOOK_URL"),
		SMTPHost:        os.Getenv("SMTP_HOST"),
		SMTPPort:        parseIntOrDefault("SMTP_PORT", 587),
		SMTPUsername:    os.Getenv("SMTP_USERNAME"),
		SMTPPassword:    os.Getenv("SMTP_PASSWORD"),
		EmailFrom:       getEnvOrDefault("EMAIL_FROM", "autopilot@localhost"),
		AdminEmails:     splitList(os.Getenv("ADMIN_EMAILS")),

		EnableAutoExecution: getEnvOrDefault("ENABLE_AUTO_EXECUTION", "true") == "true",
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks that required configuration is present and sensible.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT is required")
	}

	if c.MaxAutoExecutionsPerHour < 0 || c.MaxAutoExecutionsPerDay < 0 {
		return fmt.Errorf("auto-execution caps must not be negative")
	}

	if c.CircuitBreakerThreshold < 1 {
		return fmt.Errorf("CIRCUIT_BREAKER_THRESHOLD must be at least 1")
	}

	if c.MinAutoConfidence < 0 || c.MinAutoConfidence > 1 {
		return fmt.Errorf("MIN_AUTO_CONFIDENCE must be between 0 and 1")
	}

	if c.StandardBatchMaxSize < 1 {
		return fmt.Errorf("STANDARD_BATCH_MAX_SIZE must be at least 1")
	}

	if c.SweepInterval <= 0 || c.QueueFlushInterval <= 0 {
		return fmt.Errorf("sweep and flush intervals must be positive")
	}

	if c.DailyDigestHour > 23 {
		return fmt.Errorf("DAILY_DIGEST_HOUR must be an hour of the day (0-23) or -1")
	}

	if c.QuietHoursEnabled() {
		if c.QuietHoursStart > 23 || c.QuietHoursEnd < 0 || c.QuietHoursEnd > 23 {
			return fmt.Errorf("quiet hours must be hours of the day (0-23)")
		}
	}

	return nil
}

// QuietHoursEnabled reports whether a global quiet-hours window is configured.
func (c *Config) QuietHoursEnabled() bool {
	return c.QuietHoursStart >= 0
}

// Helper functions
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
			return result
		}
	}
	return defaultValue
}

func parseFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if result, err := strconv.ParseFloat(strings.TrimSpace(value), 64); err == nil {
			return result
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Database
	SQLiteDBPath string

	// AMQP
	AMQPURL         string
	AMQPExchange    string
	AMQPEventQueue  string
	AMQPNotifyQueue string

	// Recurring processing
	ProcessInterval time.Duration
	DispatchWorkers int
	MaxAttempts     int
	RetryBackoff    time.Duration

	// Per-owner throttle
	OwnerRateLimit  int
	OwnerRateWindow time.Duration

	// Insights
	GeminiModel   string
	GeminiEnabled bool
}

func Load() *Config {
	return &Config{
		SQLiteDBPath: getEnv("SQLITE_DB_PATH", "./data/ledgerd.db"),

		AMQPURL:         getEnv("AMQP_URL", ""),
		AMQPExchange:    getEnv("AMQP_EXCHANGE", "ledgerd"),
		AMQPEventQueue:  getEnv("AMQP_EVENT_QUEUE", "recurring_events"),
		AMQPNotifyQueue: getEnv("AMQP_NOTIFY_QUEUE", "notifications"),

		ProcessInterval: getEnvDuration("PROCESS_INTERVAL", 24*time.Hour),
		DispatchWorkers: getEnvInt("DISPATCH_WORKERS", 4),
		MaxAttempts:     getEnvInt("DISPATCH_MAX_ATTEMPTS", 3),
		RetryBackoff:    getEnvDuration("DISPATCH_RETRY_BACKOFF", time.Second),

		OwnerRateLimit:  getEnvInt("OWNER_RATE_LIMIT", 10),
		OwnerRateWindow: getEnvDuration("OWNER_RATE_WINDOW", time.Minute),

		GeminiModel:   getEnv("GEMINI_MODEL", "gemini-2.0-flash"),
		GeminiEnabled: getEnv("GEMINI_API_KEY", "") != "",
	}
}

// Validate validates the configuration and returns an error if invalid.
func (c *Config) Validate() error {
	var errors []string

	if c.SQLiteDBPath == "" {
		errors = append(errors, "SQLite database path cannot be empty")
	} else {
		dir := filepath.Dir(c.SQLiteDBPath)
		if dir != "." && dir != "" {
			if _, err := os.Stat(dir); os.IsNotExist(err) {
				if err := os.MkdirAll(dir, 0755); err != nil {
					errors = append(errors, fmt.Sprintf("cannot create SQLite database directory '%s': %v", dir, err))
				}
			}
		}
	}

	if c.AMQPURL != "" {
		if parsedURL, err := url.Parse(c.AMQPURL); err != nil {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL '%s': %v", c.AMQPURL, err))
		} else if parsedURL.Scheme != "amqp" && parsedURL.Scheme != "amqps" {
			errors = append(errors, fmt.Sprintf("invalid AMQP URL scheme '%s': must be 'amqp' or 'amqps'", parsedURL.Scheme))
		}
		if c.AMQPExchange == "" {
			errors = append(errors, "AMQP exchange name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPEventQueue == "" {
			errors = append(errors, "AMQP event queue name cannot be empty when AMQP URL is provided")
		}
		if c.AMQPNotifyQueue == "" {
			errors = append(errors, "AMQP notify queue name cannot be empty when AMQP URL is provided")
		}
	}

	if c.ProcessInterval < time.Minute {
		errors = append(errors, fmt.Sprintf("invalid process interval %v: must be at least 1 minute", c.ProcessInterval))
	} else if c.ProcessInterval > 7*24*time.Hour {
		errors = append(errors, fmt.Sprintf("invalid process interval %v: must be at most 7 days", c.ProcessInterval))
	}

	if c.DispatchWorkers < 1 {
		errors = append(errors, fmt.Sprintf("invalid dispatch workers %d: must be at least 1", c.DispatchWorkers))
	} else if c.DispatchWorkers > 64 {
		errors = append(errors, fmt.Sprintf("invalid dispatch workers %d: must be at most 64", c.DispatchWorkers))
	}

	if c.MaxAttempts < 1 {
		errors = append(errors, fmt.Sprintf("invalid max attempts %d: must be at least 1", c.MaxAttempts))
	}

	if c.OwnerRateLimit < 1 {
		errors = append(errors, fmt.Sprintf("invalid owner rate limit %d: must be at least 1", c.OwnerRateLimit))
	}
	if c.OwnerRateWindow < time.Second {
		errors = append(errors, fmt.Sprintf("invalid owner rate window %v: must be at least 1 second", c.OwnerRateWindow))
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n- %s", strings.Join(errors, "\n- "))
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

/*
Package config loads server configuration from the environment.

SOURCES:
  A .env file in the working directory is loaded first (if present), then
  the process environment. Real environment variables win over .env
  entries. Command-line flags in cmd/server override both.

VARIABLES:
  PORT               HTTP port (8080)
  STORE_BACKEND      sqlite | memory (sqlite)
  DB_PATH            SQLite path, ":memory:" allowed (budget.db)
  POLICY_FILE        governance policy JSON (empty = defaults)
  JWT_SECRET         HMAC secret for bearer tokens (empty = header actors)
  AMQP_URL           event broker (empty = events are only logged)
  AMQP_EXCHANGE      topic exchange for events (budget.events)
  REDIS_URL          report cache (empty = no cache)
  REPORT_CACHE_TTL   cached report lifetime (1m)
  RECALC_INTERVAL    total recalculation period, 0 disables (1h)
  ALLOWED_ORIGINS    comma-separated CORS origins
  ENABLE_SCENARIOS   demo scenario endpoints, admin only (false)
  LOG_LEVEL          debug | info | warn | error (info)
  LOG_FORMAT         text | json (text)
*/
package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// HTTP Server
	Port           int
	AllowedOrigins []string

	// Storage
	StoreBackend string
	DBPath       string

	// Governance
	PolicyFile string
	JWTSecret  string

	// AMQP
	AMQPURL      string
	AMQPExchange string

	// Report cache
	RedisURL       string
	ReportCacheTTL time.Duration

	// Scheduler
	RecalcInterval time.Duration

	// Demo data endpoints; they wipe the store
	EnableScenarios bool

	// Logging
	LogLevel  string
	LogFormat string
}

var (
	validBackends   = []string{"sqlite", "memory"}
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"text", "json"}
)

// Load reads .env (if any) and the environment.
func Load() *Config {
	_ = godotenv.Load()
	return FromEnv()
}

// FromEnv reads the environment only.
func FromEnv() *Config {
	return &Config{
		Port:           getEnvInt("PORT", 8080),
		AllowedOrigins: getEnvList("ALLOWED_ORIGINS", []string{"http://localhost:5173", "http://localhost:8080"}),

		StoreBackend: getEnv("STORE_BACKEND", "sqlite"),
		DBPath:       getEnv("DB_PATH", "budget.db"),

		PolicyFile: getEnv("POLICY_FILE", ""),
		JWTSecret:  getEnv("JWT_SECRET", ""),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "budget.events"),

		RedisURL:       getEnv("REDIS_URL", ""),
		ReportCacheTTL: getEnvDuration("REPORT_CACHE_TTL", time.Minute),

		RecalcInterval: getEnvDuration("RECALC_INTERVAL", time.Hour),

		EnableScenarios: getEnvBool("ENABLE_SCENARIOS", false),

		LogLevel:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat: strings.ToLower(getEnv("LOG_FORMAT", "text")),
	}
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d: must be between 1 and 65535", c.Port))
	}
	if !slices.Contains(validBackends, c.StoreBackend) {
		errs = append(errs, fmt.Errorf("invalid store backend %q: must be one of %v", c.StoreBackend, validBackends))
	}
	if c.StoreBackend == "sqlite" && c.DBPath == "" {
		errs = append(errs, errors.New("database path cannot be empty when using sqlite backend"))
	}
	if c.PolicyFile != "" {
		if _, err := os.Stat(c.PolicyFile); err != nil {
			errs = append(errs, fmt.Errorf("policy file %s: %w", c.PolicyFile, err))
		}
	}

	if c.AMQPURL != "" {
		if u, err := url.Parse(c.AMQPURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid AMQP URL: %w", err))
		} else if u.Scheme != "amqp" && u.Scheme != "amqps" {
			errs = append(errs, fmt.Errorf("invalid AMQP URL scheme %q: must be amqp or amqps", u.Scheme))
		}
		if c.AMQPExchange == "" {
			errs = append(errs, errors.New("AMQP exchange cannot be empty when AMQP URL is provided"))
		}
	}

	if c.RedisURL != "" {
		if u, err := url.Parse(c.RedisURL); err != nil {
			errs = append(errs, fmt.Errorf("invalid Redis URL: %w", err))
		} else if u.Scheme != "redis" && u.Scheme != "rediss" {
			errs = append(errs, fmt.Errorf("invalid Redis URL scheme %q: must be redis or rediss", u.Scheme))
		}
		if c.ReportCacheTTL <= 0 {
			errs = append(errs, fmt.Errorf("invalid report cache TTL %v: must be positive", c.ReportCacheTTL))
		}
	}

	if c.RecalcInterval < 0 {
		errs = append(errs, fmt.Errorf("invalid recalculation interval %v: must not be negative", c.RecalcInterval))
	} else if c.RecalcInterval > 0 && c.RecalcInterval < time.Minute {
		errs = append(errs, fmt.Errorf("invalid recalculation interval %v: must be at least 1 minute", c.RecalcInterval))
	}

	if !slices.Contains(validLogLevels, c.LogLevel) {
		errs = append(errs, fmt.Errorf("invalid log level %q: must be one of %v", c.LogLevel, validLogLevels))
	}
	if !slices.Contains(validLogFormats, c.LogFormat) {
		errs = append(errs, fmt.Errorf("invalid log format %q: must be one of %v", c.LogFormat, validLogFormats))
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %w", errors.Join(errs...))
	}
	return nil
}

// =============================================================================
// LOGGING
// =============================================================================

// NewLogger builds the process logger. Unknown levels fall back to info.
func NewLogger(w io.Writer, level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// =============================================================================
// HELPERS
// =============================================================================

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

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

package config_test

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/budget-engine/config"
)

func validConfig() config.Config {
	return config.Config{
		Port:           8080,
		StoreBackend:   "sqlite",
		DBPath:         ":memory:",
		AMQPExchange:   "budget.events",
		ReportCacheTTL: time.Minute,
		RecalcInterval: time.Hour,
		LogLevel:       "info",
		LogFormat:      "text",
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr string
	}{
		{name: "valid defaults", mutate: func(*config.Config) {}},
		{name: "memory backend without path", mutate: func(c *config.Config) { c.StoreBackend = "memory"; c.DBPath = "" }},
		{name: "scheduler disabled", mutate: func(c *config.Config) { c.RecalcInterval = 0 }},
		{
			name:    "port out of range",
			mutate:  func(c *config.Config) { c.Port = 70000 },
			wantErr: "invalid port 70000",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *config.Config) { c.StoreBackend = "postgres" },
			wantErr: `invalid store backend "postgres"`,
		},
		{
			name:    "sqlite without path",
			mutate:  func(c *config.Config) { c.DBPath = "" },
			wantErr: "database path cannot be empty",
		},
		{
			name:    "amqp scheme",
			mutate:  func(c *config.Config) { c.AMQPURL = "http://localhost:5672/" },
			wantErr: `invalid AMQP URL scheme "http"`,
		},
		{
			name:    "redis scheme",
			mutate:  func(c *config.Config) { c.RedisURL = "tcp://localhost:6379" },
			wantErr: `invalid Redis URL scheme "tcp"`,
		},
		{
			name:    "recalculation too frequent",
			mutate:  func(c *config.Config) { c.RecalcInterval = time.Second },
			wantErr: "must be at least 1 minute",
		},
		{
			name:    "log level",
			mutate:  func(c *config.Config) { c.LogLevel = "verbose" },
			wantErr: `invalid log level "verbose"`,
		},
		{
			name:    "missing policy file",
			mutate:  func(c *config.Config) { c.PolicyFile = "/nonexistent/policy.json" },
			wantErr: "policy file /nonexistent/policy.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)

			err := cfg.Validate()

			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_Validate_ReportsEveryProblem(t *testing.T) {
	// GIVEN: A config with three independent problems
	cfg := validConfig()
	cfg.Port = 0
	cfg.LogFormat = "xml"
	cfg.StoreBackend = "mongo"

	// WHEN: Validating
	err := cfg.Validate()

	// THEN: All three are reported together
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid port 0")
	assert.Contains(t, err.Error(), `invalid log format "xml"`)
	assert.Contains(t, err.Error(), `invalid store backend "mongo"`)
}

func TestFromEnv(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("STORE_BACKEND", "memory")
	t.Setenv("RECALC_INTERVAL", "15m")
	t.Setenv("ALLOWED_ORIGINS", "https://budget.college.edu, http://localhost:3000")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("ENABLE_SCENARIOS", "true")

	cfg := config.FromEnv()

	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, "memory", cfg.StoreBackend)
	assert.Equal(t, 15*time.Minute, cfg.RecalcInterval)
	assert.Equal(t, []string{"https://budget.college.edu", "http://localhost:3000"}, cfg.AllowedOrigins)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "budget.events", cfg.AMQPExchange)
	assert.Equal(t, time.Minute, cfg.ReportCacheTTL)
	assert.True(t, cfg.EnableScenarios)
}

func TestFromEnv_IgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("PORT", "eighty")
	t.Setenv("REPORT_CACHE_TTL", "soon")
	t.Setenv("ENABLE_SCENARIOS", "maybe")

	cfg := config.FromEnv()

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, time.Minute, cfg.ReportCacheTTL)
	assert.False(t, cfg.EnableScenarios)
}

func TestFromEnv_ScenariosOffByDefault(t *testing.T) {
	t.Setenv("ENABLE_SCENARIOS", "")

	cfg := config.FromEnv()

	assert.False(t, cfg.EnableScenarios)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := config.NewLogger(&buf, "warn", "json")

	logger.Info("dropped")
	logger.Warn("kept", "component", "test")

	out := buf.String()
	assert.NotContains(t, out, "dropped")
	assert.True(t, strings.HasPrefix(out, "{"), "json handler expected, got %q", out)
	assert.Contains(t, out, `"component":"test"`)
}

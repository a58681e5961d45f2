package config

import (
	"testing"
	"time"

	"github.com/platinummonkey/permitdesk/pkg/observability"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "9090", cfg.Server.HealthPort)
	assert.Equal(t, "junior_clerk", cfg.Authz.AutoAssignRole)
	assert.Empty(t, cfg.Authz.ChalanAutoAssignRole)
	assert.Equal(t, "end_user", cfg.Authz.DefaultRole)
	assert.True(t, cfg.RateLimit.Enabled)
	assert.Equal(t, 60, cfg.RateLimit.AnonymousPerMin)
	assert.Equal(t, 3, cfg.Authz.AssignRetries)
	assert.Equal(t, 30*time.Second, cfg.Authz.RoleCacheTTL)
	assert.Empty(t, cfg.Redis.URL)
	assert.Equal(t, observability.InfoLevel, cfg.Observability.LogLevel)
}

func TestLoadConfig_FromEnvironment(t *testing.T) {
	t.Setenv("PERMITDESK_PORT", "8181")
	t.Setenv("PERMITDESK_ROLE_CACHE_TTL", "2m")
	t.Setenv("PERMITDESK_AUTO_ASSIGN_ROLE", "senior_clerk")
	t.Setenv("PERMITDESK_NOTIFY_WORKERS", "2")
	t.Setenv("PERMITDESK_LOG_LEVEL", "debug")
	t.Setenv("PERMITDESK_SCHEDULER_ENABLED", "false")
	t.Setenv("PERMITDESK_CHALAN_AUTO_ASSIGN_ROLE", "assistant")
	t.Setenv("PERMITDESK_RATE_LIMIT_ANON_PER_MIN", "5")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8181", cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Authz.RoleCacheTTL)
	assert.Equal(t, "senior_clerk", cfg.Authz.AutoAssignRole)
	assert.Equal(t, int64(2), cfg.Notifications.Workers)
	assert.Equal(t, observability.DebugLevel, cfg.Observability.LogLevel)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "assistant", cfg.Authz.ChalanAutoAssignRole)
	assert.Equal(t, 5, cfg.RateLimit.AnonymousPerMin)
}

func TestLoadConfig_InvalidValuesFallBack(t *testing.T) {
	t.Setenv("PERMITDESK_ASSIGN_RETRIES", "many")
	t.Setenv("PERMITDESK_ROLE_CACHE_TTL", "soon")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Authz.AssignRetries)
	assert.Equal(t, 30*time.Second, cfg.Authz.RoleCacheTTL)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg, err := LoadConfig()
		require.NoError(t, err)
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"same ports", func(c *Config) { c.Server.HealthPort = c.Server.Port }, "must be different"},
		{"missing database", func(c *Config) { c.Database.URL = "" }, "postgres URL is required"},
		{"min above max", func(c *Config) { c.Database.MinConns = 50 }, "exceeds max connections"},
		{"no retries", func(c *Config) { c.Authz.AssignRetries = 0 }, "assign retries"},
		{"no default role", func(c *Config) { c.Authz.DefaultRole = "" }, "default role"},
		{"no workers", func(c *Config) { c.Notifications.Workers = 0 }, "notification workers"},
		{"no expiry schedule", func(c *Config) { c.Scheduler.ExpirePermit = "" }, "expiry schedule"},
		{"zero rate limit", func(c *Config) { c.RateLimit.UserPerMin = 0 }, "rate limits"},
		{"otel without endpoint", func(c *Config) {
			c.Observability.OTelEnabled = true
			c.Observability.OTelEndpoint = ""
		}, "OpenTelemetry endpoint"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfig_OTel(t *testing.T) {
	t.Setenv("PERMITDESK_OTEL_ENABLED", "true")
	t.Setenv("PERMITDESK_OTEL_SERVICE_NAME", "permitdesk-test")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	otelCfg := cfg.OTel()
	assert.True(t, otelCfg.Enabled)
	assert.Equal(t, "permitdesk-test", otelCfg.ServiceName)
	assert.Equal(t, "localhost:4317", otelCfg.Endpoint)
}

package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tourwise/gatekeeper/internal/config"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, "gatekeeper", cfg.App.Name)
	assert.Equal(t, "development", cfg.App.Env)
	assert.False(t, cfg.IsProduction())

	assert.Equal(t, "0.0.0.0:8080", cfg.Server.Addr())
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr())

	assert.Equal(t, 5*time.Minute, cfg.Throttle.Retention)
	assert.Equal(t, 100, cfg.Throttle.MaxPerRetention)
	assert.Equal(t, time.Second, cfg.Throttle.BurstWindow)
	assert.Equal(t, 10, cfg.Throttle.MaxPerBurst)
	assert.Equal(t, time.Hour, cfg.Throttle.BaseBlockDuration)
	assert.Equal(t, 2.0, cfg.Throttle.EscalationFactor)
	assert.Equal(t, 24*time.Hour, cfg.Throttle.MaxBlockDuration)

	assert.Equal(t, 30*24*time.Hour, cfg.Session.TTL)

	// Fail-open for admission, fail-closed for sessions.
	assert.False(t, cfg.RateLimit.FailClosed)
	assert.False(t, cfg.Throttle.FailClosed)
	assert.True(t, cfg.Session.FailClosed)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("REDIS_HOST", "redis.internal")
	t.Setenv("SESSION_TTL", "72h")
	t.Setenv("SESSION_SLIDING_EXPIRY", "true")
	t.Setenv("THROTTLE_ESCALATION_FACTOR", "3.5")
	t.Setenv("RATELIMIT_FAIL_CLOSED", "true")

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr())
	assert.Equal(t, 72*time.Hour, cfg.Session.TTL)
	assert.True(t, cfg.Session.SlidingExpiry)
	assert.Equal(t, 3.5, cfg.Throttle.EscalationFactor)
	assert.True(t, cfg.RateLimit.FailClosed)
}

func TestLoadMalformedEnvFallsBackToDefault(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-port")
	t.Setenv("SESSION_TTL", "forever")

	cfg, err := config.Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*24*time.Hour, cfg.Session.TTL)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		wantErr bool
	}{
		{name: "defaults pass", mutate: func(*config.Config) {}, wantErr: false},
		{name: "bad port", mutate: func(c *config.Config) { c.Server.Port = 0 }, wantErr: true},
		{name: "non positive ttl", mutate: func(c *config.Config) { c.Session.TTL = 0 }, wantErr: true},
		{name: "escalation below one", mutate: func(c *config.Config) { c.Throttle.EscalationFactor = 0.5 }, wantErr: true},
		{
			name: "production requires jwt secret",
			mutate: func(c *config.Config) {
				c.App.Env = "production"
				c.Auth.JWTSecret = ""
			},
			wantErr: true,
		},
		{
			name: "production with secret passes",
			mutate: func(c *config.Config) {
				c.App.Env = "production"
				c.Auth.JWTSecret = "secret"
			},
			wantErr: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := config.Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("ENV", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("MONITOR_POLL_INTERVAL", "")
	t.Setenv("CORS_ALLOWED_ORIGINS", "")
	t.Setenv("EMAIL_PROVIDER", "")
	cfg := Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "development", cfg.Env)
	assert.Equal(t, 5*time.Minute, cfg.MonitorPollInterval)
	assert.Equal(t, time.Hour, cfg.MonitorStaleAfter)
	assert.Equal(t, 30*time.Second, cfg.DisconnectAlertCooldown)
	assert.Equal(t, 5*time.Minute, cfg.DisconnectLogWindow)
	assert.Equal(t, "connection_instances_changes", cfg.ChangeFeedChannel)
	assert.Nil(t, cfg.CORSAllowedOrigins)
	assert.Equal(t, "log", cfg.EmailProvider)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("ENV", "production")
	t.Setenv("PUBLIC_BASE_URL", "https://app.example.com/")
	t.Setenv("MONITOR_POLL_INTERVAL", "90s")
	t.Setenv("DISCONNECT_ALERT_COOLDOWN", "1m")
	t.Setenv("GATEWAY_MAX_RETRIES", "4")
	t.Setenv("REDIS_TLS", "true")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("EMAIL_PROVIDER", "SES")

	cfg := Load()
	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "production", cfg.Env)
	assert.Equal(t, "https://app.example.com", cfg.PublicBaseURL)
	assert.Equal(t, 90*time.Second, cfg.MonitorPollInterval)
	assert.Equal(t, time.Minute, cfg.DisconnectAlertCooldown)
	assert.Equal(t, 4, cfg.GatewayMaxRetries)
	assert.True(t, cfg.RedisTLS)
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, cfg.CORSAllowedOrigins)
	assert.Equal(t, "ses", cfg.EmailProvider)
}

func TestInvalidDurationFallsBack(t *testing.T) {
	t.Setenv("MONITOR_STALE_AFTER", "soon")
	t.Setenv("PAIRING_TTL", "-5s")
	cfg := Load()
	assert.Equal(t, time.Hour, cfg.MonitorStaleAfter)
	assert.Equal(t, 45*time.Second, cfg.PairingTTL)
}

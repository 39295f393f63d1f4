package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port          string
	Env           string
	PublicBaseURL string
	LogLevel      string
	DatabaseURL   string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	AlertChannel  string

	AccountJWTSecret   string
	CORSAllowedOrigins []string
	ConfirmRatePerMin  int

	// Messaging gateway
	GatewayBaseURL    string
	GatewayAPIKey     string
	GatewayTimeout    time.Duration
	GatewayMaxRetries int

	// Patient confirmation webhook
	NotifyWebhookURL      string
	NotifyWebhookUser     string
	NotifyWebhookPassword string

	// Connection monitoring
	MonitorPollInterval     time.Duration
	MonitorStaleAfter       time.Duration
	DisconnectAlertCooldown time.Duration
	DisconnectLogWindow     time.Duration
	PairingTTL              time.Duration
	ChangeFeedChannel       string

	// Disconnect email: sendgrid, ses or log
	EmailProvider string
	AWSRegion     string
	SESFromEmail  string

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:          getEnv("PORT", "8080"),
		Env:           getEnv("ENV", "development"),
		PublicBaseURL: strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:8080"), "/"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
		DatabaseURL:   getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		AlertChannel:  getEnv("ALERT_CHANNEL", "practice:alerts"),

		AccountJWTSecret:   getEnv("ACCOUNT_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		ConfirmRatePerMin:  getEnvAsInt("CONFIRM_RATE_PER_MIN", 20),

		GatewayBaseURL:    getEnv("GATEWAY_BASE_URL", ""),
		GatewayAPIKey:     getEnv("GATEWAY_API_KEY", ""),
		GatewayTimeout:    getEnvAsDuration("GATEWAY_TIMEOUT", 15*time.Second),
		GatewayMaxRetries: getEnvAsInt("GATEWAY_MAX_RETRIES", 2),

		NotifyWebhookURL:      getEnv("NOTIFY_WEBHOOK_URL", ""),
		NotifyWebhookUser:     getEnv("NOTIFY_WEBHOOK_USER", ""),
		NotifyWebhookPassword: getEnv("NOTIFY_WEBHOOK_PASSWORD", ""),

		MonitorPollInterval:     getEnvAsDuration("MONITOR_POLL_INTERVAL", 5*time.Minute),
		MonitorStaleAfter:       getEnvAsDuration("MONITOR_STALE_AFTER", time.Hour),
		DisconnectAlertCooldown: getEnvAsDuration("DISCONNECT_ALERT_COOLDOWN", 30*time.Second),
		DisconnectLogWindow:     getEnvAsDuration("DISCONNECT_LOG_WINDOW", 5*time.Minute),
		PairingTTL:              getEnvAsDuration("PAIRING_TTL", 45*time.Second),
		ChangeFeedChannel:       getEnv("CHANGE_FEED_CHANNEL", "connection_instances_changes"),

		EmailProvider: strings.ToLower(getEnv("EMAIL_PROVIDER", "log")),
		AWSRegion:     getEnv("AWS_REGION", "us-east-1"),
		SESFromEmail:  getEnv("SES_FROM_EMAIL", ""),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Practice Platform"),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil && value > 0 {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

package bootstrap

import (
	"context"
	"crypto/tls"
	"strings"

	"github.com/redis/go-redis/v9"

	appconfig "github.com/wolfman30/practice-platform/internal/config"
	"github.com/wolfman30/practice-platform/internal/gateway"
	"github.com/wolfman30/practice-platform/internal/notify"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

// BuildRedisClient returns a configured Redis client or nil when disabled.
// When verify is true, a ping is issued and failures return nil.
func BuildRedisClient(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger, verify bool) *redis.Client {
	if cfg == nil || strings.TrimSpace(cfg.RedisAddr) == "" {
		return nil
	}
	if logger == nil {
		logger = logging.Default()
	}
	if ctx == nil {
		ctx = context.Background()
	}

	redisOptions := &redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	}
	if cfg.RedisTLS {
		redisOptions.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(redisOptions)
	if !verify {
		return client
	}
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn("redis not available", "error", err)
		_ = client.Close()
		return nil
	}
	return client
}

// BuildGatewayClient creates the messaging gateway client.
func BuildGatewayClient(cfg *appconfig.Config, logger *logging.Logger) (*gateway.Client, error) {
	return gateway.New(gateway.Config{
		BaseURL:    cfg.GatewayBaseURL,
		APIKey:     cfg.GatewayAPIKey,
		Timeout:    cfg.GatewayTimeout,
		MaxRetries: cfg.GatewayMaxRetries,
		Logger:     logger,
	})
}

// BuildEmailSender picks the disconnect email provider. It falls back to
// logging when the selected provider is not configured and reports the
// provider in use plus the reason for any fallback.
func BuildEmailSender(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (notify.EmailSender, string, string) {
	if logger == nil {
		logger = logging.Default()
	}
	if cfg == nil {
		return notify.NewLogSender(logger), "log", "missing config"
	}

	switch cfg.EmailProvider {
	case "sendgrid":
		sender := notify.NewSendGridSender(notify.SendGridConfig{
			APIKey:    cfg.SendGridAPIKey,
			FromEmail: cfg.SendGridFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if sender == nil {
			return notify.NewLogSender(logger), "log", "SENDGRID_API_KEY not set"
		}
		return sender, "sendgrid", ""
	case "ses":
		if strings.TrimSpace(cfg.SESFromEmail) == "" {
			return notify.NewLogSender(logger), "log", "SES_FROM_EMAIL not set"
		}
		sender, err := notify.NewSESSenderFromEnv(ctx, notify.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
			FromName:  cfg.SendGridFromName,
		}, logger)
		if err != nil {
			return notify.NewLogSender(logger), "log", err.Error()
		}
		return sender, "ses", ""
	case "", "log":
		return notify.NewLogSender(logger), "log", ""
	default:
		return notify.NewLogSender(logger), "log", "unknown EMAIL_PROVIDER " + cfg.EmailProvider
	}
}

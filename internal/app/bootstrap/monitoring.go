package bootstrap

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/wolfman30/practice-platform/internal/changefeed"
	appconfig "github.com/wolfman30/practice-platform/internal/config"
	"github.com/wolfman30/practice-platform/internal/connection"
	"github.com/wolfman30/practice-platform/internal/monitor"
	"github.com/wolfman30/practice-platform/internal/notify"
	"github.com/wolfman30/practice-platform/internal/observability/metrics"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

// Monitoring bundles the connection monitoring runtime.
type Monitoring struct {
	Supervisor *monitor.Supervisor
	Bus        *notify.Bus
	Relay      *notify.RedisRelay
	Feed       *changefeed.Listener
}

// BuildMonitoring wires the supervisor, alert fan-out and change feed. The
// Redis relay is only built when redisClient is non-nil.
func BuildMonitoring(
	cfg *appconfig.Config,
	pool *pgxpool.Pool,
	gw monitor.Gateway,
	store *connection.Store,
	redisClient *redis.Client,
	email notify.EmailSender,
	m *metrics.MonitorMetrics,
	logger *logging.Logger,
) *Monitoring {
	if logger == nil {
		logger = logging.Default()
	}
	out := &Monitoring{Bus: notify.NewBus()}

	var publisher notify.Publisher = out.Bus
	if redisClient != nil {
		out.Relay = notify.NewRedisRelay(redisClient, cfg.AlertChannel, out.Bus, logger)
		publisher = out.Relay
	}

	throttler := notify.NewThrottler(publisher, cfg.DisconnectAlertCooldown, m, logger)
	recorder := notify.NewRecorder(notify.NewStore(pool), email, logger)
	out.Supervisor = monitor.NewSupervisor(gw, store, throttler, recorder, monitor.Config{
		PollInterval: cfg.MonitorPollInterval,
		StaleAfter:   cfg.MonitorStaleAfter,
		PairingTTL:   cfg.PairingTTL,
		LogWindow:    cfg.DisconnectLogWindow,
	}, m, logger)

	sup := out.Supervisor
	out.Feed = changefeed.NewListener(changefeed.PgxDialer(cfg.DatabaseURL), cfg.ChangeFeedChannel, logger).
		OnConnect(func(ctx context.Context, reconnect bool) {
			if !reconnect {
				return
			}
			// Changes made while the feed was down were missed.
			if _, err := sup.Bootstrap(ctx); err != nil {
				logger.Warn("monitor resync after feed reconnect failed", "error", err)
			}
		})
	return out
}

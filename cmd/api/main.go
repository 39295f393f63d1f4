package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/wolfman30/practice-platform/internal/api/router"
	"github.com/wolfman30/practice-platform/internal/app/bootstrap"
	appconfig "github.com/wolfman30/practice-platform/internal/config"
	"github.com/wolfman30/practice-platform/internal/connection"
	"github.com/wolfman30/practice-platform/internal/notify"
	"github.com/wolfman30/practice-platform/internal/observability/metrics"
	"github.com/wolfman30/practice-platform/internal/payments"
	"github.com/wolfman30/practice-platform/internal/sessions"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

func main() {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting practice-platform API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := connectPostgresPool(ctx, cfg.DatabaseURL, logger)
	if pool == nil {
		logger.Error("database is required")
		os.Exit(1)
	}
	defer pool.Close()

	metricsHandler, monitorMetrics := setupMetrics()

	gatewayClient, err := bootstrap.BuildGatewayClient(cfg, logger)
	if err != nil {
		logger.Error("failed to build gateway client", "error", err)
		os.Exit(1)
	}
	redisClient := bootstrap.BuildRedisClient(ctx, cfg, logger, true)
	if redisClient != nil {
		defer redisClient.Close()
	}
	emailSender, provider, reason := bootstrap.BuildEmailSender(ctx, cfg, logger)
	logger.Info("disconnect email provider", "provider", provider, "reason", reason)

	connectionStore := connection.NewStore(pool)
	monitoring := bootstrap.BuildMonitoring(cfg, pool, gatewayClient, connectionStore, redisClient, emailSender, monitorMetrics, logger)
	supervisor := monitoring.Supervisor

	sessionStore := sessions.NewStore(pool)
	paymentRepo := payments.NewRepository(pool)
	var notifier sessions.Notifier
	if strings.TrimSpace(cfg.NotifyWebhookURL) != "" {
		notifier = sessions.NewWebhookNotifier(cfg.NotifyWebhookURL, cfg.NotifyWebhookUser, cfg.NotifyWebhookPassword, nil)
	} else {
		logger.Warn("NOTIFY_WEBHOOK_URL not set; patient confirmations disabled")
	}
	sessionsHandler := sessions.NewHandler(
		sessions.NewSeriesGenerator(sessionStore, paymentRepo, monitorMetrics, logger),
		sessions.NewSeriesDeleter(sessionStore, paymentRepo, logger),
		sessions.NewAttendanceResolver(sessionStore, paymentRepo, logger),
		sessionStore,
		sessions.NewConfirmations(sessionStore, notifier, cfg.PublicBaseURL, logger),
		logger,
	)
	connectionService := connection.NewService(gatewayClient, connectionStore, supervisor, cfg.PairingTTL, logger)

	r := router.New(&router.Config{
		Logger:             logger,
		Sessions:           sessionsHandler,
		Connection:         connection.NewHandler(connectionService, supervisor, logger),
		AlertStream:        notify.NewStreamHandler(monitoring.Bus, logger).WithAllowedOrigins(cfg.CORSAllowedOrigins),
		MetricsHandler:     metricsHandler,
		DB:                 pool,
		AccountJWTSecret:   cfg.AccountJWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		ConfirmRatePerMin:  cfg.ConfirmRatePerMin,
	})

	background, cancelBackground := context.WithCancel(context.Background())
	defer cancelBackground()
	if monitoring.Relay != nil {
		go func() {
			if err := monitoring.Relay.Run(background); err != nil {
				logger.Warn("alert relay stopped", "error", err)
			}
		}()
	}
	supervisor.Subscribe(monitoring.Feed)
	if _, err := supervisor.Bootstrap(ctx); err != nil {
		logger.Warn("initial monitor bootstrap failed", "error", err)
	}

	srv := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     r,
		ReadTimeout: 15 * time.Second,
		// The alert stream holds connections open, so no WriteTimeout.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	supervisor.Close()
	cancelBackground()

	logger.Info("server stopped")
}

// connectPostgresPool returns nil when the URL is empty or the database is unreachable.
func connectPostgresPool(ctx context.Context, databaseURL string, logger *logging.Logger) *pgxpool.Pool {
	if strings.TrimSpace(databaseURL) == "" {
		return nil
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		logger.Error("failed to create postgres pool", "error", err)
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		logger.Error("failed to ping postgres", "error", err)
		pool.Close()
		return nil
	}
	return pool
}

func setupMetrics() (http.Handler, *metrics.MonitorMetrics) {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{}), metrics.NewMonitorMetrics(reg)
}

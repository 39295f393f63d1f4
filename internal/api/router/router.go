package router

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/practice-platform/internal/connection"
	httpmiddleware "github.com/wolfman30/practice-platform/internal/http/middleware"
	"github.com/wolfman30/practice-platform/internal/sessions"
	"github.com/wolfman30/practice-platform/pkg/logging"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	Sessions           *sessions.Handler
	Connection         *connection.Handler
	AlertStream        http.Handler
	MetricsHandler     http.Handler
	DB                 Pinger
	AccountJWTSecret   string
	CORSAllowedOrigins []string
	ConfirmRatePerMin  int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints
	r.Group(func(public chi.Router) {
		public.Get("/health", healthHandler(cfg.DB))
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Sessions != nil {
			public.With(httpmiddleware.RateLimit(cfg.ConfirmRatePerMin, time.Minute)).
				Post("/public/sessions/{sessionID}/confirm", cfg.Sessions.Confirm)
		}
	})

	// Account-scoped API
	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(httpmiddleware.AccountJWT(cfg.AccountJWTSecret))

		if cfg.Sessions != nil {
			v1.With(middleware.Compress(5)).Post("/series", cfg.Sessions.CreateSeries)
			v1.With(middleware.Compress(5)).Delete("/series/{seriesID}", cfg.Sessions.DeleteSeries)
			v1.Route("/sessions/{sessionID}", func(s chi.Router) {
				s.Post("/attendance", cfg.Sessions.ResolveAttendance)
				s.Post("/detach", cfg.Sessions.Detach)
				s.Post("/notify", cfg.Sessions.NotifyPatient)
			})
		}
		if cfg.Connection != nil {
			v1.Route("/connection", func(c chi.Router) {
				c.Post("/", cfg.Connection.Connect)
				c.Delete("/", cfg.Connection.Disconnect)
				c.Get("/pairing", cfg.Connection.Pairing)
				c.Post("/messages", cfg.Connection.SendText)
			})
			v1.Post("/monitoring/start", cfg.Connection.StartMonitoring)
			v1.Post("/monitoring/stop", cfg.Connection.StopMonitoring)
		}
		if cfg.AlertStream != nil {
			v1.Handle("/alerts/stream", cfg.AlertStream)
		}
	})

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if db != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := db.Ping(ctx); err != nil {
				status, code = "degraded", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	}
}

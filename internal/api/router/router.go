package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/sellzap/sellzap/internal/http/handlers"
	httpmiddleware "github.com/sellzap/sellzap/internal/http/middleware"
	"github.com/sellzap/sellzap/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger *logging.Logger

	Health  *handlers.HealthHandler
	Bots    *handlers.BotsHandler
	Webhook *handlers.WebhookHandler
	Session *handlers.SessionHandler
	Cron    *handlers.CronHandler

	MetricsHandler http.Handler

	OwnerJWTSecret string
	CronToken      string

	// WebhookRate caps inbound webhook requests per bot per second.
	// Zero disables rate limiting.
	WebhookRate  float64
	WebhookBurst int

	CORSAllowedOrigins []string
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.Check)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.Webhook != nil {
			public.Route("/webhook/{botID}", func(wh chi.Router) {
				if cfg.WebhookRate > 0 {
					wh.Use(httpmiddleware.RateLimit(cfg.WebhookRate, cfg.WebhookBurst))
				}
				wh.Get("/", cfg.Webhook.Verify)
				wh.Post("/", cfg.Webhook.Receive)
			})
		}
	})

	// Cron trigger endpoints guarded by the shared scheduler token.
	if cfg.Cron != nil {
		r.Group(func(cron chi.Router) {
			cron.Use(httpmiddleware.CronToken(cfg.CronToken))
			// GET for plain cron runners, POST for callers that treat
			// the sweep as the mutation it is.
			cron.Get("/cron/follow-ups", cfg.Cron.FollowUps)
			cron.Post("/cron/follow-ups", cfg.Cron.FollowUps)
		})
	}

	// Owner dashboard endpoints.
	r.Group(func(owner chi.Router) {
		owner.Use(httpmiddleware.OwnerJWT(cfg.OwnerJWTSecret))

		if cfg.Bots != nil {
			owner.Route("/bots", func(b chi.Router) {
				b.Post("/", cfg.Bots.Create)
				b.Get("/", cfg.Bots.List)
				b.Route("/{botID}", func(one chi.Router) {
					one.Get("/", cfg.Bots.Get)
					one.Patch("/status", cfg.Bots.UpdateStatus)
					one.Put("/secrets", cfg.Bots.PutSecrets)

					if cfg.Session != nil {
						one.Route("/session", func(s chi.Router) {
							s.Post("/connect", cfg.Session.Connect)
							s.Get("/", cfg.Session.Status)
							s.Get("/status", cfg.Session.Status)
							s.Delete("/", cfg.Session.Disconnect)
							s.Delete("/status", cfg.Session.Disconnect)
							s.Get("/events", cfg.Session.Events)
						})
					}
				})
			})
		}
	})

	return r
}

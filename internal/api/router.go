package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/clinicore/outreach/internal/config"
)

type RouterConfig struct {
	Dispatcher DispatchRunner
	Scheduler  ConfirmationScheduler
	Actions    ActionService
	PgPool     *pgxpool.Pool
	Redis      *redis.Client
	Cfg        config.Config
	Version    string
}

func NewRouter(rc RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(LoggingMiddleware)

	// Health endpoints
	health := NewHealthHandler(rc.PgPool, rc.Redis, rc.Cfg.Env, rc.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)

	// Engine-triggered endpoints, guarded by the shared secret
	r.Group(func(r chi.Router) {
		r.Use(RequireEngineSecret(rc.Cfg.EngineSecret))
		r.Post("/internal/confirmations/schedule", scheduleConfirmationsHandler(rc.Scheduler))
		r.Post("/internal/events/dispatch", dispatchHandler(rc.Dispatcher))
	})

	// Manual-test entry point, guarded by the internal bearer token
	r.Group(func(r chi.Router) {
		r.Use(RequireBearer(rc.Cfg.InternalAPISecret))
		r.Post("/internal/events/dispatch-test", dispatchHandler(rc.Dispatcher))
	})

	// Public surfaces
	r.Get("/action", actionLinkHandler(rc.Actions))
	r.Post("/webhooks/n8n", webhookHandler(rc.Actions, rc.Cfg.WebhookSecret))

	return r
}

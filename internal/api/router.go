package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/care-portal-scheduling/internal/appointment"
	"github.com/hackgods/care-portal-scheduling/internal/metrics"
)

// RouterConfig wires the HTTP surface. PgPool and Redis are optional; a nil
// dependency is reported as skipped by the readiness probe.
type RouterConfig struct {
	Service *appointment.Service
	Query   *appointment.Query
	PgPool  *pgxpool.Pool
	Redis   *redis.Client
	Logger  zerolog.Logger
	Env     string
	Version string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(RequestIDMiddleware)
	r.Use(RecoveryMiddleware(cfg.Logger))
	r.Use(LoggingMiddleware(cfg.Logger))

	health := NewHealthHandler(cfg.PgPool, cfg.Redis, cfg.Env, cfg.Version)
	r.Get("/health/live", health.Liveness)
	r.Get("/health/ready", health.Readiness)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/appointments", func(r chi.Router) {
		r.Post("/", scheduleHandler(cfg.Service))
		r.Get("/", listAppointmentsHandler(cfg.Service, cfg.Query))
		r.Get("/{id}", getAppointmentHandler(cfg.Service))
		r.Post("/{id}/confirm", confirmHandler(cfg.Service))
		r.Post("/{id}/cancel", cancelHandler(cfg.Service))
		r.Post("/{id}/reschedule", rescheduleHandler(cfg.Service))
		r.Post("/{id}/complete", completeHandler(cfg.Service))
	})

	r.Get("/providers/{id}/slots", availableSlotsHandler(cfg.Service))

	return r
}

package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"session-guard/internal/config"
	"session-guard/internal/handler"
	"session-guard/internal/middleware"
)

const (
	streamMaxDuration = time.Hour
	streamIdleTimeout = time.Minute
)

func New(
	cfg *config.Config,
	authMiddleware *middleware.AuthMiddleware,
	healthHandler *handler.HealthHandler,
	sessionHandler *handler.SessionHandler,
	eventsHandler *handler.EventsHandler,
) http.Handler {
	r := chi.NewRouter()
	rateLimitMiddleware := middleware.NewRateLimitMiddleware(cfg.RateLimitRPM, cfg.RepairRateLimitRPM)

	r.Use(middleware.Recovery)
	r.Use(middleware.Logging)
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(rateLimitMiddleware.Handler)

	r.Get("/health", healthHandler.Health)

	r.Route("/api/v1/session", func(session chi.Router) {
		session.Use(authMiddleware.RequireOperator)

		session.With(middleware.StreamingTimeout(streamMaxDuration, streamIdleTimeout)).Get("/events", eventsHandler.Stream)

		session.Group(func(api chi.Router) {
			api.Use(middleware.Timeout(cfg.RequestTimeout))

			api.Get("/", sessionHandler.Get)
			api.Delete("/", sessionHandler.Clear)
			api.Post("/repair", sessionHandler.Repair)
			api.Post("/login", sessionHandler.Login)
			api.Post("/rejected", sessionHandler.Rejected)
			api.Get("/runs", sessionHandler.Runs)
		})
	})

	return r
}

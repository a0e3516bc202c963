package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"duckgate/internal/middleware"
)

// RouterOptions configures the middleware stack. Nil RateLimiter or
// Validator disables that middleware.
type RouterOptions struct {
	Logger             *slog.Logger
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Validator          *middleware.HS256Validator
}

// NewRouter mounts the handler's routes. /health is always public; the API
// routes require a bearer token when a validator is configured.
func NewRouter(h *Handler, opts RouterOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.AccessLog(opts.Logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   opts.CORSAllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", middleware.RequestIDHeader, SessionHeader},
		ExposedHeaders:   []string{middleware.RequestIDHeader},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if opts.RateLimiter != nil {
		r.Use(opts.RateLimiter.Handler)
	}

	r.Get("/health", h.health)

	r.Group(func(r chi.Router) {
		if opts.Validator != nil {
			r.Use(middleware.Authenticate(opts.Validator))
		}

		r.Route("/api/v1", func(r chi.Router) {
			r.Route("/sessions", func(r chi.Router) {
				r.Post("/", h.createSession)
				r.Get("/", h.listSessions)
				r.Get("/stats", h.sessionStats)
				r.Post("/cleanup", h.cleanupSessions)
				r.Get("/{sessionID}", h.getSession)
				r.Post("/{sessionID}/touch", h.touchSession)
				r.Delete("/{sessionID}", h.terminateSession)
			})
			r.Post("/query", h.query)
			if h.history != nil {
				r.Route("/history", func(r chi.Router) {
					r.Get("/", h.listHistory)
					r.Get("/stats", h.historyStats)
					r.Get("/{handle}", h.getHistoryEntry)
				})
			}
		})

		r.Route("/api/v2/statements", func(r chi.Router) {
			r.Post("/", h.submitStatement)
			r.Get("/{handle}", h.getStatement)
			r.Post("/{handle}/cancel", h.cancelStatement)
		})
	})

	return r
}

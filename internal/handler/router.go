// Package handler provides HTTP handlers for the API.
package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/capitalize-ai/lifeline/internal/middleware"
	"github.com/capitalize-ai/lifeline/internal/service"
	"github.com/capitalize-ai/lifeline/pkg/logger"
)

// RouterConfig wires the API routes.
type RouterConfig struct {
	Service *service.ChatService
	History HistoryReader
	Checks  map[string]Pinger
	Logger  *logger.Logger

	CORSAllowedOrigins []string
	AuthEnabled        bool
	JWTSecret          string
	DefaultUserID      string
	RateLimitRequests  int
	RateLimitWindow    time.Duration
}

// NewRouter builds the HTTP router.
func NewRouter(cfg RouterConfig) http.Handler {
	healthHandler := NewHealthHandler(cfg.Checks)
	agentHandler := NewAgentHandler(cfg.Service)
	chatHandler := NewChatHandler(cfg.Service, cfg.Logger)
	sessionHandler := NewSessionHandler(cfg.Service, cfg.History, cfg.Logger)

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(cfg.Logger))
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.Recover(cfg.Logger))
	r.Use(middleware.CORS(cfg.CORSAllowedOrigins))

	// Health endpoints (no auth required)
	r.Get("/health", healthHandler.Health)
	r.Get("/ready", healthHandler.Ready)

	// Metrics endpoint
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.AuthEnabled {
			r.Use(middleware.Auth(cfg.JWTSecret))
		} else {
			r.Use(middleware.DefaultUser(cfg.DefaultUserID))
		}
		sendLimit := middleware.UserRateLimit(cfg.RateLimitRequests, cfg.RateLimitWindow)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/", agentHandler.List)

			r.Route("/{agentID}", func(r chi.Router) {
				r.Get("/", agentHandler.Get)

				r.Route("/chat", func(r chi.Router) {
					r.Post("/", chatHandler.Open)
					r.Get("/", chatHandler.Get)
					r.With(sendLimit).Post("/messages", chatHandler.Send)
					r.Delete("/messages", chatHandler.Clear)
					r.Post("/starter-prompts/{index}", chatHandler.StarterPrompt)
				})
			})
		})

		r.Route("/chat", func(r chi.Router) {
			r.Get("/", chatHandler.DefaultGet)
			r.With(sendLimit).Post("/messages", chatHandler.DefaultSend)
			r.Delete("/messages", chatHandler.DefaultClear)
		})

		r.Route("/sessions", func(r chi.Router) {
			r.Get("/", sessionHandler.List)
			r.Get("/{sessionID}/messages", sessionHandler.Messages)
			r.Get("/{sessionID}/history", sessionHandler.History)
			r.Delete("/{sessionID}", sessionHandler.Delete)
		})

		r.Get("/profile", sessionHandler.Profile)
		r.Delete("/data", sessionHandler.ClearAll)
	})

	return r
}

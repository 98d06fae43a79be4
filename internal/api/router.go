package api

import (
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/eldtechnologies/parley/internal/api/middleware"
	"github.com/eldtechnologies/parley/internal/handlers"
)

// Options configure the router.
type Options struct {
	MaxBodyBytes int64
	// Limiter is nil when rate limiting is disabled.
	Limiter *middleware.RateLimiter
}

// NewRouter creates the chat server router: chat, rooms, SSE and the
// websocket relay.
func NewRouter(logger zerolog.Logger, h *handlers.Handler, opts Options) *chi.Mux {
	r := base(logger, opts)

	r.Get("/health", h.Health)
	r.Get("/stats", h.Stats)

	r.Route("/chat", func(r chi.Router) {
		r.Get("/", h.History)
		r.Post("/send", h.SendMessage)
		r.Get("/subscribe", h.Subscribe)
	})

	r.Route("/room", func(r chi.Router) {
		r.Get("/", h.ListRooms)
		r.Post("/", h.CreateRoom)
		r.Get("/{id}", h.GetRoom)
		r.Put("/{id}/participants", h.AddParticipant)
		r.Delete("/{id}", h.DeleteRoom)
	})

	r.Get("/ws", h.Relay)

	return r
}

// NewRelayRouter creates the router of the relay-only server.
func NewRelayRouter(logger zerolog.Logger, h *handlers.Handler, opts Options) *chi.Mux {
	r := base(logger, opts)

	r.Get("/health", h.Health)
	r.Get("/ws", h.Relay)

	return r
}

func base(logger zerolog.Logger, opts Options) *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware (first to capture all requests)
	r.Use(middleware.Metrics)

	// Security middleware (order matters!)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.MaxBodySize(opts.MaxBodyBytes))
	r.Use(middleware.ValidateRequest)

	// Standard middleware
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(chimw.Recoverer)

	if opts.Limiter != nil {
		r.Use(opts.Limiter.Middleware)
	}

	// CORS - allow all origins
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Last-Event-ID"},
		ExposedHeaders:   []string{"X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset", "Retry-After"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())

	return r
}

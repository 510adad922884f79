// Package api exposes the read-only status surface: health checks, store
// snapshots, and the preference option registry.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	corslib "github.com/rs/cors"

	"github.com/congenial-acorn/goldwatch/internal/config"
	"github.com/congenial-acorn/goldwatch/internal/prefs"
	"github.com/congenial-acorn/goldwatch/internal/store"
)

// NewRouter creates and configures the chi router with all middleware and
// routes. prefService may be nil when no recipient database is configured.
func NewRouter(st *store.Store, prefService *prefs.Service, cfg *config.Config) *chi.Mux {
	r := chi.NewRouter()

	// --- Middleware stack ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(TimingMiddleware)
	r.Use(middleware.Compress(5)) // gzip

	// CORS
	c := corslib.New(corslib.Options{
		AllowedOrigins:   cfg.CORSAllowOrigins,
		AllowedMethods:   []string{"GET", "HEAD", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Accept-Encoding", "Content-Type", "Cache-Control"},
		ExposedHeaders:   []string{"X-Process-Time"},
		AllowCredentials: false,
	})
	r.Use(c.Handler)

	// Rate limiting
	if cfg.RateLimitEnabled {
		r.Use(RateLimitMiddleware(cfg.RateLimitRequests, cfg.RateLimitWindow))
	}

	h := NewHandler(st, prefService, cfg)

	// --- Routes ---
	r.Get("/", h.Root)

	r.Route("/health", func(r chi.Router) {
		r.Get("/", h.HealthCheck)
		r.Get("/store", h.HealthCheckStore)
		r.Get("/db", h.HealthCheckDB)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/systems", h.GetSystems)
		r.Get("/systems/{name}", h.GetSystem)
		r.Get("/options", h.GetOptions)
		r.Get("/stats", h.GetStats)
	})

	return r
}

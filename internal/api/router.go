package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/guestlink-core/internal/infrastructure/metrics"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/guests", func(r chi.Router) {
			r.Get("/", s.handleListGuests)
			r.Get("/events", s.handleGuestEvents)
			r.Get("/ws", s.handleGuestWebSocket)
			r.Get("/{mac}/history", s.handleGuestHistory)
		})

		// Mutating routes
		r.Group(func(r chi.Router) {
			r.Use(s.rateLimitMiddleware)
			r.Use(s.authMiddleware)

			r.Post("/score", s.handleScore)
		})
	})

	if s.gatherer != nil {
		r.Handle("/metrics", metrics.Handler(s.gatherer))
	}

	if s.panel != nil {
		r.Handle("/*", s.panel)
	}

	return r
}

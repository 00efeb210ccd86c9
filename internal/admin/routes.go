package admin

import (
	"time"

	"github.com/go-chi/chi/v5"
)

// requestTimeout bounds every admin request.
const requestTimeout = 15 * time.Second

// redactedHeaders lists header names whose values are masked in request logs.
var redactedHeaders = []string{
	"Authorization",
	"X-Admin-Key",
}

// MountRoutes registers the middleware chain and routes.
//
// Ordering:
//  1. Recoverer      - outermost so every panic becomes a 500.
//  2. ContextTimeout - soft deadline for broker calls.
//  3. RequestID      - correlation id for logs and responses.
//  4. RequestLogger  - structured access log with redacted headers.
//  5. AdminKey       - X-Admin-Key check, skipped for /health.
func (s *Server) MountRoutes() {
	s.router.Use(s.Recoverer)
	s.router.Use(ContextTimeoutMiddleware(requestTimeout))
	s.router.Use(RequestIDMiddleware)
	s.router.Use(RequestLogger(s.Logger, redactedHeaders))
	s.router.Use(s.AdminKeyMiddleware)

	s.router.Get("/health", s.HandleHealth)
	s.router.Route("/v1", func(r chi.Router) {
		r.Get("/queues", s.handleListQueues)
		r.Get("/queues/{name}", s.handleGetQueue)
		r.Delete("/queues/{name}/messages", s.handlePurgeQueue)
		r.Post("/jobs", s.handleEnqueue)
	})
}

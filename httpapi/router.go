package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
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

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/stats", s.handleStats)

		r.Post("/discovery/run", s.handleDiscover)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)

			r.Route("/{uuid}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.Get("/state", s.handleGetDeviceState)
				r.Put("/state", s.handleSetDeviceState)
				r.Get("/history", s.handleDeviceHistory)
				r.Get("/subdevices", s.handleListSubdevices)
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

// handleStats returns the client's operational counters.
func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"client":     s.manager.Stats(),
		"rate_limit": s.manager.LimiterStats(),
	})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)

	// Legacy query-string command channel.
	r.Get("/chip-request", s.handleChipRequestQuery)

	// Preferred command channel, mirroring the MQTT request topic.
	r.Post("/message/chip/request", s.handleChipRequestBody)

	r.Get("/nodes", s.handleListNodes)
	r.Get("/shadow/{thing}/{shadow}", s.handleGetShadow)
	r.Get("/api/things/shadow/ListNamedShadowsForThing/{thing}", s.handleListShadows)

	// GET rather than DELETE, kept for compatibility with existing callers.
	r.Get("/deleteshadow/{thing}/{shadow}", s.handleDeleteShadow)

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

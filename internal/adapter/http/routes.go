package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/voxguard/guardian/internal/domain/user"
	"github.com/voxguard/guardian/internal/middleware"
)

// MountRoutes registers all API routes on the given chi router. The Auth
// middleware runs ahead of these routes; RequireRole narrows the guardian
// surface to admins and agents.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/health", h.Health)
	r.Get("/health/ready", h.Ready)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Auth
		r.Post("/auth/login", h.Login)
		r.Get("/auth/me", h.Me)

		// Guardian dashboard API
		r.Route("/guardian", func(r chi.Router) {
			r.Use(middleware.RequireRole(user.RoleAdmin, user.RoleAgent))

			r.Get("/sessions", h.ListSessions)
			r.Get("/sessions/{id}", h.GetSession)
			r.Get("/sessions/{id}/events", h.ListSessionEvents)
			r.Post("/sessions/{id}/takeover", h.StartTakeover)
			r.Delete("/sessions/{id}/takeover", h.ReleaseTakeover)

			r.Get("/stats", h.GetStats)

			r.Get("/config", h.GetGuardianConfig)
			r.Get("/config/{agentId}", h.GetGuardianConfig)
			r.With(middleware.RequireRole(user.RoleAdmin)).
				Put("/config", h.UpdateGuardianConfig)
			r.With(middleware.RequireRole(user.RoleAdmin)).
				Put("/config/{agentId}", h.UpdateGuardianConfig)

			r.Get("/stream", h.Stream.HandleStream)
		})
	})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/GuLopes14/echobeacon-core/internal/metrics"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// Prometheus scrape endpoint
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Get("/system", s.handleSystem)

			r.Route("/connection", func(r chi.Router) {
				r.Get("/", s.handleGetConnection)
				r.Post("/connect", s.handleConnect)
				r.Post("/disconnect", s.handleDisconnect)
			})

			r.Post("/messages", s.handlePublish)

			r.Route("/pairing", func(r chi.Router) {
				r.Get("/", s.handleGetPairing)
				r.Put("/selection/vehicle", s.handleSelectVehicle)
				r.Put("/selection/beacon", s.handleSelectBeacon)
				r.Delete("/selection", s.handleClearSelection)
				r.Post("/confirm", s.handleConfirmPairing)
			})

			r.Route("/vehicles", func(r chi.Router) {
				r.Get("/", s.handleListVehicles)
				r.Post("/", s.handleCreateVehicle)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetVehicle)
					r.Put("/", s.handleUpdateVehicle)
					r.Delete("/", s.handleDeleteVehicle)
					r.Post("/locate", s.handleLocateVehicle)
				})
			})

			r.Route("/beacons", func(r chi.Router) {
				r.Get("/", s.handleListBeacons)
				r.Post("/", s.handleCreateBeacon)
				r.Get("/{id}", s.handleGetBeacon)
			})

			r.Get("/audit", s.handleListAuditLogs)
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"mqtt":    s.mqtt.Status(),
		"ready":   s.reconciler.Ready(),
	})
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(withRequestID, s.accessLog, s.recoverPanics, limitBody)

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/{id}", s.handleGetDevice)
			r.Get("/{id}/history", s.handleDeviceHistory)
		})

		r.Get("/controls", s.handleListControls)

		r.Route("/journal", func(r chi.Router) {
			r.Get("/passes", s.handleListPasses)
			r.Get("/passes/{id}", s.handleGetPass)
			r.Get("/creations", s.handleListCreations)
		})

		r.Post("/reload", s.handleReload)
	})

	return r
}

// handleHealth reports bus and fieldbus connectivity. It answers 503 while
// either is down.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Status()
	busUp := s.bus == nil || s.bus.IsConnected()

	status, code := "ok", http.StatusOK
	if !busUp || !snap.Connected {
		status, code = "degraded", http.StatusServiceUnavailable
	}

	writeJSON(w, code, map[string]any{
		"status":             status,
		"version":            s.version,
		"uptime_seconds":     int64(s.sinceStart().Seconds()),
		"bus_connected":      busUp,
		"fieldbus_connected": snap.Connected,
		"last_pass":          snap.LastPass,
		"bindings":           snap.Bindings,
		"control_routes":     snap.ControlRoutes,
		"gateway":            snap.Gateway,
	})
}

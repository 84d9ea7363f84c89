package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/fora-knx-bridge/internal/engine"
)

func (s *Server) sinceStart() time.Duration {
	return time.Since(s.startTime)
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	snap := s.engine.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"devices":   snap.Devices,
		"count":     len(snap.Devices),
		"last_pass": snap.LastPass,
	})
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	for _, d := range s.engine.Status().Devices {
		if d.DeviceID == id {
			writeJSON(w, http.StatusOK, d)
			return
		}
	}
	fail(w, r, ErrCodeNotFound, "device not in the current pass")
}

func (s *Server) handleDeviceHistory(w http.ResponseWriter, r *http.Request) {
	if !s.requireJournal(w, r) {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	records, err := s.journal.DeviceHistory(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		s.logger.Error("reading device history", "error", err)
		fail(w, r, ErrCodeInternal, "failed to read journal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"records": records, "count": len(records)})
}

func (s *Server) handleListControls(w http.ResponseWriter, _ *http.Request) {
	routes := s.engine.Routes()
	writeJSON(w, http.StatusOK, map[string]any{"controls": routes, "count": len(routes)})
}

func (s *Server) handleListPasses(w http.ResponseWriter, r *http.Request) {
	if !s.requireJournal(w, r) {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	passes, err := s.journal.ListPasses(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing passes", "error", err)
		fail(w, r, ErrCodeInternal, "failed to read journal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"passes": passes, "count": len(passes)})
}

func (s *Server) handleGetPass(w http.ResponseWriter, r *http.Request) {
	if !s.requireJournal(w, r) {
		return
	}
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		fail(w, r, ErrCodeBadRequest, "pass id must be a positive integer")
		return
	}
	devices, err := s.journal.PassDevices(r.Context(), id)
	if err != nil {
		s.logger.Error("reading pass devices", "pass", id, "error", err)
		fail(w, r, ErrCodeInternal, "failed to read journal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pass_id": id, "devices": devices, "count": len(devices)})
}

func (s *Server) handleListCreations(w http.ResponseWriter, r *http.Request) {
	if !s.requireJournal(w, r) {
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	creations, err := s.journal.ListCreations(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing creations", "error", err)
		fail(w, r, ErrCodeInternal, "failed to read journal")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"creations": creations, "count": len(creations)})
}

// handleReload runs a pass synchronously and returns its summary.
func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	summary, err := s.reloader.Reload(r.Context(), engine.TriggerAPI)
	switch {
	case errors.Is(err, engine.ErrCatalogFetch):
		writeError(w, r, http.StatusBadGateway, ErrCodeUpstream, err.Error())
	case errors.Is(err, engine.ErrClosed):
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "engine is shut down")
	case err != nil:
		s.logger.Error("reload via API", "error", err)
		fail(w, r, ErrCodeInternal, "reload failed")
	default:
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) requireJournal(w http.ResponseWriter, r *http.Request) bool {
	if s.journal == nil {
		writeError(w, r, http.StatusServiceUnavailable, ErrCodeUnavailable, "journal is disabled")
		return false
	}
	return true
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return 0, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		fail(w, r, ErrCodeBadRequest, "limit must be a non-negative integer")
		return 0, false
	}
	return n, true
}

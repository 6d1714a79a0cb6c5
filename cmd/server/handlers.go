package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"

	"github.com/justineMD2002/FSM-sub001/internal/cache"
	"github.com/justineMD2002/FSM-sub001/internal/services"
	"github.com/justineMD2002/FSM-sub001/internal/tracking"
)

// apiHandlers holds the HTTP surface over the navigation service.
type apiHandlers struct {
	nav   *services.NavigationService
	cache *cache.Cache
}

func newAPIHandlers(nav *services.NavigationService, c *cache.Cache) *apiHandlers {
	return &apiHandlers{nav: nav, cache: c}
}

type startTrackingRequest struct {
	TechnicianID string               `json:"technician_id"`
	Destination  tracking.Destination `json:"destination"`
	Live         bool                 `json:"live"`
}

func (h *apiHandlers) startTracking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req startTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	err := h.nav.StartTracking(r.Context(), req.TechnicianID, req.Destination, req.Live)
	switch {
	case err == nil:
	case errors.Is(err, services.ErrSessionActive):
		writeError(w, http.StatusConflict, err.Error())
		return
	case errors.Is(err, tracking.ErrDestinationUnresolved):
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	default:
		log.Printf("StartTracking failed: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to start tracking")
		return
	}

	snap, err := h.nav.Snapshot(req.TechnicianID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	writeJSON(w, http.StatusCreated, snap)
}

type stopTrackingRequest struct {
	TechnicianID string `json:"technician_id"`
}

func (h *apiHandlers) stopTracking(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}

	var req stopTrackingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := h.nav.StopTracking(req.TechnicianID); err != nil {
		if errors.Is(err, services.ErrNoSession) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to stop tracking")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (h *apiHandlers) trackingStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	technicianID := r.URL.Query().Get("technician_id")
	if technicianID == "" {
		writeError(w, http.StatusBadRequest, "technician_id is required")
		return
	}

	snap, err := h.nav.Snapshot(technicianID)
	if err != nil {
		if errors.Is(err, services.ErrNoSession) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to read session")
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *apiHandlers) planOverview(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var req struct {
			TechnicianID string                 `json:"technician_id"`
			Destinations []tracking.Destination `json:"destinations"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if len(req.Destinations) == 0 {
			writeError(w, http.StatusBadRequest, "destinations are required")
			return
		}

		overview, err := h.nav.PlanOverview(r.Context(), req.TechnicianID, req.Destinations)
		if err != nil {
			log.Printf("PlanOverview failed: %v", err)
			writeError(w, http.StatusInternalServerError, "failed to plan overview")
			return
		}
		writeJSON(w, http.StatusOK, overview)

	case http.MethodGet:
		technicianID := r.URL.Query().Get("technician_id")
		if technicianID == "" {
			writeError(w, http.StatusBadRequest, "technician_id is required")
			return
		}
		overview := h.nav.OverviewSnapshot(technicianID)
		if overview == nil {
			writeError(w, http.StatusNotFound, "no overview planned")
			return
		}
		writeJSON(w, http.StatusOK, overview)

	default:
		writeError(w, http.StatusMethodNotAllowed, "GET or POST required")
	}
}

func (h *apiHandlers) focusDestination(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "GET required")
		return
	}

	technicianID := r.URL.Query().Get("technician_id")
	destinationID := r.URL.Query().Get("destination_id")
	if technicianID == "" || destinationID == "" {
		writeError(w, http.StatusBadRequest, "technician_id and destination_id are required")
		return
	}

	point, ok := h.nav.Focus(technicianID, destinationID)
	if !ok {
		writeError(w, http.StatusNotFound, "destination not in overview")
		return
	}
	writeJSON(w, http.StatusOK, point)
}

func (h *apiHandlers) health(w http.ResponseWriter, r *http.Request) {
	stats := h.cache.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":          "ok",
		"active_sessions": h.nav.ActiveSessions(),
		"cache":           stats,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// homepageHandler serves a simple HTML homepage at the server root
func homepageHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")

	html := `<!DOCTYPE html>
<html>
<head>
    <meta charset="utf-8">
    <title>Navigation API</title>
    <style>
        body {
            font-family: 'Courier New', Consolas, monospace;
            background: #000;
            color: #0f0;
            padding: 20px;
            line-height: 1.4;
        }
        a { color: #0ff; text-decoration: none; }
        a:hover { text-decoration: underline; }
        pre { margin: 0; }
        .header { color: #ff0; }
    </style>
</head>
<body>
<pre>
<span class="header">Navigation API</span>

Live navigation and arrival tracking for field-service technicians.

<span class="header">API Endpoints:</span>

Tracking:
  POST /api/v1/tracking/start    - Start a live tracking session
  POST /api/v1/tracking/stop     - Stop a session
  GET  /api/v1/tracking/status   - Session snapshot (?technician_id=)

Overview:
  POST /api/v1/overview          - Plan routes to a day's destinations
  GET  /api/v1/overview          - Latest planned overview (?technician_id=)
  GET  /api/v1/overview/focus    - Destination coordinate (?technician_id=&destination_id=)

Health:
  GET  /api/v1/health            - Server and cache status
</pre>
</body>
</html>`

	if _, err := fmt.Fprint(w, html); err != nil {
		slog.Error("Failed to write homepage HTML", "error", err)
	}
}

package reconcile

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/unifi"
	"github.com/HerbHall/netreach/pkg/plugin"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/status", Handler: m.handleStatus},
		{Method: "POST", Path: "/trigger", Handler: m.handleTrigger},
		{Method: "POST", Path: "/test-connection", Handler: m.handleTestConnection},
		{Method: "GET", Path: "/runs", Handler: m.handleRuns},
		{Method: "GET", Path: "/runs/{id}/changes", Handler: m.handleRunChanges},
		{Method: "GET", Path: "/discovery", Handler: m.handleDiscovery},
		{Method: "POST", Path: "/discovery/ignore", Handler: m.handleIgnore},
		{Method: "GET", Path: "/wan", Handler: m.handleWAN},
	}
}

func (m *Module) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.loop.Status())
}

func (m *Module) handleTrigger(w http.ResponseWriter, _ *http.Request) {
	m.loop.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
}

type testConnectionResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

func (m *Module) handleTestConnection(w http.ResponseWriter, r *http.Request) {
	ok, msg := m.TestConnection(r.Context())
	writeJSON(w, http.StatusOK, testConnectionResponse{OK: ok, Message: msg})
}

func (m *Module) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	runs, err := m.repo.RecentRuns(r.Context(), limit)
	if err != nil {
		m.logger.Error("list runs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	writeJSON(w, http.StatusOK, runs)
}

func (m *Module) handleRunChanges(w http.ResponseWriter, r *http.Request) {
	logs, err := m.repo.ChangeLogs(r.Context(), r.PathValue("id"))
	if err != nil {
		m.logger.Error("list change logs", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list changes")
		return
	}
	writeJSON(w, http.StatusOK, logs)
}

func (m *Module) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	alerts, err := m.repo.DiscoveryAlerts(r.Context(), all)
	if err != nil {
		m.logger.Error("list discovery alerts", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list discovery alerts")
		return
	}
	writeJSON(w, http.StatusOK, alerts)
}

type ignoreRequest struct {
	MAC string `json:"mac"`
}

func (m *Module) handleIgnore(w http.ResponseWriter, r *http.Request) {
	var req ignoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	mac := unifi.NormalizeMAC(req.MAC)
	if mac == "" {
		writeError(w, http.StatusBadRequest, "mac is required")
		return
	}
	if err := m.repo.IgnoreMAC(r.Context(), mac); err != nil {
		m.logger.Error("ignore mac", zap.String("mac", mac), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to ignore mac")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (m *Module) handleWAN(w http.ResponseWriter, r *http.Request) {
	status, err := m.repo.WANStatus(r.Context())
	if err != nil {
		m.logger.Error("list wan status", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list WAN status")
		return
	}
	writeJSON(w, http.StatusOK, status)
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://netreach.dev/problems/" + http.StatusText(status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}

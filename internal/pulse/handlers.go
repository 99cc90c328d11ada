package pulse

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/pkg/models"
	"github.com/HerbHall/netreach/pkg/plugin"
)

// checkRequest is the JSON body for POST /check.
type checkRequest struct {
	Address  string             `json:"address"`
	Mode     models.MonitorMode `json:"mode"`
	Port     *int               `json:"port,omitempty"`
	UseHTTPS bool               `json:"use_https"`
	Path     string             `json:"path,omitempty"`
}

type checkResponse struct {
	Address   string             `json:"address"`
	Mode      models.MonitorMode `json:"mode"`
	Reachable bool               `json:"reachable"`
	CheckedAt time.Time          `json:"checked_at"`
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "POST", Path: "/check", Handler: m.handleCheck},
	}
}

// handleCheck runs an ad hoc probe using the same rules as reconciliation.
func (m *Module) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pulseWriteError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Address == "" {
		pulseWriteError(w, http.StatusBadRequest, "address is required")
		return
	}
	if req.Mode == "" {
		req.Mode = models.MonitorPingOnly
	}
	if !req.Mode.Valid() {
		pulseWriteError(w, http.StatusBadRequest, "unknown monitor mode")
		return
	}
	if req.Mode.RequiresPort() && req.Port == nil {
		pulseWriteError(w, http.StatusBadRequest, "port is required for this mode")
		return
	}

	ok := m.prober.Evaluate(r.Context(), Target{
		Address:  req.Address,
		Mode:     req.Mode,
		Port:     req.Port,
		UseHTTPS: req.UseHTTPS,
		Path:     req.Path,
	})
	m.logger.Debug("ad hoc probe",
		zap.String("address", req.Address),
		zap.String("mode", string(req.Mode)),
		zap.Bool("reachable", ok),
	)
	pulseWriteJSON(w, http.StatusOK, checkResponse{
		Address:   req.Address,
		Mode:      req.Mode,
		Reachable: ok,
		CheckedAt: time.Now().UTC(),
	})
}

func pulseWriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func pulseWriteError(w http.ResponseWriter, status int, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"type":   "https://netreach.dev/problems/" + http.StatusText(status),
		"title":  http.StatusText(status),
		"status": status,
		"detail": detail,
	})
}

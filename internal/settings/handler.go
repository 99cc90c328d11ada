// Package settings provides HTTP handlers for application settings endpoints.
package settings

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/server"
	"github.com/HerbHall/netreach/internal/services"
)

// SecretState reports which write-only secrets are stored. Secret values
// are never returned.
type SecretState struct {
	ControllerPassword  bool            `json:"controller_password"`
	ControllerAPIKey    bool            `json:"controller_api_key"`
	ProxmoxTokenSecrets map[string]bool `json:"proxmox_token_secrets"`
}

// Response is the body of GET and PUT /api/v1/settings.
type Response struct {
	Settings services.AppSettings `json:"settings"`
	Secrets  SecretState          `json:"secrets"`
}

// Handler provides HTTP handlers for settings endpoints.
type Handler struct {
	settings *services.SettingsService
	logger   *zap.Logger
}

// NewHandler creates a settings Handler.
func NewHandler(settings *services.SettingsService, logger *zap.Logger) *Handler {
	return &Handler{settings: settings, logger: logger}
}

// RegisterRoutes registers settings routes on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/v1/settings", h.handleGet)
	mux.HandleFunc("PUT /api/v1/settings", h.handlePut)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Load(r.Context())
	if err != nil {
		h.logger.Error("failed to load settings", zap.Error(err))
		server.Error(w, http.StatusInternalServerError, "failed to load settings")
		return
	}
	writeJSON(w, http.StatusOK, newResponse(s))
}

// handlePut replaces the settings document. Blank secrets keep the stored
// values, so a client can send back what GET returned.
func (h *Handler) handlePut(w http.ResponseWriter, r *http.Request) {
	var req services.AppSettings
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		server.Error(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := validate(req); err != nil {
		server.Error(w, http.StatusBadRequest, err.Error())
		return
	}

	saved, err := h.settings.Save(r.Context(), req)
	if err != nil {
		h.logger.Error("failed to save settings", zap.Error(err))
		server.Error(w, http.StatusInternalServerError, "failed to save settings")
		return
	}
	writeJSON(w, http.StatusOK, newResponse(saved))
}

func newResponse(s services.AppSettings) Response {
	state := SecretState{
		ControllerPassword:  s.Controller.Password != "",
		ControllerAPIKey:    s.Controller.APIKey != "",
		ProxmoxTokenSecrets: make(map[string]bool, len(s.HostMapping.Profiles)),
	}
	for _, p := range s.HostMapping.Profiles {
		state.ProxmoxTokenSecrets[p.Name] = p.APITokenSecret != ""
	}
	redacted := s.Redacted()
	if redacted.HostMapping.Profiles == nil {
		redacted.HostMapping.Profiles = []services.ProxmoxProfile{}
	}
	return Response{Settings: redacted, Secrets: state}
}

func validate(s services.AppSettings) error {
	if s.Controller.BaseURL != "" {
		if err := checkURL(s.Controller.BaseURL); err != nil {
			return fmt.Errorf("controller.base_url: %w", err)
		}
	}
	if s.Sync.IntervalSeconds < 0 {
		return fmt.Errorf("sync.interval_seconds must not be negative")
	}

	seen := make(map[string]bool, len(s.HostMapping.Profiles))
	for i, p := range s.HostMapping.Profiles {
		name := strings.ToLower(strings.TrimSpace(p.Name))
		if name == "" {
			return fmt.Errorf("host_mapping.profiles[%d].name is required", i)
		}
		if seen[name] {
			return fmt.Errorf("duplicate proxmox profile %q", p.Name)
		}
		seen[name] = true
		if p.BaseURL != "" {
			if err := checkURL(p.BaseURL); err != nil {
				return fmt.Errorf("host_mapping.profiles[%d].base_url: %w", i, err)
			}
		}
		if p.IntervalSeconds < 0 {
			return fmt.Errorf("host_mapping.profiles[%d].interval_seconds must not be negative", i)
		}
	}
	return nil
}

func checkURL(raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("host is required")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/pkg/plugin"
)

// TopicSettingsChanged is published after AppSettings are saved. The payload
// is the redacted snapshot; subscribers call Load for secrets.
const TopicSettingsChanged = "settings.changed"

const appSettingsKey = "app_settings"

// Controller authentication modes.
const (
	AuthModeSession = "session"
	AuthModeAPIKey  = "apikey"
)

// ControllerSettings locates and authenticates the network controller.
type ControllerSettings struct {
	BaseURL  string `json:"base_url" mapstructure:"base_url"`
	Site     string `json:"site" mapstructure:"site"`
	AuthMode string `json:"auth_mode" mapstructure:"auth_mode"`
	Username string `json:"username" mapstructure:"username"`
	Password string `json:"password,omitempty" mapstructure:"password"`
	APIKey   string `json:"api_key,omitempty" mapstructure:"api_key"`
}

// SyncSettings drives the reconciliation loop.
type SyncSettings struct {
	Enabled                bool `json:"enabled" mapstructure:"enabled"`
	IntervalSeconds        int  `json:"interval_seconds" mapstructure:"interval_seconds"`
	SyncOnlineStatus       bool `json:"sync_online_status" mapstructure:"sync_online_status"`
	UpdateConnectionFields bool `json:"update_connection_fields" mapstructure:"update_connection_fields"`
	SyncIP                 bool `json:"sync_ip" mapstructure:"sync_ip"`
	SyncName               bool `json:"sync_name" mapstructure:"sync_name"`
	SyncHostname           bool `json:"sync_hostname" mapstructure:"sync_hostname"`
	SyncManufacturer       bool `json:"sync_manufacturer" mapstructure:"sync_manufacturer"`
	SyncModel              bool `json:"sync_model" mapstructure:"sync_model"`
}

// ProxmoxProfile is one virtualization cluster the host mapper reads.
type ProxmoxProfile struct {
	Name            string `json:"name" mapstructure:"name"`
	Enabled         bool   `json:"enabled" mapstructure:"enabled"`
	BaseURL         string `json:"base_url" mapstructure:"base_url"`
	APITokenID      string `json:"api_token_id" mapstructure:"api_token_id"`
	APITokenSecret  string `json:"api_token_secret,omitempty" mapstructure:"api_token_secret"`
	IntervalSeconds int    `json:"interval_seconds" mapstructure:"interval_seconds"`
	// UpdateExistingHostAssignments allows moving a guest that already has
	// a different host.
	UpdateExistingHostAssignments bool `json:"update_existing_host_assignments" mapstructure:"update_existing_host_assignments"`
	// UpdateGuestCategory sets mapped guests' category to "Proxmox VM" or
	// "Proxmox Container".
	UpdateGuestCategory bool `json:"update_guest_category" mapstructure:"update_guest_category"`
}

// Complete reports whether the profile has everything needed to connect.
func (p ProxmoxProfile) Complete() bool {
	return strings.TrimSpace(p.BaseURL) != "" &&
		strings.TrimSpace(p.APITokenID) != "" &&
		strings.TrimSpace(p.APITokenSecret) != ""
}

// HostMappingSettings drives the Proxmox host mapping loop.
type HostMappingSettings struct {
	Enabled  bool             `json:"enabled" mapstructure:"enabled"`
	Profiles []ProxmoxProfile `json:"profiles" mapstructure:"profiles"`
}

// AppSettings is the runtime-mutable configuration, stored as one document.
type AppSettings struct {
	Controller  ControllerSettings  `json:"controller" mapstructure:"controller"`
	Sync        SyncSettings        `json:"sync" mapstructure:"sync"`
	HostMapping HostMappingSettings `json:"host_mapping" mapstructure:"host_mapping"`
}

// DefaultAppSettings returns the settings used before anything is saved.
func DefaultAppSettings() AppSettings {
	return AppSettings{
		Controller: ControllerSettings{
			Site:     "default",
			AuthMode: AuthModeSession,
		},
		Sync: SyncSettings{
			IntervalSeconds:        60,
			SyncOnlineStatus:       true,
			UpdateConnectionFields: true,
			SyncIP:                 true,
		},
	}
}

func (s *AppSettings) normalize() {
	c := &s.Controller
	c.BaseURL = strings.TrimSpace(c.BaseURL)
	c.Site = strings.TrimSpace(c.Site)
	if c.Site == "" {
		c.Site = "default"
	}
	c.Username = strings.TrimSpace(c.Username)
	c.APIKey = strings.TrimSpace(c.APIKey)
	switch strings.ToLower(strings.TrimSpace(c.AuthMode)) {
	case AuthModeAPIKey, "api_key":
		c.AuthMode = AuthModeAPIKey
	default:
		c.AuthMode = AuthModeSession
	}
	if s.Sync.IntervalSeconds <= 0 {
		s.Sync.IntervalSeconds = 60
	}
	for i := range s.HostMapping.Profiles {
		p := &s.HostMapping.Profiles[i]
		p.Name = strings.TrimSpace(p.Name)
		p.BaseURL = strings.TrimSpace(p.BaseURL)
		p.APITokenID = strings.TrimSpace(p.APITokenID)
		p.APITokenSecret = strings.TrimSpace(p.APITokenSecret)
		if p.IntervalSeconds <= 0 {
			p.IntervalSeconds = 300
		}
	}
}

func (s AppSettings) clone() AppSettings {
	s.HostMapping.Profiles = append([]ProxmoxProfile(nil), s.HostMapping.Profiles...)
	return s
}

// Redacted returns a copy with every secret cleared.
func (s AppSettings) Redacted() AppSettings {
	out := s.clone()
	out.Controller.Password = ""
	out.Controller.APIKey = ""
	for i := range out.HostMapping.Profiles {
		out.HostMapping.Profiles[i].APITokenSecret = ""
	}
	return out
}

// SecretProtector seals secrets before they are stored. *vault.Protector
// implements it.
type SecretProtector interface {
	Protect(plaintext string) (string, error)
	Unprotect(value string) (string, error)
}

// SettingsService loads and saves AppSettings.
type SettingsService struct {
	repo      SettingsRepository
	protector SecretProtector
	bus       plugin.EventBus
	logger    *zap.Logger
	defaults  AppSettings

	mu sync.Mutex
}

// SettingsOption configures a SettingsService.
type SettingsOption func(*SettingsService)

// WithProtector seals secrets at rest. Without one they are stored as-is.
func WithProtector(p SecretProtector) SettingsOption {
	return func(s *SettingsService) { s.protector = p }
}

// WithSettingsBus publishes TopicSettingsChanged after each save.
func WithSettingsBus(bus plugin.EventBus) SettingsOption {
	return func(s *SettingsService) { s.bus = bus }
}

// WithSettingsLogger sets the logger.
func WithSettingsLogger(logger *zap.Logger) SettingsOption {
	return func(s *SettingsService) { s.logger = logger }
}

// WithDefaults replaces DefaultAppSettings as the unsaved baseline.
func WithDefaults(d AppSettings) SettingsOption {
	return func(s *SettingsService) { s.defaults = d.clone() }
}

// NewSettingsService creates a SettingsService.
func NewSettingsService(repo SettingsRepository, opts ...SettingsOption) *SettingsService {
	s := &SettingsService{
		repo:     repo,
		logger:   zap.NewNop(),
		defaults: DefaultAppSettings(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Load returns the stored settings, or the defaults when nothing is saved.
// A secret that cannot be unsealed loads as empty.
func (s *SettingsService) Load(ctx context.Context) (AppSettings, error) {
	settings := s.defaults.clone()
	row, err := s.repo.Get(ctx, appSettingsKey)
	switch {
	case errors.Is(err, ErrNotFound):
		settings.normalize()
		return settings, nil
	case err != nil:
		return AppSettings{}, err
	}
	if err := json.Unmarshal([]byte(row.Value), &settings); err != nil {
		return AppSettings{}, fmt.Errorf("decode app settings: %w", err)
	}
	s.unseal(&settings)
	settings.normalize()
	return settings, nil
}

// Save stores next. A blank secret keeps the stored value, so clients can
// round-trip a redacted document.
func (s *SettingsService) Save(ctx context.Context, next AppSettings) (AppSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.Load(ctx)
	if err != nil {
		return AppSettings{}, err
	}
	next = next.clone()
	keepSecrets(&next, current)
	next.normalize()

	stored := next.clone()
	if err := s.seal(&stored); err != nil {
		return AppSettings{}, err
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return AppSettings{}, fmt.Errorf("encode app settings: %w", err)
	}
	if err := s.repo.Set(ctx, appSettingsKey, string(data)); err != nil {
		return AppSettings{}, err
	}

	s.logger.Info("settings saved",
		zap.Bool("sync_enabled", next.Sync.Enabled),
		zap.Int("sync_interval_seconds", next.Sync.IntervalSeconds),
		zap.Bool("host_mapping_enabled", next.HostMapping.Enabled),
		zap.Int("proxmox_profiles", len(next.HostMapping.Profiles)),
	)
	if s.bus != nil {
		s.bus.PublishAsync(ctx, plugin.Event{
			Topic:     TopicSettingsChanged,
			Source:    "settings",
			Timestamp: time.Now().UTC(),
			Payload:   next.Redacted(),
		})
	}
	return next, nil
}

func keepSecrets(next *AppSettings, current AppSettings) {
	if strings.TrimSpace(next.Controller.Password) == "" {
		next.Controller.Password = current.Controller.Password
	}
	if strings.TrimSpace(next.Controller.APIKey) == "" {
		next.Controller.APIKey = current.Controller.APIKey
	}
	for i := range next.HostMapping.Profiles {
		p := &next.HostMapping.Profiles[i]
		if strings.TrimSpace(p.APITokenSecret) != "" {
			continue
		}
		for _, old := range current.HostMapping.Profiles {
			if strings.EqualFold(strings.TrimSpace(old.Name), strings.TrimSpace(p.Name)) {
				p.APITokenSecret = old.APITokenSecret
				break
			}
		}
	}
}

func (s *SettingsService) seal(settings *AppSettings) error {
	if s.protector == nil {
		return nil
	}
	for _, secret := range secretFields(settings) {
		sealed, err := s.protector.Protect(*secret)
		if err != nil {
			return fmt.Errorf("protect secret: %w", err)
		}
		*secret = sealed
	}
	return nil
}

func (s *SettingsService) unseal(settings *AppSettings) {
	if s.protector == nil {
		return
	}
	for _, secret := range secretFields(settings) {
		plain, err := s.protector.Unprotect(*secret)
		if err != nil {
			s.logger.Warn("stored secret could not be decrypted", zap.Error(err))
			plain = ""
		}
		*secret = plain
	}
}

func secretFields(settings *AppSettings) []*string {
	out := []*string{&settings.Controller.Password, &settings.Controller.APIKey}
	for i := range settings.HostMapping.Profiles {
		out = append(out, &settings.HostMapping.Profiles[i].APITokenSecret)
	}
	return out
}

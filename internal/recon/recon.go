package recon

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/HerbHall/netreach/internal/scheduler"
	"github.com/HerbHall/netreach/internal/services"
	"github.com/HerbHall/netreach/pkg/plugin"
)

// TopicHostMapCompleted is published after each host mapping pass with a
// HostMapResult payload.
const TopicHostMapCompleted = "recon.hostmap.completed"

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

type moduleConfig struct {
	StartupDelay time.Duration `mapstructure:"startup_delay"`
}

// Module serves the inventory topology and runs Proxmox host mapping.
type Module struct {
	logger     *zap.Logger
	bus        plugin.EventBus
	settings   *services.SettingsService
	mapperOpts []HostMapperOption
	cfg        moduleConfig

	assets *services.SQLiteAssetRepository
	mapper *HostMapper
	loop   *scheduler.Loop

	mu   sync.RWMutex
	last *HostMapResult

	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// ModuleOption configures a Module.
type ModuleOption func(*Module)

// WithHostMapperOptions passes options through to the host mapper.
func WithHostMapperOptions(opts ...HostMapperOption) ModuleOption {
	return func(m *Module) { m.mapperOpts = append(m.mapperOpts, opts...) }
}

// New creates the recon module.
func New(settings *services.SettingsService, opts ...ModuleOption) *Module {
	m := &Module{
		logger:   zap.NewNop(),
		settings: settings,
		cfg:      moduleConfig{StartupDelay: 45 * time.Second},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Name() string    { return "recon" }
func (m *Module) Version() string { return "0.1.0" }

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		m.logger = deps.Logger
	}
	m.bus = deps.Bus
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal recon config: %w", err)
		}
	}

	assets, err := services.NewSQLiteAssetRepository(ctx, deps.Store)
	if err != nil {
		return fmt.Errorf("recon store: %w", err)
	}
	m.assets = assets
	m.mapper = NewHostMapper(assets, m.logger.Named("hostmap"), m.mapperOpts...)
	m.loop = scheduler.NewLoop(scheduler.LoopConfig{
		Name:         "hostmap",
		StartupDelay: m.cfg.StartupDelay,
		Warmup:       m.cfg.StartupDelay,
		MinInterval:  minMapInterval,
		MaxInterval:  maxMapInterval,
	}, nil, m.runHostMapping, m.logger)

	m.logger.Info("recon module initialized", zap.Duration("startup_delay", m.cfg.StartupDelay))
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	s, err := m.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	m.loop.Apply(hostMapLoopSettings(s.HostMapping))
	if m.bus != nil {
		m.unsubscribe = m.bus.Subscribe(services.TopicSettingsChanged, m.handleSettingsChanged)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go func() {
		defer close(m.done)
		m.loop.Run(runCtx)
	}()

	m.logger.Info("recon module started")
	return nil
}

func (m *Module) Stop(ctx context.Context) error {
	if m.unsubscribe != nil {
		m.unsubscribe()
	}
	if m.cancel != nil {
		m.cancel()
		select {
		case <-m.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.logger.Info("recon module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.loop == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "not initialized"}
	}
	st := m.loop.Status()
	if st.LastError != "" {
		return plugin.HealthStatus{Status: "degraded", Message: st.LastError}
	}
	return plugin.HealthStatus{Status: "healthy"}
}

// Topology resolves the current inventory.
func (m *Module) Topology(ctx context.Context) (*Topology, error) {
	assets, err := m.assets.All(ctx)
	if err != nil {
		return nil, err
	}
	return ResolveTopology(assets), nil
}

// RunHostMapping executes one mapping pass synchronously.
func (m *Module) RunHostMapping(ctx context.Context) error {
	return m.loop.RunNow(ctx)
}

func (m *Module) runHostMapping(ctx context.Context) (int, error) {
	s, err := m.settings.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load settings: %w", err)
	}
	res, err := m.mapper.RunOnce(ctx, s.HostMapping)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	m.last = &res
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.PublishAsync(ctx, plugin.Event{
			Topic:     TopicHostMapCompleted,
			Source:    "recon",
			Timestamp: time.Now().UTC(),
			Payload:   res,
		})
	}
	return res.Changed, nil
}

func (m *Module) handleSettingsChanged(ctx context.Context, ev plugin.Event) {
	s, ok := ev.Payload.(services.AppSettings)
	if !ok {
		loaded, err := m.settings.Load(ctx)
		if err != nil {
			m.logger.Warn("reload settings", zap.Error(err))
			return
		}
		s = loaded
	}
	m.loop.Apply(hostMapLoopSettings(s.HostMapping))
}

func hostMapLoopSettings(s services.HostMappingSettings) scheduler.Settings {
	return scheduler.Settings{Enabled: s.Enabled, Interval: NextMapInterval(s)}
}

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/topology", Handler: m.handleTopology},
		{Method: "GET", Path: "/topology/links", Handler: m.handleLinks},
		{Method: "GET", Path: "/vendors/{mac}", Handler: m.handleVendor},
		{Method: "GET", Path: "/hostmap/status", Handler: m.handleHostMapStatus},
		{Method: "POST", Path: "/hostmap/trigger", Handler: m.handleHostMapTrigger},
	}
}

func (m *Module) handleTopology(w http.ResponseWriter, r *http.Request) {
	topo, err := m.Topology(r.Context())
	if err != nil {
		m.logger.Error("resolve topology", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve topology")
		return
	}

	switch strings.ToLower(r.URL.Query().Get("format")) {
	case "", "json":
		writeJSON(w, http.StatusOK, topo.Tree())
	case "yaml":
		data, err := yaml.Marshal(topo.Tree())
		if err != nil {
			m.logger.Error("encode topology", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to encode topology")
			return
		}
		w.Header().Set("Content-Type", "application/yaml")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	default:
		writeError(w, http.StatusBadRequest, "format must be json or yaml")
	}
}

func (m *Module) handleLinks(w http.ResponseWriter, r *http.Request) {
	topo, err := m.Topology(r.Context())
	if err != nil {
		m.logger.Error("resolve topology", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to resolve topology")
		return
	}
	writeJSON(w, http.StatusOK, topo.Links())
}

func (m *Module) handleVendor(w http.ResponseWriter, r *http.Request) {
	mac := r.PathValue("mac")
	if ouiPrefix(mac) == "" {
		writeError(w, http.StatusBadRequest, "invalid MAC address")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"mac": mac, "vendor": Vendor(mac)})
}

type hostMapStatus struct {
	scheduler.Status
	Last *HostMapResult `json:"last_result,omitempty"`
}

func (m *Module) handleHostMapStatus(w http.ResponseWriter, _ *http.Request) {
	m.mu.RLock()
	last := m.last
	m.mu.RUnlock()
	writeJSON(w, http.StatusOK, hostMapStatus{Status: m.loop.Status(), Last: last})
}

func (m *Module) handleHostMapTrigger(w http.ResponseWriter, _ *http.Request) {
	m.loop.Trigger()
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "triggered"})
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

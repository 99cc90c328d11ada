package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/scheduler"
	"github.com/HerbHall/netreach/internal/services"
	"github.com/HerbHall/netreach/internal/unifi"
	"github.com/HerbHall/netreach/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
)

// Timing of the controller loop.
const (
	controllerGap = 15 * time.Second
	startupDelay  = 60 * time.Second
	warmup        = 30 * time.Second
	minInterval   = 10 * time.Second
	maxInterval   = 3600 * time.Second
)

// moduleConfig is the static part of the module configuration.
type moduleConfig struct {
	StartupDelay time.Duration `mapstructure:"startup_delay"`
	MinGap       time.Duration `mapstructure:"min_gap"`
}

// Module runs controller reconciliation on a schedule.
type Module struct {
	logger       *zap.Logger
	bus          plugin.EventBus
	settings     *services.SettingsService
	prober       Prober
	registerer   prometheus.Registerer
	manufacturer func(mac string) string
	source       Source
	cfg          moduleConfig

	repo   *SQLiteRepository
	client *unifi.Client
	gate   *scheduler.Gate
	loop   *scheduler.Loop
	engine *Engine

	unsubscribe func()
	cancel      context.CancelFunc
	done        chan struct{}
}

// ModuleOption configures a Module.
type ModuleOption func(*Module)

// WithRegisterer registers pass metrics with reg.
func WithRegisterer(reg prometheus.Registerer) ModuleOption {
	return func(m *Module) { m.registerer = reg }
}

// WithVendorLookup fills discovery alerts that lack a manufacturer.
func WithVendorLookup(fn func(mac string) string) ModuleOption {
	return func(m *Module) { m.manufacturer = fn }
}

// WithSource replaces the controller client as the payload source.
func WithSource(src Source) ModuleOption {
	return func(m *Module) { m.source = src }
}

// New creates the reconcile module. settings supplies the controller
// credentials and sync flags on every pass.
func New(settings *services.SettingsService, prober Prober, opts ...ModuleOption) *Module {
	m := &Module{
		logger:   zap.NewNop(),
		settings: settings,
		prober:   prober,
		cfg: moduleConfig{
			StartupDelay: startupDelay,
			MinGap:       controllerGap,
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Module) Name() string    { return "reconcile" }
func (m *Module) Version() string { return "0.1.0" }

func (m *Module) Init(ctx context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		m.logger = deps.Logger
	}
	m.bus = deps.Bus
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal reconcile config: %w", err)
		}
	}

	repo, err := NewSQLiteRepository(ctx, deps.Store)
	if err != nil {
		return fmt.Errorf("reconcile store: %w", err)
	}
	m.repo = repo

	m.client = unifi.NewClient(m.controllerConfig, m.logger.Named("unifi"))
	source := m.source
	if source == nil {
		source = m.client
	}

	var metrics *Metrics
	if m.registerer != nil {
		metrics = NewMetrics(m.registerer)
	}

	m.gate = scheduler.NewGate(m.cfg.MinGap, m.logger)
	m.engine = NewEngine(source, repo, m.prober, m.logger,
		WithBus(m.bus),
		WithMetrics(metrics),
		WithManufacturerLookup(m.manufacturer),
	)
	m.loop = scheduler.NewLoop(scheduler.LoopConfig{
		Name:         "reconcile",
		StartupDelay: m.cfg.StartupDelay,
		Warmup:       warmup,
		MinInterval:  minInterval,
		MaxInterval:  maxInterval,
	}, m.gate, m.runPass, m.logger)
	m.loop.OnStatusChange(m.publishStatus)

	m.logger.Info("reconcile module initialized",
		zap.Duration("startup_delay", m.cfg.StartupDelay),
		zap.Duration("min_gap", m.cfg.MinGap),
	)
	return nil
}

func (m *Module) Start(ctx context.Context) error {
	s, err := m.settings.Load(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	m.loop.Apply(loopSettings(s.Sync))
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

	m.logger.Info("reconcile module started")
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
	m.logger.Info("reconcile module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	if m.loop == nil {
		return plugin.HealthStatus{Status: "unhealthy", Message: "not initialized"}
	}
	st := m.loop.Status()
	h := plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"enabled":            fmt.Sprint(st.Enabled),
			"interval_seconds":   fmt.Sprint(st.IntervalSeconds),
			"last_changed_count": fmt.Sprint(st.LastChangedCount),
		},
	}
	if st.LastError != "" {
		h.Status = "degraded"
		h.Message = st.LastError
	}
	return h
}

// Status returns the outcome of the most recent pass.
func (m *Module) Status() scheduler.Status {
	return m.loop.Status()
}

// Trigger requests a pass as soon as the gate allows.
func (m *Module) Trigger() {
	m.loop.Trigger()
}

// RunNow executes one pass synchronously.
func (m *Module) RunNow(ctx context.Context) error {
	return m.loop.RunNow(ctx)
}

// TestConnection checks the controller credentials through the same gate as
// the background loop.
func (m *Module) TestConnection(ctx context.Context) (ok bool, message string) {
	err := m.gate.Do(ctx, func(ctx context.Context) error {
		ok, message = m.client.TestConnection(ctx)
		return nil
	})
	if err != nil {
		return false, err.Error()
	}
	return ok, message
}

func (m *Module) runPass(ctx context.Context) (int, error) {
	s, err := m.settings.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load settings: %w", err)
	}
	res, err := m.engine.RunPass(ctx, syncOptions(s.Sync))
	if err != nil {
		return 0, err
	}
	return res.Changed, nil
}

func (m *Module) controllerConfig(ctx context.Context) (unifi.Config, error) {
	s, err := m.settings.Load(ctx)
	if err != nil {
		return unifi.Config{}, err
	}
	return ControllerConfig(s.Controller), nil
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
	m.loop.Apply(loopSettings(s.Sync))
}

func (m *Module) publishStatus(st scheduler.Status) {
	if m.bus == nil {
		return
	}
	m.bus.PublishAsync(context.Background(), plugin.Event{
		Topic:     TopicStatus,
		Source:    "reconcile",
		Timestamp: time.Now().UTC(),
		Payload:   st,
	})
}

// ControllerConfig maps stored controller settings to a client config.
func ControllerConfig(c services.ControllerSettings) unifi.Config {
	return unifi.Config{
		BaseURL:  c.BaseURL,
		Site:     c.Site,
		AuthMode: unifi.ParseAuthMode(c.AuthMode),
		Username: c.Username,
		Password: c.Password,
		APIKey:   c.APIKey,
	}
}

func loopSettings(s services.SyncSettings) scheduler.Settings {
	return scheduler.Settings{
		Enabled:  s.Enabled,
		Interval: time.Duration(s.IntervalSeconds) * time.Second,
	}
}

func syncOptions(s services.SyncSettings) SyncOptions {
	return SyncOptions{
		SyncOnlineStatus:       s.SyncOnlineStatus,
		SyncIP:                 s.SyncIP,
		SyncName:               s.SyncName,
		SyncHostname:           s.SyncHostname,
		SyncManufacturer:       s.SyncManufacturer,
		SyncModel:              s.SyncModel,
		UpdateConnectionFields: s.UpdateConnectionFields,
	}
}

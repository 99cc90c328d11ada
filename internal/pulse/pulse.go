// Package pulse implements the reachability probe module: ICMP, TCP-connect
// and HTTP checks reduced to up/down verdicts.
package pulse

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/pkg/plugin"
)

// Compile-time interface guards.
var (
	_ plugin.Plugin        = (*Module)(nil)
	_ plugin.HTTPProvider  = (*Module)(nil)
	_ plugin.HealthChecker = (*Module)(nil)
	_ plugin.Validator     = (*Module)(nil)
)

// Module implements the Pulse probe module.
type Module struct {
	logger *zap.Logger
	cfg    ProberConfig
	prober *Prober
}

// New creates a new Pulse module with default probe settings. The prober is
// usable before Init so that other modules can hold a reference to it.
func New() *Module {
	cfg := DefaultProberConfig()
	return &Module{
		logger: zap.NewNop(),
		cfg:    cfg,
		prober: NewProber(cfg, nil),
	}
}

func (m *Module) Name() string    { return "pulse" }
func (m *Module) Version() string { return "0.2.0" }

func (m *Module) Init(_ context.Context, deps plugin.Dependencies) error {
	if deps.Logger != nil {
		m.logger = deps.Logger
	}
	if deps.Config != nil {
		if err := deps.Config.Unmarshal(&m.cfg); err != nil {
			return fmt.Errorf("unmarshal pulse config: %w", err)
		}
	}
	m.prober = NewProber(m.cfg, m.logger)
	m.logger.Info("pulse module initialized",
		zap.Duration("timeout", m.cfg.Timeout),
		zap.Int("attempts", m.cfg.Attempts),
		zap.Int("concurrency", m.cfg.Concurrency),
	)
	return nil
}

// ValidateConfig rejects settings the prober cannot honor.
func (m *Module) ValidateConfig() error {
	if m.cfg.Concurrency < 0 {
		return fmt.Errorf("concurrency must not be negative, got %d", m.cfg.Concurrency)
	}
	if m.cfg.Timeout < 0 {
		return fmt.Errorf("ping_timeout must not be negative, got %s", m.cfg.Timeout)
	}
	return nil
}

func (m *Module) Start(_ context.Context) error {
	m.logger.Info("pulse module started")
	return nil
}

func (m *Module) Stop(_ context.Context) error {
	m.logger.Info("pulse module stopped")
	return nil
}

// Health implements plugin.HealthChecker.
func (m *Module) Health(_ context.Context) plugin.HealthStatus {
	return plugin.HealthStatus{
		Status: "healthy",
		Details: map[string]string{
			"concurrency": fmt.Sprint(m.cfg.Concurrency),
			"timeout":     m.cfg.Timeout.String(),
		},
	}
}

// Prober returns the module's prober.
func (m *Module) Prober() *Prober {
	return m.prober
}

// ProbeAll evaluates targets with the module's prober.
func (m *Module) ProbeAll(ctx context.Context, targets []Target) map[string]bool {
	return m.prober.ProbeAll(ctx, targets)
}

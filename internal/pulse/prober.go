package pulse

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/HerbHall/netreach/internal/netaddr"
	"github.com/HerbHall/netreach/pkg/models"
)

// Probe limits. Timeouts are clamped per check type; ping attempts retry
// until one succeeds.
const (
	minTimeout         = 200 * time.Millisecond
	maxTimeout         = 5 * time.Second
	maxHTTPTimeout     = 8 * time.Second
	minAttempts        = 1
	maxAttempts        = 5
	DefaultConcurrency = 20
)

// Target describes what to probe for one asset. Address is free text; the
// first IPv4 literal found in it is used.
type Target struct {
	ID       string             `json:"id"`
	Address  string             `json:"address"`
	Mode     models.MonitorMode `json:"mode"`
	Port     *int               `json:"port,omitempty"`
	UseHTTPS bool               `json:"use_https"`
	Path     string             `json:"path,omitempty"`
}

// TargetFromAsset builds the probe target for an asset's monitor settings.
func TargetFromAsset(a *models.Asset) Target {
	return Target{
		ID:       a.ID,
		Address:  a.IPAddress,
		Mode:     a.MonitorMode,
		Port:     a.MonitorPort,
		UseHTTPS: a.MonitorUseHTTPS,
		Path:     a.MonitorHTTPPath,
	}
}

// ProberConfig controls probe timing.
type ProberConfig struct {
	Timeout     time.Duration `mapstructure:"ping_timeout"`
	Attempts    int           `mapstructure:"ping_attempts"`
	Concurrency int           `mapstructure:"concurrency"`
}

// DefaultProberConfig returns one 1s attempt with 20 concurrent probes.
func DefaultProberConfig() ProberConfig {
	return ProberConfig{Timeout: time.Second, Attempts: 1, Concurrency: DefaultConcurrency}
}

// Prober reduces ping, TCP and HTTP checks to booleans. Every failure mode
// (timeout, refusal, DNS, non-2xx) is a false result, never an error.
type Prober struct {
	cfg    ProberConfig
	logger *zap.Logger

	// Checker constructors, replaceable in tests.
	newICMP func(timeout time.Duration) Checker
	newTCP  func(timeout time.Duration) Checker
	newHTTP func(timeout time.Duration) Checker
}

// NewProber returns a Prober backed by the ICMP, TCP and HTTP checkers.
func NewProber(cfg ProberConfig, logger *zap.Logger) *Prober {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	return &Prober{
		cfg:     cfg,
		logger:  logger,
		newICMP: func(t time.Duration) Checker { return NewICMPChecker(t, 1) },
		newTCP:  func(t time.Duration) Checker { return NewTCPChecker(t) },
		newHTTP: func(t time.Duration) Checker { return NewHTTPChecker(t) },
	}
}

// IsAlive pings the address up to attempts times.
func (p *Prober) IsAlive(ctx context.Context, address string, timeout time.Duration, attempts int) bool {
	ip := netaddr.ExtractFirstIPv4(address)
	if ip == "" {
		return false
	}
	timeout = clampDuration(timeout, minTimeout, maxTimeout)
	attempts = min(max(attempts, minAttempts), maxAttempts)

	checker := p.newICMP(timeout)
	for range attempts {
		if ctx.Err() != nil {
			return false
		}
		if p.ok(checker.Check(ctx, ip)) {
			return true
		}
	}
	return false
}

// IsTCPOpen reports whether a TCP connection to address:port succeeds.
func (p *Prober) IsTCPOpen(ctx context.Context, address string, port int, timeout time.Duration) bool {
	ip := netaddr.ExtractFirstIPv4(address)
	if ip == "" || port <= 0 || port > 65535 {
		return false
	}
	timeout = clampDuration(timeout, minTimeout, maxTimeout)
	return p.ok(p.newTCP(timeout).Check(ctx, net.JoinHostPort(ip, strconv.Itoa(port))))
}

// IsHTTPOK reports whether a GET to the address returns 2xx. A nil port
// means the scheme default; an empty path means "/".
func (p *Prober) IsHTTPOK(ctx context.Context, address string, port *int, useHTTPS bool, path string, timeout time.Duration) bool {
	ip := netaddr.ExtractFirstIPv4(address)
	if ip == "" {
		return false
	}
	target, ok := httpURL(ip, port, useHTTPS, path)
	if !ok {
		return false
	}
	timeout = clampDuration(timeout, minTimeout, maxHTTPTimeout)
	return p.ok(p.newHTTP(timeout).Check(ctx, target))
}

// Evaluate runs every check the target's mode requires and reports whether
// all passed. Normal mode is treated as ping-only.
func (p *Prober) Evaluate(ctx context.Context, t Target) bool {
	mode := t.Mode
	if !mode.IsCustom() {
		mode = models.MonitorPingOnly
	}

	if mode.RequiresPing() && !p.IsAlive(ctx, t.Address, p.cfg.Timeout, p.cfg.Attempts) {
		return false
	}
	if mode.RequiresPort() {
		port := 0
		if t.Port != nil {
			port = *t.Port
		}
		if !p.IsTCPOpen(ctx, t.Address, port, p.cfg.Timeout) {
			return false
		}
	}
	if mode.RequiresHTTP() && !p.IsHTTPOK(ctx, t.Address, t.Port, t.UseHTTPS, t.Path, p.cfg.Timeout) {
		return false
	}
	return true
}

// ProbeAll evaluates targets with bounded concurrency and returns verdicts
// keyed by target ID. It returns once every probe has finished.
func (p *Prober) ProbeAll(ctx context.Context, targets []Target) map[string]bool {
	results := make([]bool, len(targets))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.Concurrency)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = p.Evaluate(gctx, t)
			return nil
		})
	}
	_ = g.Wait()

	out := make(map[string]bool, len(targets))
	for i, t := range targets {
		out[t.ID] = results[i]
	}
	return out
}

func (p *Prober) ok(res *CheckResult, err error) bool {
	if err != nil {
		p.logger.Debug("probe not attempted", zap.Error(err))
		return false
	}
	return res != nil && res.Success
}

func httpURL(ip string, port *int, useHTTPS bool, path string) (string, bool) {
	scheme, p := "http", 80
	if useHTTPS {
		scheme, p = "https", 443
	}
	if port != nil {
		p = *port
	}
	if p <= 0 || p > 65535 {
		return "", false
	}
	path = strings.TrimSpace(path)
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return fmt.Sprintf("%s://%s%s", scheme, net.JoinHostPort(ip, strconv.Itoa(p)), path), true
}

func clampDuration(d, lo, hi time.Duration) time.Duration {
	return min(max(d, lo), hi)
}

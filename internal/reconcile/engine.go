// Package reconcile fuses controller signals with reachability probes into
// per-asset online verdicts and turns them into events, uptime rollups and
// alert lifecycles.
package reconcile

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/unifi"
	"github.com/HerbHall/netreach/pkg/models"
	"github.com/HerbHall/netreach/pkg/plugin"
)

// Source supplies raw controller payloads. *unifi.Client implements it.
type Source interface {
	ActiveClients(ctx context.Context) ([]unifi.Record, error)
	KnownClients(ctx context.Context) ([]unifi.Record, error)
	Devices(ctx context.Context) ([]unifi.Record, error)
	Networks(ctx context.Context) ([]unifi.Record, error)
}

// SyncOptions selects what a pass updates.
type SyncOptions struct {
	// SyncOnlineStatus enables fusion, status events, rollups and pruning.
	// When false the pass only syncs identity fields and alerts.
	SyncOnlineStatus       bool
	SyncIP                 bool
	SyncName               bool
	SyncHostname           bool
	SyncManufacturer       bool
	SyncModel              bool
	UpdateConnectionFields bool
}

// PassResult summarizes one pass.
type PassResult struct {
	RunID string `json:"run_id"`
	// Changed counts field changes plus online-status transitions.
	Changed    int            `json:"changed"`
	ChangeLogs int            `json:"change_logs"`
	Pinged     int            `json:"pinged"`
	Online     int            `json:"online"`
	Sources    map[string]int `json:"sources,omitempty"`
	Duration   time.Duration  `json:"duration"`
	StatusSync bool           `json:"status_sync"`
}

// Bus topics published after a pass commits.
const (
	TopicStatus         = "reconcile.status"
	TopicAssetStatus    = "reconcile.asset.status"
	TopicOfflineAlert   = "reconcile.alert.offline"
	TopicFirmwareAlert  = "reconcile.alert.firmware"
	TopicDiscoveryAlert = "reconcile.alert.discovery"
)

// Source tags written to run logs, events, alerts and address history.
const (
	runSource          = "UniFi"
	eventSourceNormal  = "UniFi+Ping"
	eventSourceMonitor = "Monitor"
	historyInitial     = "Initial"
	historyObserved    = "Observed"
)

// Retention windows applied at the end of a full pass.
const (
	eventRetention      = 30 * 24 * time.Hour
	rollupRetentionDays = 180
	runRetention        = 24 * time.Hour
)

// AssetStatusChanged is the payload of TopicAssetStatus.
type AssetStatusChanged struct {
	AssetID   string    `json:"asset_id"`
	Name      string    `json:"name"`
	IPAddress string    `json:"ip_address,omitempty"`
	IsOnline  bool      `json:"is_online"`
	Source    string    `json:"source"`
	ChangedAt time.Time `json:"changed_at"`
}

// Engine runs reconciliation passes. It holds no per-pass state, but passes
// must not overlap; the scheduler gate serializes them.
type Engine struct {
	source       Source
	repo         Repository
	prober       Prober
	bus          plugin.EventBus
	metrics      *Metrics
	manufacturer func(mac string) string
	logger       *zap.Logger
	now          func() time.Time
	loc          *time.Location
}

// Option configures an Engine.
type Option func(*Engine)

// WithBus publishes transitions and alerts on bus after each pass.
func WithBus(bus plugin.EventBus) Option {
	return func(e *Engine) { e.bus = bus }
}

// WithMetrics records pass metrics.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// WithManufacturerLookup fills discovery alerts that lack a vendor.
func WithManufacturerLookup(fn func(mac string) string) Option {
	return func(e *Engine) { e.manufacturer = fn }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// WithLocation sets the zone whose midnights split uptime rollups.
func WithLocation(loc *time.Location) Option {
	return func(e *Engine) { e.loc = loc }
}

// NewEngine creates an Engine.
func NewEngine(source Source, repo Repository, prober Prober, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		source: source,
		repo:   repo,
		prober: prober,
		logger: logger,
		now:    time.Now,
		loc:    time.Local,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// RunPass performs one reconciliation pass. Nothing is written unless the
// whole pass succeeds; a failed pass leaves only a run log carrying the error.
func (e *Engine) RunPass(ctx context.Context, opts SyncOptions) (PassResult, error) {
	started := e.now().UTC()
	res, err := e.runPass(ctx, opts, started)
	if err != nil {
		e.metrics.observeFailure()
		if ctx.Err() == nil {
			e.recordFailure(ctx, started, err)
		}
		return res, err
	}
	e.metrics.observePass(res)
	return res, nil
}

type payloads struct {
	active, known, devices, networks []unifi.Record
}

func (e *Engine) fetch(ctx context.Context) (payloads, error) {
	var p payloads
	var err error
	if p.active, err = e.source.ActiveClients(ctx); err != nil {
		return p, fmt.Errorf("fetch active clients: %w", err)
	}
	if p.known, err = e.source.KnownClients(ctx); err != nil {
		return p, fmt.Errorf("fetch known clients: %w", err)
	}
	if p.devices, err = e.source.Devices(ctx); err != nil {
		return p, fmt.Errorf("fetch devices: %w", err)
	}
	if p.networks, err = e.source.Networks(ctx); err != nil {
		return p, fmt.Errorf("fetch networks: %w", err)
	}
	return p, nil
}

func (e *Engine) runPass(ctx context.Context, opts SyncOptions, now time.Time) (PassResult, error) {
	in, err := e.fetch(ctx)
	if err != nil {
		return PassResult{}, err
	}
	snap, err := e.repo.LoadSnapshot(ctx)
	if err != nil {
		return PassResult{}, err
	}

	p := newPass(e, opts, snap, now)
	p.ingest(in)
	p.syncWAN(in.devices)
	p.syncSubnets(in.networks)
	p.syncAssets()
	p.detectDiscovery()

	if opts.SyncOnlineStatus {
		p.verdicts, p.pinged = fuse(ctx, p.assets, p.signals, e.prober)
		if err := ctx.Err(); err != nil {
			return PassResult{}, err
		}
		p.applyVerdicts()
		p.cs.Rollups = p.rollups.rows(now)
		p.cs.Prune = &Prune{
			EventsBefore:  now.Add(-eventRetention),
			RollupsBefore: now.In(e.loc).AddDate(0, 0, -rollupRetentionDays).Format(dateLayout),
			RunsBefore:    now.Add(-runRetention),
		}
	}

	cs := p.finish(e.now().UTC())
	if err := e.repo.Apply(ctx, cs); err != nil {
		return PassResult{}, fmt.Errorf("apply changes: %w", err)
	}
	e.publish(ctx, p)

	res := PassResult{
		RunID:      cs.Run.ID,
		Changed:    p.changed,
		ChangeLogs: len(cs.ChangeLogs),
		Pinged:     p.pinged,
		Duration:   time.Duration(cs.Run.DurationMs) * time.Millisecond,
		StatusSync: opts.SyncOnlineStatus,
	}
	if opts.SyncOnlineStatus {
		res.Sources = p.sources
		res.Online = p.online
	}

	fields := []zap.Field{
		zap.Int("changed", res.Changed),
		zap.Int("change_logs", res.ChangeLogs),
	}
	if opts.SyncOnlineStatus {
		fields = append(fields,
			zap.Int("pinged", res.Pinged),
			zap.String("sources", summarizeSources(res.Sources)),
		)
	}
	e.logger.Info("reconciliation pass complete", fields...)
	return res, nil
}

func (e *Engine) recordFailure(ctx context.Context, started time.Time, cause error) {
	finished := e.now().UTC()
	run := models.RunLog{
		ID:         newID(),
		Source:     runSource,
		StartedAt:  started,
		FinishedAt: &finished,
		DurationMs: max(0, finished.Sub(started).Milliseconds()),
		Error:      cause.Error(),
	}
	if err := e.repo.RecordRun(ctx, run); err != nil {
		e.logger.Warn("record failed run", zap.Error(err))
	}
}

func (e *Engine) publish(ctx context.Context, p *pass) {
	if e.bus == nil {
		return
	}
	emit := func(topic string, payload any) {
		e.bus.PublishAsync(ctx, plugin.Event{
			Topic:     topic,
			Source:    "reconcile",
			Timestamp: p.now,
			Payload:   payload,
		})
	}
	for _, c := range p.statusChanges {
		emit(TopicAssetStatus, c)
	}
	for _, a := range p.newOffline {
		emit(TopicOfflineAlert, *a)
	}
	for _, a := range p.newFirmware {
		emit(TopicFirmwareAlert, *a)
	}
	for _, a := range p.cs.DiscoveryAlerts {
		emit(TopicDiscoveryAlert, a)
	}
}

func summarizeSources(sources map[string]int) string {
	keys := make([]string, 0, len(sources))
	for k := range sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%d", k, sources[k])
	}
	return strings.Join(parts, ", ")
}

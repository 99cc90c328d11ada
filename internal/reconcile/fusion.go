package reconcile

import (
	"context"
	"strings"

	"github.com/HerbHall/netreach/internal/pulse"
	"github.com/HerbHall/netreach/internal/unifi"
	"github.com/HerbHall/netreach/pkg/models"
)

// Verdict sources, in the priority order they are tried.
const (
	SourceInfraConnected = "InfraConnected"
	SourceActiveClient   = "ActiveClient"
	SourcePing           = "Ping"
	SourceCustomMonitor  = "CustomMonitor"
	SourceUnknown        = "Unknown"
)

// Verdict is the fused reachability of one asset.
type Verdict struct {
	Online bool
	Source string
}

// Signals is the controller evidence available to fusion, keyed by
// normalized MAC.
type Signals struct {
	Infra  map[string]unifi.InfraDevice
	Active map[string]unifi.ActiveStatus
	// Owner maps a MAC to the first asset that claimed it. Later assets
	// sharing the MAC get no controller signal and are probed instead.
	Owner map[string]string
}

// Classify applies the controller signals to a normal-mode asset. It returns
// ok=false when the asset must fall back to a probe. Custom modes always
// fall back.
func (s Signals) Classify(a *models.Asset) (Verdict, bool) {
	if a.MonitorMode.IsCustom() {
		return Verdict{}, false
	}
	mac := assetMAC(a)
	if mac == "" {
		return Verdict{}, false
	}
	if owner, ok := s.Owner[mac]; ok && owner != a.ID {
		return Verdict{}, false
	}
	if infra, ok := s.Infra[mac]; ok && infra.IsOnline {
		return Verdict{Online: true, Source: SourceInfraConnected}, true
	}
	if _, ok := s.Active[mac]; ok {
		return Verdict{Online: true, Source: SourceActiveClient}, true
	}
	return Verdict{}, false
}

// Prober evaluates probe targets in bulk with bounded concurrency.
type Prober interface {
	ProbeAll(ctx context.Context, targets []pulse.Target) map[string]bool
}

// fuse returns a verdict for every status-tracked asset. Assets the
// controller cannot vouch for are probed together, and the call returns
// only after every probe has finished.
func fuse(ctx context.Context, assets []*models.Asset, sig Signals, prober Prober) (verdicts map[string]Verdict, pinged int) {
	verdicts = make(map[string]Verdict, len(assets))

	var targets []pulse.Target
	sources := make(map[string]string)
	for _, a := range assets {
		if !a.IsStatusTracked {
			continue
		}
		if v, ok := sig.Classify(a); ok {
			verdicts[a.ID] = v
			continue
		}
		t := pulse.TargetFromAsset(a)
		sources[a.ID] = SourceCustomMonitor
		if !a.MonitorMode.IsCustom() {
			t.Mode = models.MonitorPingOnly
			sources[a.ID] = SourcePing
			pinged++
		}
		targets = append(targets, t)
	}
	if len(targets) == 0 {
		return verdicts, pinged
	}

	results := prober.ProbeAll(ctx, targets)
	for _, t := range targets {
		verdicts[t.ID] = Verdict{Online: results[t.ID], Source: sources[t.ID]}
	}
	return verdicts, pinged
}

// assetMAC returns the asset's normalized MAC, or "" when it has none.
func assetMAC(a *models.Asset) string {
	if strings.TrimSpace(a.MACAddress) == "" {
		return ""
	}
	return unifi.NormalizeMAC(a.MACAddress)
}

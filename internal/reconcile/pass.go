package reconcile

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/unifi"
	"github.com/HerbHall/netreach/pkg/models"
)

// dirtySet collects pointers in first-touched order without duplicates.
type dirtySet[T any] struct {
	seen  map[*T]bool
	items []*T
}

func (d *dirtySet[T]) add(v *T) {
	if d.seen == nil {
		d.seen = make(map[*T]bool)
	}
	if d.seen[v] {
		return
	}
	d.seen[v] = true
	d.items = append(d.items, v)
}

// pass holds the working state of one reconciliation pass. Everything it
// changes is collected into cs and written by a single Apply.
type pass struct {
	opts         SyncOptions
	now          time.Time
	snap         *Snapshot
	cs           *Changeset
	logger       *zap.Logger
	manufacturer func(mac string) string

	assets      []*models.Asset
	clients     []unifi.ClientRecord
	clientByMAC map[string]*unifi.ClientRecord
	infraByMAC  map[string]unifi.InfraDevice
	active      map[string]unifi.ActiveStatus
	owner       map[string]string
	signals     Signals

	dirtyAssets   dirtySet[models.Asset]
	dirtySubnets  dirtySet[models.Subnet]
	dirtyOffline  dirtySet[models.OfflineAlert]
	dirtyFirmware dirtySet[models.FirmwareAlert]
	dirtyHistory  dirtySet[models.IPHistoryInterval]

	rollups  *rollups
	verdicts map[string]Verdict
	changed  int
	pinged   int
	online   int
	sources  map[string]int

	statusChanges []AssetStatusChanged
	newOffline    []*models.OfflineAlert
	newFirmware   []*models.FirmwareAlert
}

func newPass(e *Engine, opts SyncOptions, snap *Snapshot, now time.Time) *pass {
	p := &pass{
		opts:         opts,
		now:          now,
		snap:         snap,
		logger:       e.logger,
		manufacturer: e.manufacturer,
		clientByMAC:  make(map[string]*unifi.ClientRecord),
		infraByMAC:   make(map[string]unifi.InfraDevice),
		active:       make(map[string]unifi.ActiveStatus),
		owner:        make(map[string]string),
		rollups:      newRollups(e.loc),
		sources:      make(map[string]int),
		cs: &Changeset{
			Run: models.RunLog{
				ID:        newID(),
				Source:    runSource,
				StartedAt: now,
			},
		},
	}
	p.assets = make([]*models.Asset, len(snap.Assets))
	for i := range snap.Assets {
		p.assets[i] = &snap.Assets[i]
	}
	return p
}

// ingest parses the controller payloads into MAC-keyed lookups. The first
// record per MAC wins.
func (p *pass) ingest(in payloads) {
	if p.opts.SyncOnlineStatus {
		p.active = unifi.ParseActiveStatus(in.active)
	}
	nameMap := unifi.BuildDeviceNameMap(in.devices)
	p.clients = unifi.MergeClients(in.active, in.known, nameMap, p.now)
	for i := range p.clients {
		mac := unifi.NormalizeMAC(p.clients[i].MAC)
		if _, ok := p.clientByMAC[mac]; mac != "" && !ok {
			p.clientByMAC[mac] = &p.clients[i]
		}
	}
	for _, d := range unifi.ParseInfraDevices(in.devices) {
		mac := unifi.NormalizeMAC(d.MAC)
		if _, ok := p.infraByMAC[mac]; mac != "" && !ok {
			p.infraByMAC[mac] = d
		}
	}
	for _, a := range p.assets {
		mac := assetMAC(a)
		if mac == "" {
			continue
		}
		if first, ok := p.owner[mac]; ok {
			p.logger.Debug("duplicate asset MAC, controller data applies to first asset",
				zap.String("mac", mac),
				zap.String("asset_id", a.ID),
				zap.String("owner_id", first),
			)
			continue
		}
		p.owner[mac] = a.ID
	}
	p.signals = Signals{Infra: p.infraByMAC, Active: p.active, Owner: p.owner}
}

// ownsMAC reports whether controller data for mac applies to a.
func (p *pass) ownsMAC(a *models.Asset, mac string) bool {
	return mac != "" && p.owner[mac] == a.ID
}

func (p *pass) syncWAN(devices []unifi.Record) {
	ifaces := unifi.ParseWANInterfaces(devices)
	if len(ifaces) == 0 {
		return
	}
	p.cs.WAN = make([]models.WANInterfaceStatus, 0, len(ifaces))
	for _, w := range ifaces {
		p.cs.WAN = append(p.cs.WAN, models.WANInterfaceStatus{
			GatewayName:   w.GatewayName,
			GatewayMAC:    w.GatewayMAC,
			InterfaceName: w.InterfaceName,
			IsUp:          w.IsUp,
			IPAddress:     w.IPAddress,
			UpdatedAt:     p.now,
		})
	}
}

// syncSubnets refreshes existing subnets from controller networks matched by
// CIDR. Controller networks never create subnets.
func (p *pass) syncSubnets(networks []unifi.Record) {
	byCIDR := make(map[string]*models.Subnet, len(p.snap.Subnets))
	for i := range p.snap.Subnets {
		if key := normalizeCIDR(p.snap.Subnets[i].CIDR); key != "" {
			byCIDR[key] = &p.snap.Subnets[i]
		}
	}
	for _, n := range unifi.ParseNetworks(networks) {
		cidr := strings.TrimSpace(n.CIDR)
		s, ok := byCIDR[normalizeCIDR(cidr)]
		if cidr == "" || !ok {
			continue
		}
		next := *s
		next.Name = strings.TrimSpace(n.Name)
		next.CIDR = cidr
		next.DHCPStart = n.DHCPStart
		next.DHCPEnd = n.DHCPEnd
		next.VLANID = n.VLANID
		next.DNS1 = n.DNS1
		next.DNS2 = n.DNS2
		if subnetEqual(*s, next) {
			continue
		}
		*s = next
		p.dirtySubnets.add(s)
	}
}

func subnetEqual(a, b models.Subnet) bool {
	if (a.VLANID == nil) != (b.VLANID == nil) {
		return false
	}
	if a.VLANID != nil && *a.VLANID != *b.VLANID {
		return false
	}
	return a.Name == b.Name && a.CIDR == b.CIDR &&
		a.DHCPStart == b.DHCPStart && a.DHCPEnd == b.DHCPEnd &&
		a.DNS1 == b.DNS1 && a.DNS2 == b.DNS2
}

func normalizeCIDR(cidr string) string {
	return strings.ToLower(strings.TrimSpace(cidr))
}

// syncAssets seeds address history and copies controller identity fields and
// firmware state onto assets.
func (p *pass) syncAssets() {
	for _, a := range p.assets {
		if !p.snap.HasIPHistory[a.ID] && strings.TrimSpace(a.IPAddress) != "" {
			p.trackIP(a, historyInitial)
		}

		mac := assetMAC(a)
		if !p.ownsMAC(a, mac) {
			continue
		}
		if c := p.clientByMAC[mac]; c != nil {
			if p.opts.SyncIP && p.syncField(a, "IPAddress", &a.IPAddress, c.IPAddress) {
				p.trackIP(a, runSource)
			}
			if p.opts.SyncName {
				p.syncField(a, "Name", &a.Name, c.Name)
			}
			if p.opts.SyncHostname {
				p.syncField(a, "Hostname", &a.Hostname, c.Hostname)
			}
			if p.opts.SyncManufacturer {
				p.syncField(a, "Manufacturer", &a.Manufacturer, c.Manufacturer)
			}
			if p.opts.SyncModel {
				p.syncField(a, "Model", &a.Model, c.Model)
			}
		}
		if infra, ok := p.infraByMAC[mac]; ok {
			p.syncFirmware(a, infra)
		}
	}
}

// syncField overwrites *dst with a non-blank value that differs ignoring case.
func (p *pass) syncField(a *models.Asset, field string, dst *string, value string) bool {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(*dst, value) {
		return false
	}
	old := *dst
	*dst = value
	p.logChange(a, field, old, value)
	p.dirtyAssets.add(a)
	p.changed++
	return true
}

func (p *pass) logChange(a *models.Asset, field, oldValue, newValue string) {
	p.cs.ChangeLogs = append(p.cs.ChangeLogs, models.ChangeLog{
		RunID:     p.cs.Run.ID,
		AssetID:   a.ID,
		AssetName: a.Name,
		IPAddress: a.IPAddress,
		Field:     field,
		OldValue:  oldValue,
		NewValue:  newValue,
	})
}

// trackIP closes the open address interval when the asset's (IP, port) pair
// differs from it and opens a new one.
func (p *pass) trackIP(a *models.Asset, source string) {
	ip := strings.TrimSpace(a.IPAddress)
	if ip == "" {
		return
	}
	port := a.TrackingPort()
	open := p.snap.OpenIPHistory[a.ID]
	if open != nil && open.IPAddress == ip && samePort(open.Port, port) {
		return
	}
	if open != nil {
		open.LastSeen = p.stamp()
		p.dirtyHistory.add(open)
	}
	next := &models.IPHistoryInterval{
		ID:        newID(),
		AssetID:   a.ID,
		IPAddress: ip,
		Port:      copyInt(port),
		Source:    source,
		FirstSeen: p.now,
	}
	p.snap.OpenIPHistory[a.ID] = next
	p.snap.HasIPHistory[a.ID] = true
	p.dirtyHistory.add(next)
}

func samePort(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// syncFirmware keeps at most one open firmware alert per asset, matching the
// controller's advertised upgrade target.
func (p *pass) syncFirmware(a *models.Asset, infra unifi.InfraDevice) {
	target := strings.TrimSpace(infra.UpgradeTo)
	upgradable := infra.Upgradable != nil && *infra.Upgradable && target != ""
	open := p.snap.OpenFirmware[a.ID]

	if !upgradable {
		p.resolveFirmware(a.ID, open)
		return
	}

	for _, alert := range open {
		if !strings.EqualFold(alert.TargetVersion, target) {
			continue
		}
		if alert.CurrentVersion != infra.Version {
			alert.CurrentVersion = infra.Version
			p.dirtyFirmware.add(alert)
		}
		return
	}

	p.resolveFirmware(a.ID, open)
	alert := &models.FirmwareAlert{
		ID:             newID(),
		AssetID:        a.ID,
		NameAtTime:     a.Name,
		MACAtTime:      a.MACAddress,
		ModelAtTime:    a.Model,
		CurrentVersion: infra.Version,
		TargetVersion:  target,
		DetectedAt:     p.now,
		Source:         runSource,
	}
	p.snap.OpenFirmware[a.ID] = []*models.FirmwareAlert{alert}
	p.dirtyFirmware.add(alert)
	p.newFirmware = append(p.newFirmware, alert)
}

func (p *pass) resolveFirmware(assetID string, open []*models.FirmwareAlert) {
	if len(open) == 0 {
		return
	}
	for _, alert := range open {
		alert.ResolvedAt = p.stamp()
		p.dirtyFirmware.add(alert)
	}
	delete(p.snap.OpenFirmware, assetID)
}

// detectDiscovery raises one alert per online controller client whose MAC is
// neither an asset, ignored, nor already pending.
func (p *pass) detectDiscovery() {
	known := make(map[string]bool, len(p.assets))
	for _, a := range p.assets {
		if mac := assetMAC(a); mac != "" {
			known[mac] = true
		}
	}
	for _, c := range p.clients {
		if !c.IsOnline {
			continue
		}
		mac := unifi.NormalizeMAC(c.MAC)
		if mac == "" || known[mac] || p.snap.IgnoredMACs[mac] || p.snap.OpenDiscoveryMACs[mac] {
			continue
		}
		manufacturer := strings.TrimSpace(c.Manufacturer)
		if manufacturer == "" && p.manufacturer != nil {
			manufacturer = p.manufacturer(mac)
		}
		p.cs.DiscoveryAlerts = append(p.cs.DiscoveryAlerts, models.DiscoveryAlert{
			ID:                 newID(),
			MAC:                mac,
			Name:               strings.TrimSpace(c.Name),
			Hostname:           strings.TrimSpace(c.Hostname),
			IPAddress:          strings.TrimSpace(c.IPAddress),
			Manufacturer:       manufacturer,
			ConnectionType:     strings.TrimSpace(c.Type),
			UpstreamName:       strings.TrimSpace(c.UpstreamName),
			UpstreamMAC:        strings.TrimSpace(c.UpstreamMAC),
			UpstreamConnection: strings.TrimSpace(c.UpstreamConn),
			ConnectionDetail:   strings.TrimSpace(c.Detail),
			IsOnline:           true,
			DetectedAt:         p.now,
			Source:             runSource,
		})
		p.snap.OpenDiscoveryMACs[mac] = true
	}
}

// applyVerdicts turns fused verdicts into asset state, status events, uptime
// increments and offline alert lifecycles.
func (p *pass) applyVerdicts() {
	for _, a := range p.assets {
		if !a.IsStatusTracked {
			p.closeOffline(a.ID)
			continue
		}

		v, ok := p.verdicts[a.ID]
		if !ok {
			v = Verdict{Source: SourceUnknown}
		}
		p.sources[v.Source]++
		wasOnline := a.IsOnline
		p.logger.Debug("asset verdict",
			zap.String("asset_id", a.ID),
			zap.String("name", a.Name),
			zap.Bool("online", v.Online),
			zap.String("source", v.Source),
		)

		p.accrue(a, wasOnline)

		if wasOnline != v.Online {
			p.changed++
			source := eventSourceNormal
			if a.MonitorMode.IsCustom() {
				source = eventSourceMonitor
			}
			p.cs.StatusEvents = append(p.cs.StatusEvents, models.StatusEvent{
				ID:        newID(),
				AssetID:   a.ID,
				IsOnline:  v.Online,
				ChangedAt: p.now,
				Source:    source,
			})
			p.logChange(a, "OnlineStatus", onlineLabel(wasOnline), onlineLabel(v.Online))
			p.statusChanges = append(p.statusChanges, AssetStatusChanged{
				AssetID:   a.ID,
				Name:      a.Name,
				IPAddress: a.IPAddress,
				IsOnline:  v.Online,
				Source:    v.Source,
				ChangedAt: p.now,
			})
			p.dirtyAssets.add(a)
		}

		if v.Online {
			p.online++
			p.markOnline(a)
		} else {
			p.markOffline(a, wasOnline)
		}

		p.trackIP(a, historyObserved)
	}
}

// accrue credits the time since the asset's watermark to its daily rollups,
// as online time when the asset was online for that span.
func (p *pass) accrue(a *models.Asset, wasOnline bool) {
	switch {
	case a.LastRollupAt == nil:
		a.LastRollupAt = p.stamp()
	case a.LastRollupAt.Before(p.now):
		p.rollups.add(a.ID, *a.LastRollupAt, p.now, wasOnline)
		a.LastRollupAt = p.stamp()
	default:
		return
	}
	p.dirtyAssets.add(a)
}

func (p *pass) markOnline(a *models.Asset) {
	mac := assetMAC(a)
	if st, ok := p.active[mac]; ok && p.opts.UpdateConnectionFields && p.ownsMAC(a, mac) {
		a.ConnectionType = st.ConnectionType
		a.ConnectionDetail = st.ConnectionDetail
		if c := p.clientByMAC[mac]; c != nil && a.HostAssetID == "" {
			a.UpstreamName = c.UpstreamName
			a.UpstreamMAC = c.UpstreamMAC
			a.UpstreamConnection = c.UpstreamConn
		}
	}
	a.IsOnline = true
	a.LastSeenAt = p.stamp()
	a.LastOnlineAt = p.stamp()
	p.dirtyAssets.add(a)
	p.closeOffline(a.ID)
}

func (p *pass) markOffline(a *models.Asset, wasOnline bool) {
	a.IsOnline = false
	if a.IgnoreOffline {
		p.closeOffline(a.ID)
		return
	}
	if !wasOnline || p.snap.OpenOffline[a.ID] != nil {
		return
	}
	alert := &models.OfflineAlert{
		ID:            newID(),
		AssetID:       a.ID,
		NameAtTime:    a.Name,
		IPAtTime:      a.IPAddress,
		WentOfflineAt: p.now,
		Source:        eventSourceNormal,
	}
	p.snap.OpenOffline[a.ID] = alert
	p.dirtyOffline.add(alert)
	p.newOffline = append(p.newOffline, alert)
}

func (p *pass) closeOffline(assetID string) {
	open := p.snap.OpenOffline[assetID]
	if open == nil {
		return
	}
	open.CameOnlineAt = p.stamp()
	p.dirtyOffline.add(open)
	delete(p.snap.OpenOffline, assetID)
}

func (p *pass) stamp() *time.Time {
	t := p.now
	return &t
}

func onlineLabel(online bool) string {
	if online {
		return "Online"
	}
	return "Offline"
}

// finish stamps the run log and returns the changeset to apply.
func (p *pass) finish(finished time.Time) *Changeset {
	run := &p.cs.Run
	run.FinishedAt = &finished
	run.DurationMs = max(0, finished.Sub(run.StartedAt).Milliseconds())
	run.ChangedCount = len(p.cs.ChangeLogs)

	p.cs.Assets = p.dirtyAssets.items
	p.cs.Subnets = p.dirtySubnets.items
	p.cs.OfflineAlerts = p.dirtyOffline.items
	p.cs.FirmwareAlerts = p.dirtyFirmware.items
	p.cs.IPHistory = p.dirtyHistory.items
	return p.cs
}

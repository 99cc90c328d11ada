package recon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/HerbHall/netreach/internal/services"
	"github.com/HerbHall/netreach/internal/unifi"
	"github.com/HerbHall/netreach/pkg/models"
)

// Guest categories written when a profile asks for category updates.
const (
	CategoryProxmoxVM        = "Proxmox VM"
	CategoryProxmoxContainer = "Proxmox Container"
)

// Bounds for the host mapping interval.
const (
	defaultMapInterval = 300 * time.Second
	minMapInterval     = 30 * time.Second
	maxMapInterval     = 86400 * time.Second
)

var guestMACPattern = regexp.MustCompile(`([0-9A-Fa-f]{2}[:-]){5}[0-9A-Fa-f]{2}`)

// hostAssets is the part of the asset repository the mapper uses.
type hostAssets interface {
	All(ctx context.Context) ([]models.Asset, error)
	SetHost(ctx context.Context, id, hostID string) error
	SetCategory(ctx context.Context, id, category string) error
}

// HostMapResult summarizes one mapping pass.
type HostMapResult struct {
	Profiles     int           `json:"profiles"`
	Guests       int           `json:"guests"`
	Matched      int           `json:"matched"`
	Changed      int           `json:"changed"`
	ConfigErrors int           `json:"config_errors"`
	NextInterval time.Duration `json:"-"`
}

// HostMapper assigns guest assets to the Proxmox host asset that runs them,
// matching guest NIC MAC addresses against the inventory.
type HostMapper struct {
	assets     hostAssets
	logger     *zap.Logger
	limiter    *rate.Limiter
	httpClient *http.Client
}

// HostMapperOption configures a HostMapper.
type HostMapperOption func(*HostMapper)

// WithConfigRate limits guest configuration reads to r per second.
func WithConfigRate(r rate.Limit, burst int) HostMapperOption {
	return func(h *HostMapper) { h.limiter = rate.NewLimiter(r, burst) }
}

// WithMapperHTTPClient sets the HTTP client used for every profile.
func WithMapperHTTPClient(hc *http.Client) HostMapperOption {
	return func(h *HostMapper) { h.httpClient = hc }
}

// NewHostMapper creates a mapper over the given asset repository.
func NewHostMapper(assets hostAssets, logger *zap.Logger, opts ...HostMapperOption) *HostMapper {
	h := &HostMapper{
		assets:  assets,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(10), 5),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RunOnce maps guests for every enabled profile in s.
func (h *HostMapper) RunOnce(ctx context.Context, s services.HostMappingSettings) (HostMapResult, error) {
	res := HostMapResult{NextInterval: NextMapInterval(s)}

	profiles := enabledProfiles(s)
	res.Profiles = len(profiles)
	if len(profiles) == 0 {
		return res, nil
	}

	all, err := h.assets.All(ctx)
	if err != nil {
		return res, fmt.Errorf("load assets: %w", err)
	}

	var hosts []*models.Asset
	clientByMAC := make(map[string]*models.Asset, len(all))
	for i := range all {
		a := &all[i]
		if a.IsProxmoxHost && strings.TrimSpace(a.ProxmoxProfile) != "" && strings.TrimSpace(a.ProxmoxNode) != "" {
			hosts = append(hosts, a)
		}
		if mac := unifi.NormalizeMAC(a.MACAddress); mac != "" {
			if _, ok := clientByMAC[mac]; !ok {
				clientByMAC[mac] = a
			}
		}
	}
	if len(hosts) == 0 {
		h.logger.Debug("no proxmox host assets configured")
		return res, nil
	}

	for _, p := range profiles {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if !p.Complete() {
			h.logger.Warn("proxmox profile is incomplete, skipping", zap.String("profile", p.Name))
			continue
		}
		hostByNode := hostsForProfile(hosts, p.Name)
		if len(hostByNode) == 0 {
			h.logger.Debug("no hosts for proxmox profile", zap.String("profile", p.Name))
			continue
		}
		if err := h.mapProfile(ctx, p, hostByNode, clientByMAC, &res); err != nil {
			if ctx.Err() != nil {
				return res, ctx.Err()
			}
			h.logger.Warn("proxmox profile failed",
				zap.String("profile", p.Name),
				zap.Error(err),
			)
		}
	}

	h.logger.Info("host mapping complete",
		zap.Int("profiles", res.Profiles),
		zap.Int("guests", res.Guests),
		zap.Int("matched", res.Matched),
		zap.Int("changed", res.Changed),
		zap.Int("config_errors", res.ConfigErrors),
	)
	return res, nil
}

func (h *HostMapper) mapProfile(
	ctx context.Context,
	p services.ProxmoxProfile,
	hostByNode map[string]*models.Asset,
	clientByMAC map[string]*models.Asset,
	res *HostMapResult,
) error {
	var opts []ProxmoxOption
	if h.httpClient != nil {
		opts = append(opts, WithProxmoxHTTPClient(h.httpClient))
	}
	c := NewProxmoxCollector(p.BaseURL, p.APITokenID, p.APITokenSecret, h.logger.Named("proxmox"), opts...)

	guests, err := c.DiscoverGuests(ctx)
	if err != nil {
		return fmt.Errorf("discover guests: %w", err)
	}
	res.Guests += len(guests)

	for _, ref := range guests {
		host := lookupHost(hostByNode, ref.Node)
		if host == nil {
			continue
		}
		if err := h.limiter.Wait(ctx); err != nil {
			return err
		}
		cfg, err := c.GuestConfig(ctx, ref)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			res.ConfigErrors++
			h.logger.Warn("read guest config",
				zap.String("profile", p.Name),
				zap.String("node", ref.Node),
				zap.Int("vmid", ref.VMID),
				zap.Error(err),
			)
			continue
		}

		for _, mac := range guestMACs(cfg) {
			guest, ok := clientByMAC[mac]
			if !ok || guest.IsInfrastructure || guest.ID == host.ID {
				continue
			}
			res.Matched++
			changed, err := h.assign(ctx, p, guest, host, ref.Type)
			if err != nil {
				return err
			}
			if changed {
				res.Changed++
			}
		}
	}
	return nil
}

// assign points guest at host and updates the in-memory copy so later
// matches in the same pass see the new state.
func (h *HostMapper) assign(ctx context.Context, p services.ProxmoxProfile, guest, host *models.Asset, guestType string) (bool, error) {
	current := strings.TrimSpace(guest.HostAssetID)
	if !p.UpdateExistingHostAssignments && current != "" && current != host.ID {
		return false, nil
	}

	changed := false
	if current != host.ID {
		if err := h.assets.SetHost(ctx, guest.ID, host.ID); err != nil && !errors.Is(err, services.ErrNotFound) {
			return false, err
		}
		guest.HostAssetID = host.ID
		changed = true
		h.logger.Info("guest mapped to host",
			zap.String("guest", guest.Name),
			zap.String("host", host.Name),
		)
	}

	if p.UpdateGuestCategory {
		category := CategoryProxmoxVM
		if guestType == GuestLXC {
			category = CategoryProxmoxContainer
		}
		if guest.Category != category {
			if err := h.assets.SetCategory(ctx, guest.ID, category); err != nil && !errors.Is(err, services.ErrNotFound) {
				return false, err
			}
			guest.Category = category
			changed = true
		}
	}
	return changed, nil
}

// NextMapInterval is the shortest interval among enabled profiles, or the
// default when none are enabled.
func NextMapInterval(s services.HostMappingSettings) time.Duration {
	profiles := enabledProfiles(s)
	if len(profiles) == 0 {
		return defaultMapInterval
	}
	next := maxMapInterval
	for _, p := range profiles {
		if d := normalizeMapInterval(p.IntervalSeconds); d < next {
			next = d
		}
	}
	return next
}

func normalizeMapInterval(seconds int) time.Duration {
	if seconds <= 0 {
		return defaultMapInterval
	}
	d := time.Duration(seconds) * time.Second
	return min(max(d, minMapInterval), maxMapInterval)
}

func enabledProfiles(s services.HostMappingSettings) []services.ProxmoxProfile {
	var out []services.ProxmoxProfile
	for _, p := range s.Profiles {
		if p.Enabled {
			out = append(out, p)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// hostsForProfile indexes the profile's hosts by node key. The first host
// claiming a key keeps it.
func hostsForProfile(hosts []*models.Asset, profile string) map[string]*models.Asset {
	out := make(map[string]*models.Asset)
	for _, host := range hosts {
		if !strings.EqualFold(strings.TrimSpace(host.ProxmoxProfile), strings.TrimSpace(profile)) {
			continue
		}
		for _, key := range nodeKeys(host.ProxmoxNode) {
			if _, ok := out[key]; !ok {
				out[key] = host
			}
		}
	}
	return out
}

// nodeKeys returns the lowercased node name and, for a dotted name, its
// short form.
func nodeKeys(node string) []string {
	full := strings.ToLower(strings.TrimSpace(node))
	if full == "" {
		return nil
	}
	keys := []string{full}
	if i := strings.Index(full, "."); i > 0 {
		keys = append(keys, full[:i])
	}
	return keys
}

func lookupHost(hostByNode map[string]*models.Asset, node string) *models.Asset {
	for _, key := range nodeKeys(node) {
		if host, ok := hostByNode[key]; ok {
			return host
		}
	}
	return nil
}

// guestMACs extracts normalized MAC addresses from the string values of a
// guest configuration, such as "virtio=BC:24:11:AA:BB:CC,bridge=vmbr0".
func guestMACs(cfg map[string]any) []string {
	keys := make([]string, 0, len(cfg))
	for k := range cfg {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	seen := make(map[string]bool)
	var out []string
	for _, k := range keys {
		s, ok := cfg[k].(string)
		if !ok {
			continue
		}
		for _, m := range guestMACPattern.FindAllString(s, -1) {
			mac := unifi.NormalizeMAC(m)
			if mac != "" && !seen[mac] {
				seen[mac] = true
				out = append(out, mac)
			}
		}
	}
	return out
}

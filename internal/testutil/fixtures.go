package testutil

import (
	"time"

	"github.com/google/uuid"

	"github.com/HerbHall/netreach/pkg/models"
)

// NewAsset returns a status-tracked Asset with sensible defaults, suitable
// for test fixtures. Override individual fields with options as needed.
func NewAsset(opts ...func(*models.Asset)) models.Asset {
	a := models.Asset{
		ID:              uuid.New().String(),
		Name:            "test-asset",
		MACAddress:      "00:11:22:33:44:55",
		IPAddress:       "192.168.1.100",
		IsStatusTracked: true,
		MonitorMode:     models.MonitorNormal,
		CreatedAt:       time.Now().UTC(),
	}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

// WithName sets the asset name.
func WithName(name string) func(*models.Asset) {
	return func(a *models.Asset) { a.Name = name }
}

// WithIP sets the asset's IP address.
func WithIP(ip string) func(*models.Asset) {
	return func(a *models.Asset) { a.IPAddress = ip }
}

// WithMAC sets the asset's MAC address.
func WithMAC(mac string) func(*models.Asset) {
	return func(a *models.Asset) { a.MACAddress = mac }
}

// WithOnline sets the recorded online flag.
func WithOnline(online bool) func(*models.Asset) {
	return func(a *models.Asset) { a.IsOnline = online }
}

// WithMonitor sets a monitor mode and optional port.
func WithMonitor(mode models.MonitorMode, port int) func(*models.Asset) {
	return func(a *models.Asset) {
		a.MonitorMode = mode
		if port > 0 {
			a.MonitorPort = &port
		}
	}
}

// WithUntracked clears the status-tracked flag.
func WithUntracked() func(*models.Asset) {
	return func(a *models.Asset) { a.IsStatusTracked = false }
}

// WithRollupAt sets the uptime accounting watermark.
func WithRollupAt(t time.Time) func(*models.Asset) {
	return func(a *models.Asset) { a.LastRollupAt = &t }
}

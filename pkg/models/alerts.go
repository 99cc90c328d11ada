package models

import "time"

// OfflineAlert tracks an asset that went offline. CameOnlineAt is nil while open.
type OfflineAlert struct {
	ID             string     `json:"id"`
	AssetID        string     `json:"asset_id"`
	NameAtTime     string     `json:"name_at_time"`
	IPAtTime       string     `json:"ip_at_time,omitempty"`
	WentOfflineAt  time.Time  `json:"went_offline_at"`
	CameOnlineAt   *time.Time `json:"came_online_at,omitempty"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	Source         string     `json:"source"`
}

// FirmwareAlert tracks a pending firmware upgrade. ResolvedAt is nil while open.
type FirmwareAlert struct {
	ID             string     `json:"id"`
	AssetID        string     `json:"asset_id"`
	NameAtTime     string     `json:"name_at_time"`
	MACAtTime      string     `json:"mac_at_time,omitempty"`
	ModelAtTime    string     `json:"model_at_time,omitempty"`
	CurrentVersion string     `json:"current_version,omitempty"`
	TargetVersion  string     `json:"target_version"`
	DetectedAt     time.Time  `json:"detected_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
	Acknowledged   bool       `json:"acknowledged"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	Source         string     `json:"source"`
}

// DiscoveryAlert reports an online MAC that is not yet a tracked asset.
type DiscoveryAlert struct {
	ID                 string    `json:"id"`
	MAC                string    `json:"mac"`
	Name               string    `json:"name,omitempty"`
	Hostname           string    `json:"hostname,omitempty"`
	IPAddress          string    `json:"ip_address,omitempty"`
	Manufacturer       string    `json:"manufacturer,omitempty"`
	ConnectionType     string    `json:"connection_type,omitempty"`
	UpstreamName       string    `json:"upstream_name,omitempty"`
	UpstreamMAC        string    `json:"upstream_mac,omitempty"`
	UpstreamConnection string    `json:"upstream_connection,omitempty"`
	ConnectionDetail   string    `json:"connection_detail,omitempty"`
	IsOnline           bool      `json:"is_online"`
	DetectedAt         time.Time `json:"detected_at"`
	Acknowledged       bool      `json:"acknowledged"`
	Source             string    `json:"source"`
}

package models

import "time"

// MonitorMode selects how an asset's reachability is determined.
type MonitorMode string

const (
	MonitorNormal      MonitorMode = "normal"
	MonitorPingOnly    MonitorMode = "ping_only"
	MonitorPortOnly    MonitorMode = "port_only"
	MonitorPingAndPort MonitorMode = "ping_and_port"
	MonitorHTTPOnly    MonitorMode = "http_only"
	MonitorPingAndHTTP MonitorMode = "ping_and_http"
)

// IsCustom reports whether the mode bypasses controller signals.
func (m MonitorMode) IsCustom() bool {
	return m != "" && m != MonitorNormal
}

// RequiresPing reports whether the mode includes an ICMP check.
func (m MonitorMode) RequiresPing() bool {
	return m == MonitorPingOnly || m == MonitorPingAndPort || m == MonitorPingAndHTTP
}

// RequiresPort reports whether the mode includes a TCP connect check.
func (m MonitorMode) RequiresPort() bool {
	return m == MonitorPortOnly || m == MonitorPingAndPort
}

// RequiresHTTP reports whether the mode includes an HTTP GET check.
func (m MonitorMode) RequiresHTTP() bool {
	return m == MonitorHTTPOnly || m == MonitorPingAndHTTP
}

// Valid reports whether m is a known mode. The empty string counts as normal.
func (m MonitorMode) Valid() bool {
	switch m {
	case "", MonitorNormal, MonitorPingOnly, MonitorPortOnly, MonitorPingAndPort, MonitorHTTPOnly, MonitorPingAndHTTP:
		return true
	}
	return false
}

// Asset is a network-attached device or client tracked by NetReach.
type Asset struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	Hostname     string `json:"hostname,omitempty"`
	MACAddress   string `json:"mac_address,omitempty"`
	IPAddress    string `json:"ip_address,omitempty"`
	Manufacturer string `json:"manufacturer,omitempty"`
	Model        string `json:"model,omitempty"`
	// Category is the free-text asset type ("Gateway", "Switch", "Proxmox VM").
	Category string `json:"category,omitempty"`
	// IsInfrastructure marks network appliances as opposed to end clients.
	IsInfrastructure bool `json:"is_infrastructure"`

	IsOnline        bool `json:"is_online"`
	IsStatusTracked bool `json:"is_status_tracked"`
	IgnoreOffline   bool `json:"ignore_offline"`

	MonitorMode     MonitorMode `json:"monitor_mode"`
	MonitorPort     *int        `json:"monitor_port,omitempty"`
	MonitorUseHTTPS bool        `json:"monitor_use_https"`
	MonitorHTTPPath string      `json:"monitor_http_path,omitempty"`

	HostAssetID           string `json:"host_asset_id,omitempty"`
	ParentAssetID         string `json:"parent_asset_id,omitempty"`
	ManualUpstreamAssetID string `json:"manual_upstream_asset_id,omitempty"`
	IsTopologyRoot        bool   `json:"is_topology_root"`
	UpstreamName          string `json:"upstream_name,omitempty"`
	UpstreamMAC           string `json:"upstream_mac,omitempty"`
	UpstreamConnection    string `json:"upstream_connection,omitempty"`
	ConnectionType        string `json:"connection_type,omitempty"`
	ConnectionDetail      string `json:"connection_detail,omitempty"`

	IsProxmoxHost  bool   `json:"is_proxmox_host"`
	ProxmoxProfile string `json:"proxmox_profile,omitempty"`
	ProxmoxNode    string `json:"proxmox_node,omitempty"`

	LastSeenAt   *time.Time `json:"last_seen_at,omitempty"`
	LastOnlineAt *time.Time `json:"last_online_at,omitempty"`
	LastRollupAt *time.Time `json:"last_rollup_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
}

// TrackingPort returns the port recorded alongside the IP in address history.
// Only modes that probe a port carry one.
func (a *Asset) TrackingPort() *int {
	if a.MonitorMode.RequiresPort() || a.MonitorMode.RequiresHTTP() {
		return a.MonitorPort
	}
	return nil
}

package models

import "time"

// StatusEvent records one online/offline transition.
type StatusEvent struct {
	ID        string    `json:"id"`
	AssetID   string    `json:"asset_id"`
	IsOnline  bool      `json:"is_online"`
	ChangedAt time.Time `json:"changed_at"`
	Source    string    `json:"source"`
}

// DailyRollup accumulates uptime for one asset on one local calendar day.
// OnlineSeconds never exceeds ObservedSeconds.
type DailyRollup struct {
	AssetID         string    `json:"asset_id"`
	Date            string    `json:"date"` // YYYY-MM-DD, local time
	OnlineSeconds   int64     `json:"online_seconds"`
	ObservedSeconds int64     `json:"observed_seconds"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// IPHistoryInterval is a span during which an asset held an (IP, port) pair.
// LastSeen is nil while the interval is open.
type IPHistoryInterval struct {
	ID        string     `json:"id"`
	AssetID   string     `json:"asset_id"`
	IPAddress string     `json:"ip_address"`
	Port      *int       `json:"port,omitempty"`
	Source    string     `json:"source,omitempty"`
	FirstSeen time.Time  `json:"first_seen"`
	LastSeen  *time.Time `json:"last_seen,omitempty"`
}

// RunLog summarizes one updater pass.
type RunLog struct {
	ID           string     `json:"id"`
	Source       string     `json:"source"`
	StartedAt    time.Time  `json:"started_at"`
	FinishedAt   *time.Time `json:"finished_at,omitempty"`
	DurationMs   int64      `json:"duration_ms"`
	ChangedCount int        `json:"changed_count"`
	Error        string     `json:"error,omitempty"`
}

// ChangeLog records one field changed on an asset during a pass.
type ChangeLog struct {
	RunID     string `json:"run_id"`
	AssetID   string `json:"asset_id"`
	AssetName string `json:"asset_name"`
	IPAddress string `json:"ip_address,omitempty"`
	Field     string `json:"field"`
	OldValue  string `json:"old_value,omitempty"`
	NewValue  string `json:"new_value,omitempty"`
}

// WANInterfaceStatus is the last reported state of a gateway uplink.
type WANInterfaceStatus struct {
	GatewayName   string    `json:"gateway_name,omitempty"`
	GatewayMAC    string    `json:"gateway_mac,omitempty"`
	InterfaceName string    `json:"interface_name"`
	IsUp          *bool     `json:"is_up,omitempty"`
	IPAddress     string    `json:"ip_address,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

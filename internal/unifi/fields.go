package unifi

// field names a logical attribute read from controller payloads.
type field string

const (
	fDeviceName    field = "device.name"
	fDeviceIP      field = "device.ip"
	fDeviceOnline  field = "device.online"
	fUpgradeTarget field = "device.upgrade_to"
	fUplinkMAC     field = "uplink.mac"
	fUplinkPort    field = "uplink.port"
	fWANIP         field = "wan.ip"
	fWANUp         field = "wan.up"
	fUplinkWANIP   field = "uplink.wan_ip"
	fUplinkWANUp   field = "uplink.wan_up"
	fNetworkVLAN   field = "network.vlan"
	fDHCPEnd       field = "network.dhcp_end"
	fKnownName     field = "known.name"
	fActiveName    field = "active.name"
	fHostname      field = "client.hostname"
	fUseFixedIP    field = "known.use_fixed_ip"
	fVendor        field = "hint.vendor"
	fModel         field = "hint.model"
	fOS            field = "hint.os"
	fSwitchPort    field = "active.switch_port"
)

// fieldKeys lists the controller keys consulted for each field, in order.
// The first key present wins, even when its value is an empty string.
// New firmware spellings go here, not in the parsers.
var fieldKeys = map[field][]string{
	fDeviceName:    {"name", "display_name", "adopted_name"},
	fDeviceIP:      {"ip", "ip_address"},
	fDeviceOnline:  {"is_connected", "connected"},
	fUpgradeTarget: {"upgrade_to_firmware", "upgrade_to_version", "required_version"},
	fUplinkMAC:     {"uplink_mac", "remote_mac"},
	fUplinkPort:    {"uplink_remote_port", "remote_port"},
	fWANIP:         {"ip", "ip_address", "ipaddr"},
	fWANUp:         {"up", "is_up", "link_up"},
	fUplinkWANIP:   {"ip", "ip_address"},
	fUplinkWANUp:   {"up", "is_up"},
	fNetworkVLAN:   {"vlan", "vlan_id", "vlan_enabled"},
	fDHCPEnd:       {"dhcpd_stop", "dhcpd_end"},
	fKnownName:     {"name", "display_name", "device_name"},
	fActiveName:    {"name", "display_name"},
	fHostname:      {"hostname", "host"},
	fUseFixedIP:    {"use_fixedip", "use_fixed_ip"},
	fVendor:        {"oui", "vendor"},
	fModel:         {"dev_id", "model"},
	fOS:            {"os_name", "os_class", "os"},
	fSwitchPort:    {"sw_port", "last_uplink_remote_port"},
}

func (r Record) str(f field) string {
	s, _ := r.Str(fieldKeys[f]...)
	return s
}

func (r Record) strict(f field) string {
	s, _ := r.StrStrict(fieldKeys[f]...)
	return s
}

func (r Record) integer(f field) *int {
	if n, ok := r.Int(fieldKeys[f]...); ok {
		return &n
	}
	return nil
}

func (r Record) boolean(f field) *bool {
	if b, ok := r.Bool(fieldKeys[f]...); ok {
		return &b
	}
	return nil
}

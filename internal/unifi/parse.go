package unifi

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Connection describes how a client attaches to the network.
type Connection struct {
	Type         string `json:"connection_type,omitempty"` // "Wired" or "WiFi"
	UpstreamName string `json:"upstream_name,omitempty"`
	UpstreamMAC  string `json:"upstream_mac,omitempty"`
	UpstreamConn string `json:"upstream_connection,omitempty"` // "port 7", "Home @ 5 GHz"
	Detail       string `json:"connection_detail,omitempty"`   // "Office Switch | port 7"
}

// ClientRecord is a merged view of a known and/or active controller client.
type ClientRecord struct {
	MAC          string     `json:"mac"`
	Name         string     `json:"name,omitempty"`
	Hostname     string     `json:"hostname,omitempty"`
	IPAddress    string     `json:"ip_address,omitempty"`
	Manufacturer string     `json:"manufacturer,omitempty"`
	Model        string     `json:"model,omitempty"`
	OS           string     `json:"os,omitempty"`
	IsOnline     bool       `json:"is_online"`
	LastSeen     *time.Time `json:"last_seen,omitempty"`
	Connection
}

// ActiveStatus is the connection summary for a currently associated client.
type ActiveStatus struct {
	ConnectionType   string
	ConnectionDetail string
}

// InfraDevice is a controller-managed appliance (AP, switch, gateway).
type InfraDevice struct {
	MAC        string `json:"mac"`
	Name       string `json:"name,omitempty"`
	IPAddress  string `json:"ip_address,omitempty"`
	Model      string `json:"model,omitempty"`
	Type       string `json:"type,omitempty"`
	Version    string `json:"version,omitempty"`
	Serial     string `json:"serial,omitempty"`
	UplinkMAC  string `json:"uplink_mac,omitempty"`
	UplinkPort *int   `json:"uplink_port,omitempty"`
	Upgradable *bool  `json:"upgradable,omitempty"`
	UpgradeTo  string `json:"upgrade_to,omitempty"`
	IsOnline   bool   `json:"is_online"`
}

// WANInterface is the link state of one gateway uplink.
type WANInterface struct {
	GatewayName   string
	GatewayMAC    string
	InterfaceName string
	IsUp          *bool
	IPAddress     string
}

// Network is a controller network definition.
type Network struct {
	Name      string
	CIDR      string
	Purpose   string
	VLANID    *int
	DHCPStart string
	DHCPEnd   string
	DNS1      string
	DNS2      string
}

// BuildDeviceNameMap maps normalized device MACs to display names.
func BuildDeviceNameMap(devices []Record) map[string]string {
	names := make(map[string]string, len(devices))
	for _, d := range devices {
		mac, _ := d.StrStrict("mac")
		if strings.TrimSpace(mac) == "" {
			continue
		}
		name, ok := d.Str(fieldKeys[fDeviceName]...)
		if !ok {
			name = mac
		}
		names[NormalizeMAC(mac)] = strings.TrimSpace(name)
	}
	return names
}

// ParseInfraDevices extracts infrastructure devices, sorted by name (or MAC).
func ParseInfraDevices(devices []Record) []InfraDevice {
	out := make([]InfraDevice, 0, len(devices))
	for _, d := range devices {
		mac, _ := d.Str("mac")
		if isBlank(mac) {
			continue
		}

		dev := InfraDevice{
			MAC:       NormalizeMAC(mac),
			Name:      d.str(fDeviceName),
			IPAddress: d.str(fDeviceIP),
			UpgradeTo: d.str(fUpgradeTarget),
		}
		dev.Model, _ = d.Str("model")
		dev.Type, _ = d.Str("type")
		dev.Version, _ = d.Str("version")
		dev.Serial, _ = d.Str("serial")
		if b, ok := d.Bool("upgradable"); ok {
			dev.Upgradable = &b
		}

		if online := d.boolean(fDeviceOnline); online != nil {
			dev.IsOnline = *online
		} else {
			state, _ := d.Int("state")
			dev.IsOnline = state == 1
		}

		if uplink, ok := d.Object("uplink"); ok {
			dev.UplinkMAC = uplink.strict(fUplinkMAC)
			dev.UplinkPort = uplink.integer(fUplinkPort)
		}

		out = append(out, dev)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return lessFold(firstNonEmpty(out[i].Name, out[i].MAC), firstNonEmpty(out[j].Name, out[j].MAC))
	})
	return out
}

// ParseWANInterfaces extracts WAN link state from gateway devices.
func ParseWANInterfaces(devices []Record) []WANInterface {
	var out []WANInterface
	for _, d := range devices {
		typ, _ := d.Str("type")
		model, _ := d.Str("model")
		if !isGateway(typ, model) {
			continue
		}

		mac, _ := d.Str("mac")
		gwMAC := ""
		if strings.TrimSpace(mac) != "" {
			gwMAC = NormalizeMAC(mac)
		}
		name := d.str(fDeviceName)

		for _, iface := range []string{"wan1", "wan2", "wan"} {
			wan, ok := d.Object(iface)
			if !ok {
				continue
			}
			ip := wan.str(fWANIP)
			up := wan.boolean(fWANUp)
			if up == nil {
				if status, _ := wan.Str("status"); strings.TrimSpace(status) != "" {
					v := strings.EqualFold(status, "up")
					up = &v
				}
			}
			if strings.TrimSpace(ip) == "" && up == nil {
				continue
			}
			out = append(out, WANInterface{GatewayName: name, GatewayMAC: gwMAC, InterfaceName: iface, IsUp: up, IPAddress: ip})
		}

		uplink, ok := d.Object("uplink")
		if !ok {
			continue
		}
		ip := uplink.str(fUplinkWANIP)
		up := uplink.boolean(fUplinkWANUp)
		if strings.TrimSpace(ip) != "" || up != nil {
			out = append(out, WANInterface{GatewayName: name, GatewayMAC: gwMAC, InterfaceName: "uplink", IsUp: up, IPAddress: ip})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a := firstNonEmpty(out[i].GatewayName, out[i].GatewayMAC)
		b := firstNonEmpty(out[j].GatewayName, out[j].GatewayMAC)
		if !strings.EqualFold(a, b) {
			return lessFold(a, b)
		}
		return lessFold(out[i].InterfaceName, out[j].InterfaceName)
	})
	return out
}

// ParseNetworks extracts network definitions that carry a subnet.
func ParseNetworks(networks []Record) []Network {
	var out []Network
	for _, n := range networks {
		net := Network{VLANID: n.integer(fNetworkVLAN)}
		net.Name, _ = n.Str("name")
		net.Purpose, _ = n.Str("purpose")
		net.CIDR, _ = n.Str("ip_subnet")

		if enabled, _ := n.Bool("dhcpd_enabled"); enabled {
			net.DHCPStart, _ = n.Str("dhcpd_start")
			net.DHCPEnd = n.str(fDHCPEnd)
		}
		if enabled, _ := n.Bool("dhcpd_dns_enabled"); enabled {
			net.DNS1, _ = n.Str("dhcpd_dns_1")
			net.DNS2, _ = n.Str("dhcpd_dns_2")
		} else {
			net.DNS1 = "Auto"
		}

		if strings.TrimSpace(net.CIDR) == "" {
			continue
		}
		net.VLANID = defaultVLAN(net.VLANID, net.Name, net.Purpose)
		out = append(out, net)
	}
	return out
}

// defaultVLAN assigns VLAN 1 to the untagged default network when the
// controller omits it.
func defaultVLAN(vlan *int, name, purpose string) *int {
	if vlan != nil {
		return vlan
	}
	one := 1
	if strings.EqualFold(strings.TrimSpace(purpose), "corporate") {
		return &one
	}
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "lan", "default", "default lan":
		return &one
	}
	return nil
}

// MergeClients overlays active clients onto known clients. Known records
// contribute identity; active records mark the client online and contribute
// connection details. nameMap resolves upstream device names by MAC.
func MergeClients(active, known []Record, nameMap map[string]string, now time.Time) []ClientRecord {
	byMAC := make(map[string]*ClientRecord)
	var order []string

	for _, c := range known {
		mac, _ := c.Str("mac")
		if strings.TrimSpace(mac) == "" {
			continue
		}
		mac = NormalizeMAC(mac)

		client := &ClientRecord{
			MAC:       mac,
			Name:      c.str(fKnownName),
			Hostname:  c.str(fHostname),
			IPAddress: knownClientIP(c),
		}
		if ts, ok := c.UnixTime("last_seen"); ok {
			client.LastSeen = &ts
		}
		client.Manufacturer, client.Model, client.OS = deviceHints(c)

		if _, seen := byMAC[mac]; !seen {
			order = append(order, mac)
		}
		byMAC[mac] = client
	}

	for _, c := range active {
		mac, _ := c.Str("mac")
		if strings.TrimSpace(mac) == "" {
			continue
		}
		mac = NormalizeMAC(mac)

		hostname := c.str(fHostname)
		ip, _ := c.Str("ip")
		mfg, model, os := deviceHints(c)
		conn := parseConnection(c, nameMap)
		seen := now

		existing, ok := byMAC[mac]
		if !ok {
			order = append(order, mac)
			byMAC[mac] = &ClientRecord{
				MAC:          mac,
				Name:         c.str(fActiveName),
				Hostname:     hostname,
				IPAddress:    ip,
				Manufacturer: mfg,
				Model:        model,
				OS:           os,
				IsOnline:     true,
				LastSeen:     &seen,
				Connection:   conn,
			}
			continue
		}

		if isBlank(existing.Name) {
			existing.Name = c.str(fActiveName)
		}
		existing.Hostname = prefer(hostname, existing.Hostname)
		existing.IPAddress = prefer(ip, existing.IPAddress)
		existing.Manufacturer = prefer(mfg, existing.Manufacturer)
		existing.Model = prefer(model, existing.Model)
		existing.OS = prefer(os, existing.OS)
		existing.IsOnline = true
		existing.LastSeen = &seen
		existing.Type = prefer(conn.Type, existing.Type)
		existing.UpstreamName = prefer(conn.UpstreamName, existing.UpstreamName)
		existing.UpstreamMAC = prefer(conn.UpstreamMAC, existing.UpstreamMAC)
		existing.UpstreamConn = prefer(conn.UpstreamConn, existing.UpstreamConn)
		existing.Detail = prefer(conn.Detail, existing.Detail)
	}

	out := make([]ClientRecord, 0, len(order))
	for _, mac := range order {
		out = append(out, *byMAC[mac])
	}
	sort.SliceStable(out, func(i, j int) bool {
		return lessFold(clientSortKey(out[i]), clientSortKey(out[j]))
	})
	return out
}

// ParseActiveStatus maps each active client's MAC to its connection summary.
func ParseActiveStatus(active []Record) map[string]ActiveStatus {
	out := make(map[string]ActiveStatus, len(active))
	for _, c := range active {
		mac, _ := c.Str("mac")
		if strings.TrimSpace(mac) == "" {
			continue
		}
		conn := parseConnection(c, nil)
		out[NormalizeMAC(mac)] = ActiveStatus{ConnectionType: conn.Type, ConnectionDetail: conn.Detail}
	}
	return out
}

func knownClientIP(c Record) string {
	fixed, _ := c.Str("fixed_ip")
	if useFixed := c.boolean(fUseFixedIP); useFixed != nil && *useFixed && !isBlank(fixed) {
		return fixed
	}
	ip, _ := c.Str("ip")
	last, _ := c.Str("last_ip")
	switch {
	case !isBlank(ip):
		return ip
	case !isBlank(last):
		return last
	}
	return fixed
}

func deviceHints(c Record) (vendor, model, os string) {
	return c.strict(fVendor), c.strict(fModel), c.strict(fOS)
}

func parseConnection(c Record, nameMap map[string]string) Connection {
	wired, _ := c.Bool("is_wired")
	uplinkName, _ := c.Str("last_uplink_name")

	if wired {
		swMAC, _ := c.StrStrict("sw_mac")
		conn := Connection{
			Type:         "Wired",
			UpstreamMAC:  swMAC,
			UpstreamName: resolveName(swMAC, uplinkName, nameMap),
		}
		if port := c.integer(fSwitchPort); port != nil {
			conn.UpstreamConn = fmt.Sprintf("port %d", *port)
		}
		conn.Detail = joinDetail(conn.UpstreamName, conn.UpstreamConn)
		return conn
	}

	apMAC, _ := c.StrStrict("ap_mac")
	ssid, _ := c.StrStrict("essid")
	lastRadio, _ := c.Str("last_radio")
	var radioTable *int
	if n, ok := c.Int("radio_table"); ok {
		radioTable = &n
	}

	conn := Connection{
		Type:         "WiFi",
		UpstreamMAC:  apMAC,
		UpstreamName: firstNonEmpty(resolveName(apMAC, uplinkName, nameMap), "AP"),
		UpstreamConn: wifiConnection(ssid, band(radioTable, lastRadio)),
	}
	conn.Detail = joinDetail(conn.UpstreamName, conn.UpstreamConn)
	return conn
}

func resolveName(mac, fallback string, nameMap map[string]string) string {
	if !isBlank(mac) && nameMap != nil {
		if name, ok := nameMap[NormalizeMAC(mac)]; ok {
			return name
		}
	}
	return strings.TrimSpace(fallback)
}

// band maps radio hints to a display band. radio_table is 0, 1, or 2 for
// 2.4, 5, and 6 GHz.
func band(radioTable *int, lastRadio string) string {
	if radioTable != nil {
		switch *radioTable {
		case 0:
			return "2.4 GHz"
		case 1:
			return "5 GHz"
		case 2:
			return "6 GHz"
		}
	}
	radio := strings.ToLower(lastRadio)
	switch {
	case strings.Contains(radio, "6"):
		return "6 GHz"
	case strings.Contains(radio, "5"), strings.Contains(radio, "na"):
		return "5 GHz"
	case strings.Contains(radio, "2"), strings.Contains(radio, "ng"):
		return "2.4 GHz"
	}
	return ""
}

func wifiConnection(ssid, band string) string {
	ssid = strings.TrimSpace(ssid)
	switch {
	case ssid == "":
		return band
	case band == "":
		return ssid
	}
	return ssid + " @ " + band
}

func joinDetail(name, conn string) string {
	parts := make([]string, 0, 2)
	if !isBlank(name) {
		parts = append(parts, strings.TrimSpace(name))
	}
	if !isBlank(conn) {
		parts = append(parts, conn)
	}
	return strings.Join(parts, " | ")
}

func isGateway(typ, model string) bool {
	for _, s := range []string{strings.ToLower(typ), strings.ToLower(model)} {
		for _, marker := range []string{"ugw", "usg", "udm", "uxg"} {
			if strings.Contains(s, marker) {
				return true
			}
		}
	}
	return false
}

func clientSortKey(c ClientRecord) string {
	return firstNonEmpty(c.Name, c.Hostname, c.MAC)
}

func prefer(primary, fallback string) string {
	if !isBlank(primary) {
		return primary
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}

func lessFold(a, b string) bool {
	return strings.ToLower(a) < strings.ToLower(b)
}

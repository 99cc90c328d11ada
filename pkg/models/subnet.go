package models

// Subnet is an IPv4 network managed in the inventory. Network, broadcast and
// usable range are derived from CIDR on demand.
type Subnet struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CIDR        string `json:"cidr"`
	DHCPStart   string `json:"dhcp_start,omitempty"`
	DHCPEnd     string `json:"dhcp_end,omitempty"`
	VLANID      *int   `json:"vlan_id,omitempty"`
	DNS1        string `json:"dns1,omitempty"`
	DNS2        string `json:"dns2,omitempty"`
	Description string `json:"description,omitempty"`
}

// Package netaddr implements the IPv4 and CIDR arithmetic used for subnet
// matching and probe target extraction.
package netaddr

import (
	"fmt"
	"net/netip"
	"regexp"
	"strconv"
	"strings"
)

// ValidationError describes why an address or CIDR was rejected.
type ValidationError struct {
	Input  string
	Reason string
}

func (e *ValidationError) Error() string {
	return e.Reason
}

func invalid(input, reason string) error {
	return &ValidationError{Input: input, Reason: reason}
}

// CIDRInfo is the derived view of an IPv4 network.
type CIDRInfo struct {
	CIDR            string `json:"cidr"` // normalized to network/prefix
	PrefixLength    int    `json:"prefix_length"`
	Network         string `json:"network"`
	Broadcast       string `json:"broadcast"`
	NetworkUint     uint32 `json:"-"`
	BroadcastUint   uint32 `json:"-"`
	FirstUsable     string `json:"first_usable,omitempty"`
	LastUsable      string `json:"last_usable,omitempty"`
	TotalAddresses  int64  `json:"total_addresses"`
	UsableAddresses int64  `json:"usable_addresses"`
}

// Contains reports whether ip lies between network and broadcast inclusive.
func (c CIDRInfo) Contains(ip uint32) bool {
	return ip >= c.NetworkUint && ip <= c.BroadcastUint
}

// ParseIPv4 converts a dotted-quad literal to its big-endian integer value.
func ParseIPv4(s string) (uint32, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, invalid(s, "IP address is empty.")
	}
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return 0, invalid(s, "Invalid IP address format.")
	}
	if !addr.Is4() {
		return 0, invalid(s, "Only IPv4 addresses are supported.")
	}
	return toUint(addr), nil
}

// FormatIPv4 renders v as a dotted quad.
func FormatIPv4(v uint32) string {
	return netip.AddrFrom4([4]byte{byte(v >> 24), byte(v >> 16), byte(v >> 8), byte(v)}).String()
}

// PrefixToMask returns the netmask for a prefix length. Lengths outside 0..32
// saturate.
func PrefixToMask(prefix int) uint32 {
	if prefix <= 0 {
		return 0
	}
	if prefix >= 32 {
		return 0xFFFFFFFF
	}
	return 0xFFFFFFFF << (32 - prefix)
}

// ParseCIDR validates s ("a.b.c.d/N") and derives its network properties.
//
// Usable range: /32 is the single network address, /31 has both addresses
// usable (point-to-point), and anything shorter excludes network and broadcast.
func ParseCIDR(s string) (CIDRInfo, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return CIDRInfo{}, invalid(s, "CIDR is empty.")
	}

	parts := splitNonEmpty(s, '/')
	if len(parts) != 2 {
		return CIDRInfo{}, invalid(s, "CIDR must be in the format x.x.x.x/NN")
	}

	addr, err := netip.ParseAddr(parts[0])
	if err != nil || !addr.Is4() {
		return CIDRInfo{}, invalid(s, "CIDR base address must be a valid IPv4 address.")
	}

	prefix, err := strconv.Atoi(parts[1])
	if err != nil || prefix < 0 || prefix > 32 {
		return CIDRInfo{}, invalid(s, "CIDR prefix length must be an integer from 0 to 32.")
	}

	mask := PrefixToMask(prefix)
	network := toUint(addr) & mask
	broadcast := network | ^mask

	info := CIDRInfo{
		PrefixLength:  prefix,
		Network:       FormatIPv4(network),
		Broadcast:     FormatIPv4(broadcast),
		NetworkUint:   network,
		BroadcastUint: broadcast,
	}
	info.CIDR = fmt.Sprintf("%s/%d", info.Network, prefix)

	if prefix == 32 {
		info.TotalAddresses = 1
	} else {
		info.TotalAddresses = int64(1) << (32 - prefix)
	}

	switch {
	case prefix == 32:
		info.UsableAddresses = 1
		info.FirstUsable = info.Network
		info.LastUsable = info.Network
	case prefix == 31:
		info.UsableAddresses = 2
		info.FirstUsable = info.Network
		info.LastUsable = info.Broadcast
	default:
		info.UsableAddresses = max(0, info.TotalAddresses-2)
		if info.UsableAddresses > 0 {
			info.FirstUsable = FormatIPv4(network + 1)
			info.LastUsable = FormatIPv4(broadcast - 1)
		}
	}

	return info, nil
}

var firstIPv4 = regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)

// ExtractFirstIPv4 returns the first dotted quad found in text, or "".
// Inventory IP fields are free text ("10.0.0.5 (reserved)").
func ExtractFirstIPv4(text string) string {
	if strings.TrimSpace(text) == "" {
		return ""
	}
	return firstIPv4.FindString(text)
}

// FindContaining returns the index of the first CIDR whose range contains ip.
// Invalid entries are skipped.
func FindContaining(ip string, cidrs []string) (int, bool) {
	v, err := ParseIPv4(ip)
	if err != nil {
		return -1, false
	}
	for i, c := range cidrs {
		if strings.TrimSpace(c) == "" {
			continue
		}
		info, err := ParseCIDR(c)
		if err != nil {
			continue
		}
		if info.Contains(v) {
			return i, true
		}
	}
	return -1, false
}

func toUint(addr netip.Addr) uint32 {
	b := addr.As4()
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func splitNonEmpty(s string, sep byte) []string {
	raw := strings.Split(s, string(sep))
	out := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

package recon

import (
	"bufio"
	"bytes"
	_ "embed"
	"strings"
	"sync"
)

//go:embed oui_data.txt
var ouiRawData []byte

// OUITable maps the first three octets of a MAC address to the registered
// vendor. The embedded table is parsed on first use.
type OUITable struct {
	once  sync.Once
	table map[string]string
}

// NewOUITable creates a lookup table over the embedded vendor list.
func NewOUITable() *OUITable {
	return &OUITable{}
}

var defaultOUI = NewOUITable()

// Vendor looks mac up in the shared embedded table. It fits the
// manufacturer lookup hook of the reconcile module.
func Vendor(mac string) string {
	return defaultOUI.Lookup(mac)
}

// Lookup returns the vendor for mac in any common notation
// (AA:BB:CC:DD:EE:FF, AA-BB-CC-DD-EE-FF, AABBCCDDEEFF, aabb.ccdd.eeff), or
// "" when the prefix is unknown or malformed.
func (o *OUITable) Lookup(mac string) string {
	o.once.Do(o.load)

	prefix := ouiPrefix(mac)
	if prefix == "" {
		return ""
	}
	return o.table[prefix]
}

// Len reports the number of known prefixes.
func (o *OUITable) Len() int {
	o.once.Do(o.load)
	return len(o.table)
}

// load parses "PREFIX<TAB>Vendor" lines. Blank lines and lines starting
// with # are skipped.
func (o *OUITable) load() {
	o.table = make(map[string]string, 256)
	scanner := bufio.NewScanner(bytes.NewReader(ouiRawData))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		prefix, vendor, ok := strings.Cut(line, "\t")
		if !ok {
			continue
		}
		prefix = ouiPrefix(prefix)
		vendor = strings.TrimSpace(vendor)
		if prefix != "" && vendor != "" {
			o.table[prefix] = vendor
		}
	}
}

// ouiPrefix returns the first three octets as "AA:BB:CC", or "" when mac
// does not start with six hex digits.
func ouiPrefix(mac string) string {
	var hex []byte
	for i := 0; i < len(mac) && len(hex) < 6; i++ {
		c := mac[i]
		switch {
		case c == ':' || c == '-' || c == '.':
			continue
		case c >= '0' && c <= '9', c >= 'A' && c <= 'F':
			hex = append(hex, c)
		case c >= 'a' && c <= 'f':
			hex = append(hex, c-'a'+'A')
		default:
			return ""
		}
	}
	if len(hex) < 6 {
		return ""
	}
	return string(hex[0:2]) + ":" + string(hex[2:4]) + ":" + string(hex[4:6])
}

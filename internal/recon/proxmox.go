package recon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/version"
)

// ErrProxmoxNotConfigured is returned when a collector lacks a URL or token.
var ErrProxmoxNotConfigured = errors.New("proxmox profile is not configured")

// Guest types reported by the virtualization API.
const (
	GuestQEMU = "qemu"
	GuestLXC  = "lxc"
)

// GuestRef identifies one VM or container on a cluster node.
type GuestRef struct {
	Node string `json:"node"`
	Type string `json:"type"`
	VMID int    `json:"vmid"`
}

// ProxmoxNode is one cluster member.
type ProxmoxNode struct {
	Node   string `json:"node"`
	Status string `json:"status"`
}

// ProxmoxCollector reads guests and their configuration from the Proxmox VE
// API using token authentication.
type ProxmoxCollector struct {
	baseURL string
	tokenID string
	secret  string
	client  *http.Client
	logger  *zap.Logger
}

// ProxmoxOption configures a ProxmoxCollector.
type ProxmoxOption func(*ProxmoxCollector)

// WithProxmoxHTTPClient replaces the default HTTP client.
func WithProxmoxHTTPClient(hc *http.Client) ProxmoxOption {
	return func(c *ProxmoxCollector) { c.client = hc }
}

// NewProxmoxCollector creates a collector for the API at baseURL.
func NewProxmoxCollector(baseURL, tokenID, secret string, logger *zap.Logger, opts ...ProxmoxOption) *ProxmoxCollector {
	c := &ProxmoxCollector{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		tokenID: strings.TrimSpace(tokenID),
		secret:  strings.TrimSpace(secret),
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ClusterGuests lists guests from /cluster/resources. typeFilter is passed
// as the type query parameter when non-empty.
func (c *ProxmoxCollector) ClusterGuests(ctx context.Context, typeFilter string) ([]GuestRef, error) {
	path := "/cluster/resources"
	if typeFilter != "" {
		path += "?type=" + url.QueryEscape(typeFilter)
	}
	var items []map[string]any
	if err := c.get(ctx, path, &items); err != nil {
		return nil, err
	}
	refs := make([]GuestRef, 0, len(items))
	for _, item := range items {
		if ref, ok := guestFromItem(item, ""); ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// Nodes lists cluster members.
func (c *ProxmoxCollector) Nodes(ctx context.Context) ([]ProxmoxNode, error) {
	var nodes []ProxmoxNode
	if err := c.get(ctx, "/nodes", &nodes); err != nil {
		return nil, err
	}
	return nodes, nil
}

// NodeGuests lists guests of one type on a node.
func (c *ProxmoxCollector) NodeGuests(ctx context.Context, node, guestType string) ([]GuestRef, error) {
	var items []map[string]any
	path := "/nodes/" + url.PathEscape(node) + "/" + guestType
	if err := c.get(ctx, path, &items); err != nil {
		return nil, err
	}
	refs := make([]GuestRef, 0, len(items))
	for _, item := range items {
		if _, ok := item["node"]; !ok {
			item["node"] = node
		}
		if ref, ok := guestFromItem(item, guestType); ok {
			refs = append(refs, ref)
		}
	}
	return refs, nil
}

// DiscoverGuests finds every VM and container. It asks the cluster
// resource index for VMs first, falls back to the unfiltered index, and
// finally walks each node. The result holds no duplicates.
func (c *ProxmoxCollector) DiscoverGuests(ctx context.Context) ([]GuestRef, error) {
	refs, err := c.ClusterGuests(ctx, "vm")
	if err != nil {
		return nil, err
	}
	if len(refs) == 0 {
		if refs, err = c.ClusterGuests(ctx, ""); err != nil {
			return nil, err
		}
	}
	if len(refs) == 0 {
		nodes, err := c.Nodes(ctx)
		if err != nil {
			return nil, err
		}
		for _, n := range nodes {
			if strings.TrimSpace(n.Node) == "" {
				continue
			}
			for _, typ := range []string{GuestQEMU, GuestLXC} {
				guests, err := c.NodeGuests(ctx, n.Node, typ)
				if err != nil {
					return nil, err
				}
				refs = append(refs, guests...)
			}
		}
	}
	return distinctGuests(refs), nil
}

// GuestConfig returns the raw configuration of a guest.
func (c *ProxmoxCollector) GuestConfig(ctx context.Context, ref GuestRef) (map[string]any, error) {
	var cfg map[string]any
	path := fmt.Sprintf("/nodes/%s/%s/%d/config", url.PathEscape(ref.Node), ref.Type, ref.VMID)
	if err := c.get(ctx, path, &cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// get fetches path under /api2/json and decodes the "data" member into out.
func (c *ProxmoxCollector) get(ctx context.Context, path string, out any) error {
	if c.baseURL == "" || c.tokenID == "" || c.secret == "" {
		return ErrProxmoxNotConfigured
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api2/json"+path, http.NoBody)
	if err != nil {
		return fmt.Errorf("build proxmox request: %w", err)
	}
	req.Header.Set("Authorization", "PVEAPIToken="+c.tokenID+"="+c.secret)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("proxmox %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("proxmox %s failed: %s: %s", path, resp.Status, strings.TrimSpace(string(body)))
	}

	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("decode proxmox %s: %w", path, err)
	}
	if len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		return nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		return fmt.Errorf("decode proxmox %s data: %w", path, err)
	}
	c.logger.Debug("proxmox request", zap.String("path", path))
	return nil
}

// guestFromItem accepts only qemu and lxc entries that name a node and a
// VM id. fallbackType is used when the item carries no type.
func guestFromItem(item map[string]any, fallbackType string) (GuestRef, bool) {
	typ, _ := item["type"].(string)
	if typ == "" {
		typ = fallbackType
	}
	typ = strings.ToLower(strings.TrimSpace(typ))
	if typ != GuestQEMU && typ != GuestLXC {
		return GuestRef{}, false
	}
	node, _ := item["node"].(string)
	node = strings.TrimSpace(node)
	if node == "" {
		return GuestRef{}, false
	}
	vmid, ok := vmidOf(item["vmid"])
	if !ok {
		return GuestRef{}, false
	}
	return GuestRef{Node: node, Type: typ, VMID: vmid}, true
}

func vmidOf(v any) (int, bool) {
	switch x := v.(type) {
	case float64:
		return int(x), x > 0
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(x))
		return n, err == nil && n > 0
	default:
		return 0, false
	}
}

func distinctGuests(refs []GuestRef) []GuestRef {
	seen := make(map[GuestRef]bool, len(refs))
	out := make([]GuestRef, 0, len(refs))
	for _, r := range refs {
		if seen[r] {
			continue
		}
		seen[r] = true
		out = append(out, r)
	}
	return out
}

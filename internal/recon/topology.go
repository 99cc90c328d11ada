package recon

import (
	"sort"
	"strings"

	"github.com/HerbHall/netreach/pkg/models"
)

// UnassignedLabel names the bucket that collects assets with no known
// upstream.
const UnassignedLabel = "Unassigned / Unknown"

// Node is one asset placed in the topology.
type Node struct {
	AssetID      string `json:"asset_id" yaml:"asset_id"`
	Name         string `json:"name" yaml:"name"`
	IPAddress    string `json:"ip_address,omitempty" yaml:"ip_address,omitempty"`
	MACAddress   string `json:"mac_address,omitempty" yaml:"mac_address,omitempty"`
	Category     string `json:"category,omitempty" yaml:"category,omitempty"`
	Status       string `json:"status" yaml:"status"`
	ParentID     string `json:"parent_id,omitempty" yaml:"parent_id,omitempty"`
	UpstreamName string `json:"upstream_name,omitempty" yaml:"upstream_name,omitempty"`
	UpstreamConn string `json:"upstream_connection,omitempty" yaml:"upstream_connection,omitempty"`
	Unassigned   bool   `json:"unassigned,omitempty" yaml:"unassigned,omitempty"`
}

// Link is one parent/child edge.
type Link struct {
	ParentID   string `json:"parent_id" yaml:"parent_id"`
	ParentName string `json:"parent_name" yaml:"parent_name"`
	ChildID    string `json:"child_id" yaml:"child_id"`
	ChildName  string `json:"child_name" yaml:"child_name"`
	Connection string `json:"connection,omitempty" yaml:"connection,omitempty"`
}

// TreeNode is a Node with its children, for nested exports.
type TreeNode struct {
	Node     `json:",inline" yaml:",inline"`
	Children []TreeNode `json:"children,omitempty" yaml:"children,omitempty"`
}

// Tree is the nested form of a Topology.
type Tree struct {
	Roots      []TreeNode `json:"roots" yaml:"roots"`
	Unassigned []TreeNode `json:"unassigned" yaml:"unassigned"`
}

// Topology is the resolved parent/child structure of the asset inventory.
type Topology struct {
	nodes      map[string]*Node
	order      []string
	children   map[string][]string
	roots      []string
	unassigned []string
}

// ResolveTopology places every asset under its upstream. A parent is chosen
// by the first rule that yields a known asset other than the asset itself:
//
//  1. topology roots have no parent
//  2. host asset
//  3. manually set upstream
//  4. recorded parent
//  5. upstream name, matched case-insensitively
//  6. name taken from the connection detail
//  7. upstream MAC, compared on alphanumerics only
func ResolveTopology(assets []models.Asset) *Topology {
	t := &Topology{
		nodes:    make(map[string]*Node, len(assets)),
		children: make(map[string][]string),
	}

	byID := make(map[string]*models.Asset, len(assets))
	byName := make(map[string]*models.Asset, len(assets))
	byMAC := make(map[string]*models.Asset, len(assets))
	for i := range assets {
		a := &assets[i]
		byID[a.ID] = a
		if key := nameKey(a.Name); key != "" {
			if _, ok := byName[key]; !ok {
				byName[key] = a
			}
		}
		if key := macKey(a.MACAddress); key != "" {
			if _, ok := byMAC[key]; !ok {
				byMAC[key] = a
			}
		}
	}

	for i := range assets {
		a := &assets[i]
		if _, dup := t.nodes[a.ID]; dup {
			continue
		}
		parent := resolveParent(a, byID, byName, byMAC)

		n := &Node{
			AssetID:    a.ID,
			Name:       a.Name,
			IPAddress:  a.IPAddress,
			MACAddress: a.MACAddress,
			Category:   a.Category,
			Status:     statusLabel(a),
		}
		if parent != nil {
			n.ParentID = parent.ID
			n.UpstreamName = parent.Name
		} else {
			n.UpstreamName = firstNonBlank(a.UpstreamName, nameFromDetail(a.ConnectionDetail))
		}
		if strings.TrimSpace(a.HostAssetID) != "" {
			n.UpstreamConn = "Hosted"
		} else {
			n.UpstreamConn = firstNonBlank(a.UpstreamConnection, a.ConnectionDetail)
		}
		n.Unassigned = parent == nil &&
			strings.TrimSpace(n.UpstreamName) == "" &&
			strings.TrimSpace(n.UpstreamConn) == "" &&
			!a.IsTopologyRoot &&
			!isGateway(a)

		t.nodes[a.ID] = n
		t.order = append(t.order, a.ID)
	}

	for _, id := range t.order {
		n := t.nodes[id]
		switch {
		case n.ParentID != "":
			t.children[n.ParentID] = append(t.children[n.ParentID], id)
		case n.Unassigned:
			t.unassigned = append(t.unassigned, id)
		default:
			t.roots = append(t.roots, id)
		}
	}

	for parent := range t.children {
		t.sortByName(t.children[parent])
	}
	t.sortByName(t.roots)
	t.sortByName(t.unassigned)
	return t
}

func resolveParent(a *models.Asset, byID, byName, byMAC map[string]*models.Asset) *models.Asset {
	if a.IsTopologyRoot {
		return nil
	}
	for _, id := range []string{a.HostAssetID, a.ManualUpstreamAssetID, a.ParentAssetID} {
		if p := pick(a, byID[strings.TrimSpace(id)]); p != nil {
			return p
		}
	}
	if p := pick(a, byName[nameKey(a.UpstreamName)]); p != nil {
		return p
	}
	if p := pick(a, byName[nameKey(nameFromDetail(a.ConnectionDetail))]); p != nil {
		return p
	}
	return pick(a, byMAC[macKey(a.UpstreamMAC)])
}

// pick rejects a missing candidate and self-references.
func pick(a, candidate *models.Asset) *models.Asset {
	if candidate == nil || candidate.ID == a.ID {
		return nil
	}
	return candidate
}

// Node returns the resolved node for an asset.
func (t *Topology) Node(id string) (Node, bool) {
	n, ok := t.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// Roots returns the top-level asset IDs sorted by name.
func (t *Topology) Roots() []string { return append([]string(nil), t.roots...) }

// Children returns the direct children of id sorted by name.
func (t *Topology) Children(id string) []string {
	return append([]string(nil), t.children[id]...)
}

// Walk visits the topology depth-first: each root with its subtree, then
// the unassigned bucket at depth 1. Assets caught in a parent cycle are
// never reached from a root and are visited after the unassigned ones.
// Each asset is visited exactly once.
func (t *Topology) Walk(fn func(n Node, depth int)) {
	visited := make(map[string]bool, len(t.nodes))
	var visit func(id string, depth int)
	visit = func(id string, depth int) {
		if visited[id] {
			return
		}
		visited[id] = true
		fn(*t.nodes[id], depth)
		for _, child := range t.children[id] {
			visit(child, depth+1)
		}
	}

	for _, id := range t.roots {
		visit(id, 0)
	}
	for _, id := range t.unassigned {
		visit(id, 1)
	}
	for _, id := range t.detached(visited) {
		visit(id, 1)
	}
}

// Links returns every parent/child edge in inventory order.
func (t *Topology) Links() []Link {
	links := make([]Link, 0, len(t.order))
	for _, id := range t.order {
		n := t.nodes[id]
		if n.ParentID == "" {
			continue
		}
		links = append(links, Link{
			ParentID:   n.ParentID,
			ParentName: t.nodes[n.ParentID].Name,
			ChildID:    id,
			ChildName:  n.Name,
			Connection: n.UpstreamConn,
		})
	}
	return links
}

// Tree returns the topology as nested nodes.
func (t *Topology) Tree() Tree {
	visited := make(map[string]bool, len(t.nodes))
	var build func(id string) (TreeNode, bool)
	build = func(id string) (TreeNode, bool) {
		if visited[id] {
			return TreeNode{}, false
		}
		visited[id] = true
		tn := TreeNode{Node: *t.nodes[id]}
		for _, child := range t.children[id] {
			if c, ok := build(child); ok {
				tn.Children = append(tn.Children, c)
			}
		}
		return tn, true
	}

	tree := Tree{Roots: []TreeNode{}, Unassigned: []TreeNode{}}
	for _, id := range t.roots {
		if tn, ok := build(id); ok {
			tree.Roots = append(tree.Roots, tn)
		}
	}
	for _, id := range t.unassigned {
		if tn, ok := build(id); ok {
			tree.Unassigned = append(tree.Unassigned, tn)
		}
	}
	for _, id := range t.detached(visited) {
		if tn, ok := build(id); ok {
			tree.Unassigned = append(tree.Unassigned, tn)
		}
	}
	return tree
}

// detached returns unvisited IDs in name order.
func (t *Topology) detached(visited map[string]bool) []string {
	var ids []string
	for _, id := range t.order {
		if !visited[id] {
			ids = append(ids, id)
		}
	}
	t.sortByName(ids)
	return ids
}

func (t *Topology) sortByName(ids []string) {
	sort.SliceStable(ids, func(i, j int) bool {
		a, b := strings.ToLower(t.nodes[ids[i]].Name), strings.ToLower(t.nodes[ids[j]].Name)
		if a != b {
			return a < b
		}
		return ids[i] < ids[j]
	})
}

// nameFromDetail extracts the upstream device name from a connection
// detail such as "Switch-A | Port 3" or "Switch-A (Port 3)".
func nameFromDetail(detail string) string {
	detail = strings.TrimSpace(detail)
	if detail == "" {
		return ""
	}
	if i := strings.Index(detail, "|"); i > 0 {
		return strings.TrimSpace(detail[:i])
	}
	if i := strings.Index(detail, " ("); i > 0 {
		return strings.TrimSpace(detail[:i])
	}
	return ""
}

func isGateway(a *models.Asset) bool {
	for _, s := range []string{a.Category, a.Name} {
		s = strings.ToLower(s)
		if strings.Contains(s, "gateway") || strings.Contains(s, "router") {
			return true
		}
	}
	return false
}

func statusLabel(a *models.Asset) string {
	switch {
	case !a.IsStatusTracked:
		return "Not Tracked"
	case a.IsOnline:
		return "Online"
	default:
		return "Offline"
	}
}

func nameKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// macKey keeps only letters and digits, uppercased.
func macKey(mac string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(mac) {
		if (r >= '0' && r <= '9') || (r >= 'A' && r <= 'Z') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func firstNonBlank(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

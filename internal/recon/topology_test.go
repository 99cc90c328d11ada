package recon

import (
	"fmt"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/HerbHall/netreach/pkg/models"
)

func sampleInventory() []models.Asset {
	return []models.Asset{
		{ID: "gw", Name: "Gateway", Category: "Gateway", IsStatusTracked: true, IsOnline: true},
		{ID: "sw", Name: "Switch-A", MACAddress: "AA:BB:CC:00:00:02", UpstreamName: " gateway "},
		{ID: "pve", Name: "pve-01", ConnectionDetail: "Switch-A | Port 3"},
		{ID: "vm", Name: "vm-web", HostAssetID: "pve", ParentAssetID: "sw"},
		{ID: "ap", Name: "AP-Lobby", UpstreamMAC: "aa-bb-cc-00-00-02"},
		{ID: "prn", Name: "printer", ManualUpstreamAssetID: "ap", ParentAssetID: "sw"},
		{ID: "modem", Name: "Modem", IsTopologyRoot: true, ParentAssetID: "gw"},
		{ID: "laptop", Name: "laptop"},
	}
}

func walkOrder(topo *Topology) []string {
	var out []string
	topo.Walk(func(n Node, depth int) {
		out = append(out, fmt.Sprintf("%s@%d", n.Name, depth))
	})
	return out
}

func TestResolveTopology_ParentPrecedence(t *testing.T) {
	topo := ResolveTopology(sampleInventory())

	tests := []struct {
		id, wantParent, wantUpstream, wantConn string
	}{
		{"gw", "", "", ""},
		{"sw", "gw", "Gateway", ""},
		{"pve", "sw", "Switch-A", "Switch-A | Port 3"},
		{"vm", "pve", "pve-01", "Hosted"},
		{"ap", "sw", "Switch-A", ""},
		{"prn", "ap", "AP-Lobby", ""},
		{"modem", "", "", ""},
		{"laptop", "", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			n, ok := topo.Node(tt.id)
			if !ok {
				t.Fatalf("Node(%q) not found", tt.id)
			}
			if n.ParentID != tt.wantParent {
				t.Errorf("ParentID = %q, want %q", n.ParentID, tt.wantParent)
			}
			if n.UpstreamName != tt.wantUpstream {
				t.Errorf("UpstreamName = %q, want %q", n.UpstreamName, tt.wantUpstream)
			}
			if n.UpstreamConn != tt.wantConn {
				t.Errorf("UpstreamConn = %q, want %q", n.UpstreamConn, tt.wantConn)
			}
		})
	}
}

func TestResolveTopology_WalkOrder(t *testing.T) {
	got := walkOrder(ResolveTopology(sampleInventory()))
	want := []string{
		"Gateway@0", "Switch-A@1", "AP-Lobby@2", "printer@3", "pve-01@2", "vm-web@3",
		"Modem@0",
		"laptop@1",
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("walk order:\n got  %v\n want %v", got, want)
	}
}

func TestResolveTopology_Unassigned(t *testing.T) {
	topo := ResolveTopology([]models.Asset{
		{ID: "r", Name: "Edge Router"},
		{ID: "a", Name: "lonely"},
		{ID: "b", Name: "described", UpstreamConnection: "Wi-Fi"},
		{ID: "c", Name: "core", Category: "router"},
	})

	want := map[string]bool{"r": false, "a": true, "b": false, "c": false}
	for id, unassigned := range want {
		n, _ := topo.Node(id)
		if n.Unassigned != unassigned {
			t.Errorf("Node(%q).Unassigned = %v, want %v", id, n.Unassigned, unassigned)
		}
	}
	roots := topo.Roots()
	if len(roots) != 3 || roots[0] != "c" || roots[1] != "b" || roots[2] != "r" {
		t.Errorf("Roots() = %v, want [c b r]", roots)
	}
}

func TestResolveTopology_CycleVisitedOnce(t *testing.T) {
	topo := ResolveTopology([]models.Asset{
		{ID: "x", Name: "x-switch", ParentAssetID: "y"},
		{ID: "y", Name: "y-switch", ParentAssetID: "x"},
		{ID: "r", Name: "router"},
	})

	got := walkOrder(topo)
	want := []string{"router@0", "x-switch@1", "y-switch@2"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("walk order = %v, want %v", got, want)
	}

	tree := topo.Tree()
	if len(tree.Unassigned) != 1 || tree.Unassigned[0].AssetID != "x" {
		t.Fatalf("Unassigned = %+v, want x with y beneath", tree.Unassigned)
	}
	if len(tree.Unassigned[0].Children) != 1 || len(tree.Unassigned[0].Children[0].Children) != 0 {
		t.Errorf("cycle expanded more than once: %+v", tree.Unassigned[0])
	}
}

func TestResolveTopology_SelfReferenceIgnored(t *testing.T) {
	topo := ResolveTopology([]models.Asset{
		{ID: "a", Name: "loop", ParentAssetID: "a", UpstreamName: "loop"},
	})
	n, _ := topo.Node("a")
	if n.ParentID != "" {
		t.Errorf("ParentID = %q, want empty", n.ParentID)
	}
	if got := walkOrder(topo); len(got) != 1 {
		t.Errorf("walk visited %v, want one node", got)
	}
}

func TestResolveTopology_FirstNameWins(t *testing.T) {
	topo := ResolveTopology([]models.Asset{
		{ID: "s1", Name: "switch", Category: "gateway"},
		{ID: "s2", Name: "Switch", Category: "gateway"},
		{ID: "c", Name: "client", UpstreamName: "SWITCH"},
	})
	n, _ := topo.Node("c")
	if n.ParentID != "s1" {
		t.Errorf("ParentID = %q, want s1", n.ParentID)
	}
}

func TestTopology_Links(t *testing.T) {
	links := ResolveTopology(sampleInventory()).Links()
	if len(links) != 5 {
		t.Fatalf("got %d links, want 5", len(links))
	}
	first := links[0]
	if first.ChildID != "sw" || first.ParentID != "gw" || first.ParentName != "Gateway" {
		t.Errorf("links[0] = %+v, want sw under gw", first)
	}
	if links[2].ChildID != "vm" || links[2].Connection != "Hosted" {
		t.Errorf("links[2] = %+v, want hosted vm", links[2])
	}
}

func TestTopology_TreeYAML(t *testing.T) {
	tree := ResolveTopology(sampleInventory()).Tree()

	data, err := yaml.Marshal(tree)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), "name: Gateway") {
		t.Errorf("yaml missing gateway node:\n%s", data)
	}

	var back Tree
	if err := yaml.Unmarshal(data, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back.Roots) != 2 || back.Roots[0].Name != "Gateway" {
		t.Fatalf("roots = %+v", back.Roots)
	}
	sw := back.Roots[0].Children[0]
	if sw.Name != "Switch-A" || len(sw.Children) != 2 {
		t.Errorf("switch node = %+v, want two children", sw)
	}
	if len(back.Unassigned) != 1 || back.Unassigned[0].Name != "laptop" {
		t.Errorf("unassigned = %+v, want laptop", back.Unassigned)
	}
}

func TestNameFromDetail(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Switch-A | Port 3", "Switch-A"},
		{"Switch-A (Port 3)", "Switch-A"},
		{"| Port 3", ""},
		{"Port 3", ""},
		{"", ""},
	}
	for _, tt := range tests {
		if got := nameFromDetail(tt.in); got != tt.want {
			t.Errorf("nameFromDetail(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

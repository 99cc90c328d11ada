package recon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"go.uber.org/zap"
)

func newTestProxmoxServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func writeData(t *testing.T, w http.ResponseWriter, data any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(map[string]any{"data": data}); err != nil {
		t.Errorf("encode response: %v", err)
	}
}

func TestProxmoxCollector_ClusterGuests(t *testing.T) {
	tests := []struct {
		name       string
		response   any
		statusCode int
		wantCount  int
		wantErr    bool
	}{
		{
			name: "qemu and lxc with noise",
			response: []map[string]any{
				{"type": "qemu", "node": "pve1", "vmid": 100},
				{"type": "lxc", "node": "pve2", "vmid": "101"},
				{"type": "storage", "node": "pve1", "storage": "local"},
				{"type": "qemu", "vmid": 102},
				{"type": "qemu", "node": "pve1"},
			},
			statusCode: http.StatusOK,
			wantCount:  2,
		},
		{
			name:       "empty cluster",
			response:   []map[string]any{},
			statusCode: http.StatusOK,
		},
		{
			name:       "API error",
			response:   "Unauthorized",
			statusCode: http.StatusUnauthorized,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := newTestProxmoxServer(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api2/json/cluster/resources" {
					http.NotFound(w, r)
					return
				}
				if got := r.Header.Get("Authorization"); got != "PVEAPIToken=test@pve!token=secret" {
					t.Errorf("Authorization = %q", got)
				}
				if got := r.URL.Query().Get("type"); got != "vm" {
					t.Errorf("type = %q, want vm", got)
				}
				w.WriteHeader(tt.statusCode)
				writeData(t, w, tt.response)
			})

			c := NewProxmoxCollector(srv.URL+"/", "test@pve!token", "secret", zap.NewNop())
			refs, err := c.ClusterGuests(context.Background(), "vm")

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(refs) != tt.wantCount {
				t.Fatalf("got %d guests, want %d", len(refs), tt.wantCount)
			}
			if tt.wantCount > 0 {
				want := GuestRef{Node: "pve2", Type: GuestLXC, VMID: 101}
				if refs[1] != want {
					t.Errorf("refs[1] = %+v, want %+v", refs[1], want)
				}
			}
		})
	}
}

func TestProxmoxCollector_DiscoverFallsBackToNodes(t *testing.T) {
	srv := newTestProxmoxServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api2/json/cluster/resources":
			writeData(t, w, []any{})
		case "/api2/json/nodes":
			writeData(t, w, []map[string]any{{"node": "pve1", "status": "online"}, {"node": ""}})
		case "/api2/json/nodes/pve1/qemu":
			writeData(t, w, []map[string]any{{"vmid": 100}, {"vmid": 100}})
		case "/api2/json/nodes/pve1/lxc":
			writeData(t, w, []map[string]any{{"vmid": "200"}})
		default:
			http.NotFound(w, r)
		}
	})

	c := NewProxmoxCollector(srv.URL, "id", "secret", zap.NewNop())
	refs, err := c.DiscoverGuests(context.Background())
	if err != nil {
		t.Fatalf("DiscoverGuests: %v", err)
	}
	want := []GuestRef{
		{Node: "pve1", Type: GuestQEMU, VMID: 100},
		{Node: "pve1", Type: GuestLXC, VMID: 200},
	}
	if len(refs) != len(want) {
		t.Fatalf("got %+v, want %+v", refs, want)
	}
	for i := range want {
		if refs[i] != want[i] {
			t.Errorf("refs[%d] = %+v, want %+v", i, refs[i], want[i])
		}
	}
}

func TestProxmoxCollector_GuestConfig(t *testing.T) {
	srv := newTestProxmoxServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api2/json/nodes/pve1/qemu/100/config" {
			http.NotFound(w, r)
			return
		}
		writeData(t, w, map[string]any{
			"name": "web",
			"net0": "virtio=BC:24:11:AA:BB:01,bridge=vmbr0",
			"net1": "e1000=bc-24-11-aa-bb-02,bridge=vmbr1",
			"cores": 2,
		})
	})

	c := NewProxmoxCollector(srv.URL, "id", "secret", zap.NewNop())
	cfg, err := c.GuestConfig(context.Background(), GuestRef{Node: "pve1", Type: GuestQEMU, VMID: 100})
	if err != nil {
		t.Fatalf("GuestConfig: %v", err)
	}
	macs := guestMACs(cfg)
	if len(macs) != 2 || macs[0] != "bc:24:11:aa:bb:01" || macs[1] != "bc:24:11:aa:bb:02" {
		t.Errorf("guestMACs = %v", macs)
	}
}

func TestProxmoxCollector_NotConfigured(t *testing.T) {
	tests := []struct {
		name, url, id, secret string
	}{
		{"missing url", "", "id", "secret"},
		{"missing token", "http://pve.local:8006", "", "secret"},
		{"missing secret", "http://pve.local:8006", "id", "  "},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewProxmoxCollector(tt.url, tt.id, tt.secret, zap.NewNop())
			_, err := c.Nodes(context.Background())
			if !errors.Is(err, ErrProxmoxNotConfigured) {
				t.Errorf("err = %v, want ErrProxmoxNotConfigured", err)
			}
		})
	}
}

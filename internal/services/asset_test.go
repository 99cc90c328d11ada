package services_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/HerbHall/netreach/internal/services"
	"github.com/HerbHall/netreach/internal/testutil"
	"github.com/HerbHall/netreach/pkg/models"
)

func newAssetRepo(t *testing.T) *services.SQLiteAssetRepository {
	t.Helper()
	store := testutil.NewStore(t)
	repo, err := services.NewSQLiteAssetRepository(context.Background(), store)
	if err != nil {
		t.Fatalf("NewSQLiteAssetRepository: %v", err)
	}
	return repo
}

func TestSQLiteAssetRepository_CreateAndGet(t *testing.T) {
	repo := newAssetRepo(t)
	ctx := context.Background()

	seen := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := testutil.NewAsset(
		testutil.WithName("server-01"),
		testutil.WithIP("10.0.0.1"),
		testutil.WithMAC("AA:BB:CC:DD:EE:FF"),
		testutil.WithMonitor(models.MonitorPingAndPort, 22),
	)
	a.LastSeenAt = &seen

	if err := repo.Create(ctx, &a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	got, err := repo.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Name != "server-01" {
		t.Errorf("Name = %q, want %q", got.Name, "server-01")
	}
	if got.MACAddress != "AA:BB:CC:DD:EE:FF" {
		t.Errorf("MACAddress = %q, want %q", got.MACAddress, "AA:BB:CC:DD:EE:FF")
	}
	if got.MonitorMode != models.MonitorPingAndPort {
		t.Errorf("MonitorMode = %q, want %q", got.MonitorMode, models.MonitorPingAndPort)
	}
	if got.MonitorPort == nil || *got.MonitorPort != 22 {
		t.Errorf("MonitorPort = %v, want 22", got.MonitorPort)
	}
	if got.LastSeenAt == nil || !got.LastSeenAt.Equal(seen) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, seen)
	}
	if got.LastOnlineAt != nil {
		t.Errorf("LastOnlineAt = %v, want nil", got.LastOnlineAt)
	}
	if !got.IsStatusTracked {
		t.Error("IsStatusTracked = false, want true")
	}
}

func TestSQLiteAssetRepository_CreateGeneratesID(t *testing.T) {
	repo := newAssetRepo(t)

	a := testutil.NewAsset()
	a.ID = ""
	a.MonitorMode = ""
	if err := repo.Create(context.Background(), &a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == "" {
		t.Error("Create did not generate an ID")
	}
	if a.MonitorMode != models.MonitorNormal {
		t.Errorf("MonitorMode = %q, want %q", a.MonitorMode, models.MonitorNormal)
	}
}

func TestSQLiteAssetRepository_NotFound(t *testing.T) {
	repo := newAssetRepo(t)
	ctx := context.Background()

	if _, err := repo.Get(ctx, "nonexistent-id"); err != services.ErrNotFound {
		t.Errorf("Get nonexistent = %v, want ErrNotFound", err)
	}
	a := testutil.NewAsset()
	if err := repo.Update(ctx, &a); err != services.ErrNotFound {
		t.Errorf("Update nonexistent = %v, want ErrNotFound", err)
	}
	if err := repo.Delete(ctx, "nonexistent-id"); err != services.ErrNotFound {
		t.Errorf("Delete nonexistent = %v, want ErrNotFound", err)
	}
	if err := repo.SetHost(ctx, "nonexistent-id", "host"); err != services.ErrNotFound {
		t.Errorf("SetHost nonexistent = %v, want ErrNotFound", err)
	}
}

func TestSQLiteAssetRepository_UpdateAndSetHost(t *testing.T) {
	repo := newAssetRepo(t)
	ctx := context.Background()

	host := testutil.NewAsset(testutil.WithName("pve-01"))
	guest := testutil.NewAsset(testutil.WithName("old-name"), testutil.WithMAC("00:00:00:00:00:02"))
	for _, a := range []*models.Asset{&host, &guest} {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	guest.Name = "new-name"
	guest.IsOnline = true
	guest.MonitorPort = nil
	if err := repo.Update(ctx, &guest); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if err := repo.SetHost(ctx, guest.ID, host.ID); err != nil {
		t.Fatalf("SetHost: %v", err)
	}
	if err := repo.SetCategory(ctx, guest.ID, "Proxmox VM"); err != nil {
		t.Fatalf("SetCategory: %v", err)
	}

	got, err := repo.Get(ctx, guest.ID)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got.Name != "new-name" {
		t.Errorf("Name = %q, want %q", got.Name, "new-name")
	}
	if !got.IsOnline {
		t.Error("IsOnline = false, want true")
	}
	if got.HostAssetID != host.ID {
		t.Errorf("HostAssetID = %q, want %q", got.HostAssetID, host.ID)
	}
	if got.Category != "Proxmox VM" {
		t.Errorf("Category = %q, want %q", got.Category, "Proxmox VM")
	}
}

func TestSQLiteAssetRepository_ListFilters(t *testing.T) {
	repo := newAssetRepo(t)
	ctx := context.Background()

	specs := []struct {
		name, ip, category string
		online             bool
	}{
		{"web-server", "10.0.0.1", "Server", true},
		{"db-server", "10.0.0.2", "Server", false},
		{"printer", "10.0.1.1", "Printer", true},
	}
	for _, s := range specs {
		a := testutil.NewAsset(testutil.WithName(s.name), testutil.WithIP(s.ip), testutil.WithOnline(s.online))
		a.Category = s.category
		if err := repo.Create(ctx, &a); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	online := true
	tests := []struct {
		name   string
		filter services.AssetFilter
		want   int
	}{
		{"all", services.AssetFilter{}, 3},
		{"search name", services.AssetFilter{Search: "server"}, 2},
		{"search ip", services.AssetFilter{Search: "10.0.1"}, 1},
		{"category is case-insensitive", services.AssetFilter{Category: "server"}, 2},
		{"online", services.AssetFilter{Online: &online}, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := repo.List(ctx, tt.filter, services.ListOptions{})
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			if result.Total != tt.want {
				t.Errorf("Total = %d, want %d", result.Total, tt.want)
			}
			if len(result.Items) != tt.want {
				t.Errorf("Items = %d, want %d", len(result.Items), tt.want)
			}
		})
	}
}

func TestSQLiteAssetRepository_ListPaginationAndSort(t *testing.T) {
	repo := newAssetRepo(t)
	ctx := context.Background()

	for _, name := range []string{"delta", "alpha", "echo", "charlie", "bravo"} {
		a := testutil.NewAsset(testutil.WithName(name))
		if err := repo.Create(ctx, &a); err != nil {
			t.Fatalf("Create %s: %v", name, err)
		}
	}

	result, err := repo.List(ctx, services.AssetFilter{}, services.ListOptions{
		Limit: 2, SortBy: "name", SortOrder: "asc",
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if result.Total != 5 {
		t.Errorf("Total = %d, want 5", result.Total)
	}
	if len(result.Items) != 2 || result.Items[0].Name != "alpha" || result.Items[1].Name != "bravo" {
		t.Errorf("page 1 = %v, want [alpha bravo]", names(result.Items))
	}

	result, err = repo.List(ctx, services.AssetFilter{}, services.ListOptions{
		Limit: 2, Offset: 4, SortBy: "name", SortOrder: "asc",
	})
	if err != nil {
		t.Fatalf("List page 3: %v", err)
	}
	if len(result.Items) != 1 || result.Items[0].Name != "echo" {
		t.Errorf("page 3 = %v, want [echo]", names(result.Items))
	}
}

func TestSQLiteAssetRepository_TrackableInInsertionOrder(t *testing.T) {
	repo := newAssetRepo(t)
	ctx := context.Background()

	withMAC := testutil.NewAsset(testutil.WithName("b-mac"), testutil.WithMAC("00:00:00:00:00:01"))
	noMAC := testutil.NewAsset(testutil.WithName("c-none"), testutil.WithMAC(""))
	custom := testutil.NewAsset(testutil.WithName("a-custom"), testutil.WithMAC(""),
		testutil.WithMonitor(models.MonitorPortOnly, 443))
	blankMAC := testutil.NewAsset(testutil.WithName("d-blank"), testutil.WithMAC("   "))
	for _, a := range []*models.Asset{&withMAC, &noMAC, &custom, &blankMAC} {
		if err := repo.Create(ctx, a); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	got, err := repo.Trackable(ctx)
	if err != nil {
		t.Fatalf("Trackable: %v", err)
	}
	if want := []string{"b-mac", "a-custom"}; !equalStrings(names(got), want) {
		t.Errorf("Trackable = %v, want %v", names(got), want)
	}

	all, err := repo.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("All = %d assets, want 4", len(all))
	}
}

func TestSQLiteAssetRepository_WithTxRollsBack(t *testing.T) {
	store := testutil.NewStore(t)
	ctx := context.Background()
	repo, err := services.NewSQLiteAssetRepository(ctx, store)
	if err != nil {
		t.Fatalf("NewSQLiteAssetRepository: %v", err)
	}

	a := testutil.NewAsset()
	_ = store.Tx(ctx, func(tx *sql.Tx) error {
		if err := repo.WithTx(tx).Create(ctx, &a); err != nil {
			t.Fatalf("Create in tx: %v", err)
		}
		return errors.New("abort")
	})

	if _, err := repo.Get(ctx, a.ID); err != services.ErrNotFound {
		t.Errorf("Get after rollback = %v, want ErrNotFound", err)
	}
}

func names(assets []models.Asset) []string {
	out := make([]string, len(assets))
	for i := range assets {
		out[i] = assets[i].Name
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

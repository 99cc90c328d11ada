package recon

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/HerbHall/netreach/internal/config"
	"github.com/HerbHall/netreach/internal/services"
	"github.com/HerbHall/netreach/internal/testutil"
	"github.com/HerbHall/netreach/pkg/models"
	"github.com/HerbHall/netreach/pkg/plugin"
)

type reconFixture struct {
	module   *Module
	mux      *http.ServeMux
	settings *services.SettingsService
	bus      *testutil.MockBus
}

func newReconFixture(t *testing.T, assets ...models.Asset) *reconFixture {
	t.Helper()
	ctx := context.Background()
	st := testutil.NewStore(t)

	settingsRepo, err := services.NewSQLiteSettingsRepository(ctx, st)
	require.NoError(t, err)
	settings := services.NewSettingsService(settingsRepo)

	bus := testutil.NewMockBus()
	m := New(settings)
	v := viper.New()
	v.Set("startup_delay", "0s")
	require.NoError(t, m.Init(ctx, plugin.Dependencies{
		Config: config.New(v),
		Logger: testutil.Logger(),
		Store:  st,
		Bus:    bus,
	}))

	repo, err := services.NewSQLiteAssetRepository(ctx, st)
	require.NoError(t, err)
	for i := range assets {
		require.NoError(t, repo.Create(ctx, &assets[i]))
	}

	mux := http.NewServeMux()
	for _, r := range m.Routes() {
		mux.HandleFunc(r.Method+" "+r.Path, r.Handler)
	}
	return &reconFixture{module: m, mux: mux, settings: settings, bus: bus}
}

func (f *reconFixture) do(method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, httptest.NewRequest(method, path, http.NoBody))
	return rec
}

func TestModule_TopologyEndpoints(t *testing.T) {
	f := newReconFixture(t, sampleInventory()...)

	t.Run("json", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/topology")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		var tree Tree
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&tree))
		require.Len(t, tree.Roots, 2)
		assert.Equal(t, "Gateway", tree.Roots[0].Name)
		assert.Equal(t, "Switch-A", tree.Roots[0].Children[0].Name)
	})

	t.Run("yaml", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/topology?format=YAML")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/yaml", rec.Header().Get("Content-Type"))
		var tree Tree
		require.NoError(t, yaml.Unmarshal(rec.Body.Bytes(), &tree))
		require.Len(t, tree.Unassigned, 1)
		assert.Equal(t, "laptop", tree.Unassigned[0].Name)
	})

	t.Run("bad format", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/topology?format=csv")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})

	t.Run("links", func(t *testing.T) {
		rec := f.do(http.MethodGet, "/topology/links")
		require.Equal(t, http.StatusOK, rec.Code)
		var links []Link
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&links))
		assert.Len(t, links, 5)
	})
}

func TestModule_VendorLookup(t *testing.T) {
	f := newReconFixture(t)

	rec := f.do(http.MethodGet, "/vendors/BC:24:11:00:00:01")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"mac":"BC:24:11:00:00:01","vendor":"Proxmox Server Solutions GmbH"}`, rec.Body.String())

	rec = f.do(http.MethodGet, "/vendors/nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestModule_HostMappingPass(t *testing.T) {
	host := testutil.NewAsset(testutil.WithName("pve-01"), testutil.WithMAC("00:00:00:00:01:01"), func(a *models.Asset) {
		a.IsProxmoxHost = true
		a.ProxmoxProfile = "lab"
		a.ProxmoxNode = "pve1"
	})
	guest := testutil.NewAsset(testutil.WithName("web"), testutil.WithMAC("BC:24:11:AA:BB:01"))
	f := newReconFixture(t, host, guest)
	ctx := context.Background()

	srv := newTestProxmoxServer(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api2/json/cluster/resources":
			writeData(t, w, []map[string]any{{"type": "qemu", "node": "pve1", "vmid": 100}})
		case "/api2/json/nodes/pve1/qemu/100/config":
			writeData(t, w, map[string]any{"net0": "virtio=BC:24:11:AA:BB:01,bridge=vmbr0"})
		default:
			http.NotFound(w, r)
		}
	})

	s, err := f.settings.Load(ctx)
	require.NoError(t, err)
	s.HostMapping = services.HostMappingSettings{
		Enabled: true,
		Profiles: []services.ProxmoxProfile{{
			Name: "lab", Enabled: true, BaseURL: srv.URL,
			APITokenID: "root@pam!netreach", APITokenSecret: "secret",
		}},
	}
	_, err = f.settings.Save(ctx, s)
	require.NoError(t, err)

	require.NoError(t, f.module.RunHostMapping(ctx))

	rec := f.do(http.MethodGet, "/hostmap/status")
	require.Equal(t, http.StatusOK, rec.Code)
	var status struct {
		LastChangedCount int            `json:"last_changed_count"`
		Last             *HostMapResult `json:"last_result"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&status))
	assert.Equal(t, 1, status.LastChangedCount)
	require.NotNil(t, status.Last)
	assert.Equal(t, 1, status.Last.Guests)

	rec = f.do(http.MethodGet, "/topology/links")
	assert.True(t, strings.Contains(rec.Body.String(), `"connection":"Hosted"`), rec.Body.String())

	assert.Equal(t, 1, f.bus.Count(TopicHostMapCompleted))
	assert.Equal(t, "healthy", f.module.Health(ctx).Status)
}

func TestModule_HostMapTrigger(t *testing.T) {
	f := newReconFixture(t)
	rec := f.do(http.MethodPost, "/hostmap/trigger")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"triggered"}`, rec.Body.String())
}

func TestModule_SettingsChangedReschedules(t *testing.T) {
	f := newReconFixture(t)
	ctx := context.Background()
	require.NoError(t, f.module.Start(ctx))
	assert.Equal(t, 1, f.bus.Subscribed(services.TopicSettingsChanged))
	assert.False(t, f.module.loop.Settings().Enabled)

	f.bus.Deliver(ctx, plugin.Event{
		Topic: services.TopicSettingsChanged,
		Payload: services.AppSettings{HostMapping: services.HostMappingSettings{
			Enabled:  true,
			Profiles: []services.ProxmoxProfile{{Name: "lab", Enabled: true, IntervalSeconds: 600}},
		}},
	})
	got := f.module.loop.Settings()
	assert.True(t, got.Enabled)
	assert.Equal(t, 10*time.Minute, got.Interval)

	require.NoError(t, f.module.Stop(ctx))
	assert.Zero(t, f.bus.Subscribed(services.TopicSettingsChanged))
}

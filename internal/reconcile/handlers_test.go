package reconcile

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/netreach/internal/config"
	"github.com/HerbHall/netreach/internal/scheduler"
	"github.com/HerbHall/netreach/internal/services"
	"github.com/HerbHall/netreach/internal/testutil"
	"github.com/HerbHall/netreach/internal/unifi"
	"github.com/HerbHall/netreach/pkg/models"
	"github.com/HerbHall/netreach/pkg/plugin"
)

type moduleFixture struct {
	module *Module
	mux    *http.ServeMux
	assets *services.SQLiteAssetRepository
	src    *fakeSource
	bus    *testutil.MockBus
}

func newModuleFixture(t *testing.T) *moduleFixture {
	t.Helper()
	ctx := context.Background()
	st := testutil.NewStore(t)
	settingsRepo, err := services.NewSQLiteSettingsRepository(ctx, st)
	require.NoError(t, err)

	src := &fakeSource{}
	bus := testutil.NewMockBus()
	m := New(services.NewSettingsService(settingsRepo), &fakeProber{online: map[string]bool{}}, WithSource(src))

	v := viper.New()
	v.Set("min_gap", "0s")
	v.Set("startup_delay", "0s")
	require.NoError(t, m.Init(ctx, plugin.Dependencies{
		Config: config.New(v),
		Logger: testutil.Logger(),
		Store:  st,
		Bus:    bus,
	}))

	assets, err := services.NewSQLiteAssetRepository(ctx, st)
	require.NoError(t, err)

	mux := http.NewServeMux()
	for _, r := range m.Routes() {
		mux.HandleFunc(r.Method+" "+r.Path, r.Handler)
	}
	return &moduleFixture{module: m, mux: mux, assets: assets, src: src, bus: bus}
}

func (f *moduleFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, path, http.NoBody)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestModule_RunNowAndHandlers(t *testing.T) {
	f := newModuleFixture(t)
	ctx := context.Background()

	a := testutil.NewAsset(testutil.WithMAC(macA))
	require.NoError(t, f.assets.Create(ctx, &a))
	f.src.set(func(s *fakeSource) {
		s.active = []unifi.Record{activeClient(macA, nil)}
	})

	require.NoError(t, f.module.RunNow(ctx))

	t.Run("status", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/status", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var st scheduler.Status
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&st))
		assert.NotNil(t, st.LastRun)
		assert.Equal(t, 1, st.LastChangedCount)
		assert.Empty(t, st.LastError)
	})

	t.Run("runs and changes", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/runs?limit=5", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var runs []models.RunLog
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&runs))
		require.Len(t, runs, 1)
		assert.Equal(t, 1, runs[0].ChangedCount)

		rec = f.do(t, http.MethodGet, "/runs/"+runs[0].ID+"/changes", "")
		require.Equal(t, http.StatusOK, rec.Code)
		var logs []models.ChangeLog
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&logs))
		require.Len(t, logs, 1)
		assert.Equal(t, "OnlineStatus", logs[0].Field)
		assert.Equal(t, "Online", logs[0].NewValue)
	})

	t.Run("invalid limit", func(t *testing.T) {
		rec := f.do(t, http.MethodGet, "/runs?limit=abc", "")
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	})

	t.Run("health", func(t *testing.T) {
		h := f.module.Health(ctx)
		assert.Equal(t, "healthy", h.Status)
	})

	assert.Positive(t, f.bus.Count(TopicStatus))
	assert.Equal(t, 1, f.bus.Count(TopicAssetStatus))
	last, ok := f.bus.Last(TopicAssetStatus)
	require.True(t, ok)
	assert.Equal(t, "reconcile", last.Source)
}

func TestModule_DiscoveryIgnore(t *testing.T) {
	f := newModuleFixture(t)
	ctx := context.Background()
	f.src.set(func(s *fakeSource) {
		s.active = []unifi.Record{activeClient("aa:bb:cc:00:00:09", map[string]any{"name": "Unknown"})}
	})
	require.NoError(t, f.module.RunNow(ctx))

	rec := f.do(t, http.MethodGet, "/discovery", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var alerts []models.DiscoveryAlert
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&alerts))
	require.Len(t, alerts, 1)

	tests := []struct {
		name string
		body string
		want int
	}{
		{"bad json", `{`, http.StatusBadRequest},
		{"missing mac", `{"mac":"  "}`, http.StatusBadRequest},
		{"ignore", `{"mac":"AA-BB-CC-00-00-09"}`, http.StatusNoContent},
		{"ignore twice", `{"mac":"aa:bb:cc:00:00:09"}`, http.StatusNoContent},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/discovery/ignore", tc.body)
			assert.Equal(t, tc.want, rec.Code, rec.Body.String())
		})
	}

	rec = f.do(t, http.MethodGet, "/discovery", "")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&alerts))
	assert.Empty(t, alerts)

	rec = f.do(t, http.MethodGet, "/discovery?all=true", "")
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&alerts))
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].Acknowledged)
}

func TestModule_FailedPassDegradesHealth(t *testing.T) {
	f := newModuleFixture(t)
	ctx := context.Background()
	f.src.set(func(s *fakeSource) { s.err = assert.AnError })

	require.Error(t, f.module.RunNow(ctx))
	h := f.module.Health(ctx)
	assert.Equal(t, "degraded", h.Status)
	assert.Contains(t, h.Message, "fetch active clients")
}

func TestModule_TestConnectionWithoutController(t *testing.T) {
	f := newModuleFixture(t)

	rec := f.do(t, http.MethodPost, "/test-connection", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp testConnectionResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.False(t, resp.OK)
	assert.Contains(t, resp.Message, "not configured")
}

func TestModule_TriggerAccepted(t *testing.T) {
	f := newModuleFixture(t)
	rec := f.do(t, http.MethodPost, "/trigger", "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"status":"triggered"}`, rec.Body.String())
}

func TestModule_WANEmpty(t *testing.T) {
	f := newModuleFixture(t)
	rec := f.do(t, http.MethodGet, "/wan", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

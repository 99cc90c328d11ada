package services_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/HerbHall/netreach/internal/services"
	"github.com/HerbHall/netreach/internal/testutil"
	"github.com/HerbHall/netreach/internal/vault"
)

func newSettingsRepo(t *testing.T) *services.SQLiteSettingsRepository {
	t.Helper()
	repo, err := services.NewSQLiteSettingsRepository(context.Background(), testutil.NewStore(t))
	require.NoError(t, err)
	return repo
}

func TestSQLiteSettingsRepository_SetGetDelete(t *testing.T) {
	repo := newSettingsRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Set(ctx, "beta", "1"))
	require.NoError(t, repo.Set(ctx, "alpha", "1"))
	require.NoError(t, repo.Set(ctx, "beta", "2"))

	s, err := repo.Get(ctx, "beta")
	require.NoError(t, err)
	assert.Equal(t, "2", s.Value)
	assert.False(t, s.UpdatedAt.IsZero())

	all, err := repo.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "alpha", all[0].Key)

	require.NoError(t, repo.Delete(ctx, "beta"))
	_, err = repo.Get(ctx, "beta")
	assert.ErrorIs(t, err, services.ErrNotFound)
	assert.ErrorIs(t, repo.Delete(ctx, "beta"), services.ErrNotFound)
}

func TestSettingsService_LoadDefaults(t *testing.T) {
	svc := services.NewSettingsService(newSettingsRepo(t))

	got, err := svc.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "default", got.Controller.Site)
	assert.Equal(t, services.AuthModeSession, got.Controller.AuthMode)
	assert.Equal(t, 60, got.Sync.IntervalSeconds)
	assert.True(t, got.Sync.SyncOnlineStatus)
	assert.True(t, got.Sync.SyncIP)
	assert.False(t, got.Sync.SyncName)
	assert.False(t, got.Sync.Enabled)
}

func TestSettingsService_SaveSealsSecrets(t *testing.T) {
	repo := newSettingsRepo(t)
	protector, err := vault.New("test passphrase")
	require.NoError(t, err)
	bus := testutil.NewMockBus()
	svc := services.NewSettingsService(repo,
		services.WithProtector(protector),
		services.WithSettingsBus(bus),
	)
	ctx := context.Background()

	in := services.DefaultAppSettings()
	in.Controller.BaseURL = " https://unifi.local "
	in.Controller.AuthMode = "ApiKey"
	in.Controller.APIKey = "key-123"
	in.HostMapping.Profiles = []services.ProxmoxProfile{
		{Name: "lab", BaseURL: "https://pve:8006", APITokenID: "root@pam!map", APITokenSecret: "tok"},
	}
	saved, err := svc.Save(ctx, in)
	require.NoError(t, err)
	assert.Equal(t, "https://unifi.local", saved.Controller.BaseURL)
	assert.Equal(t, services.AuthModeAPIKey, saved.Controller.AuthMode)
	assert.Equal(t, 300, saved.HostMapping.Profiles[0].IntervalSeconds)

	row, err := repo.Get(ctx, "app_settings")
	require.NoError(t, err)
	assert.NotContains(t, row.Value, "key-123")
	assert.NotContains(t, row.Value, `"tok"`)

	loaded, err := svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "key-123", loaded.Controller.APIKey)
	assert.Equal(t, "tok", loaded.HostMapping.Profiles[0].APITokenSecret)

	events := bus.Events()
	require.Len(t, events, 1)
	assert.Equal(t, services.TopicSettingsChanged, events[0].Topic)
	payload, ok := events[0].Payload.(services.AppSettings)
	require.True(t, ok)
	assert.Empty(t, payload.Controller.APIKey)
	assert.Empty(t, payload.HostMapping.Profiles[0].APITokenSecret)
}

func TestSettingsService_BlankSecretKeepsStored(t *testing.T) {
	svc := services.NewSettingsService(newSettingsRepo(t))
	ctx := context.Background()

	in := services.DefaultAppSettings()
	in.Controller.Username = "admin"
	in.Controller.Password = "hunter2"
	in.HostMapping.Profiles = []services.ProxmoxProfile{{Name: "Lab", APITokenSecret: "tok"}}
	_, err := svc.Save(ctx, in)
	require.NoError(t, err)

	redacted := in.Redacted()
	redacted.Controller.Username = "operator"
	redacted.HostMapping.Profiles[0].Name = "lab"
	_, err = svc.Save(ctx, redacted)
	require.NoError(t, err)

	got, err := svc.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, "operator", got.Controller.Username)
	assert.Equal(t, "hunter2", got.Controller.Password)
	assert.Equal(t, "tok", got.HostMapping.Profiles[0].APITokenSecret)
}

func TestSettingsService_UndecryptableSecretLoadsEmpty(t *testing.T) {
	repo := newSettingsRepo(t)
	ctx := context.Background()
	first, err := vault.New("first")
	require.NoError(t, err)
	second, err := vault.New("second")
	require.NoError(t, err)

	in := services.DefaultAppSettings()
	in.Controller.Password = "hunter2"
	_, err = services.NewSettingsService(repo, services.WithProtector(first)).Save(ctx, in)
	require.NoError(t, err)

	got, err := services.NewSettingsService(repo, services.WithProtector(second)).Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Controller.Password)
}

func TestProxmoxProfile_Complete(t *testing.T) {
	p := services.ProxmoxProfile{BaseURL: "https://pve", APITokenID: "id", APITokenSecret: "s"}
	assert.True(t, p.Complete())
	p.APITokenSecret = " "
	assert.False(t, p.Complete())
}

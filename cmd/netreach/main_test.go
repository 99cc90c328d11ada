package main

import (
	"testing"

	"github.com/spf13/viper"

	"github.com/HerbHall/netreach/internal/config"
)

func TestSettingsDefaults(t *testing.T) {
	v := viper.New()
	config.SetDefaults(v)
	v.Set("settings.defaults.controller.base_url", "https://unifi.local")
	v.Set("settings.defaults.sync.interval_seconds", 300)

	got, err := settingsDefaults(v)
	if err != nil {
		t.Fatalf("settingsDefaults() error = %v", err)
	}
	if got.Controller.BaseURL != "https://unifi.local" {
		t.Errorf("BaseURL = %q, want https://unifi.local", got.Controller.BaseURL)
	}
	if got.Controller.Site != "default" {
		t.Errorf("Site = %q, want default", got.Controller.Site)
	}
	if got.Sync.IntervalSeconds != 300 {
		t.Errorf("IntervalSeconds = %d, want 300", got.Sync.IntervalSeconds)
	}
	if !got.Sync.SyncOnlineStatus || !got.Sync.SyncIP {
		t.Errorf("Sync = %+v, want online status and IP sync on", got.Sync)
	}
}

func TestSettingsDefaults_NoSection(t *testing.T) {
	got, err := settingsDefaults(viper.New())
	if err != nil {
		t.Fatalf("settingsDefaults() error = %v", err)
	}
	if got.Sync.IntervalSeconds != 60 {
		t.Errorf("IntervalSeconds = %d, want 60", got.Sync.IntervalSeconds)
	}
}

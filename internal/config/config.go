// Package config loads NetReach configuration through viper and exposes it as
// a nil-safe plugin.Config.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/HerbHall/netreach/pkg/plugin"
)

// Compile-time interface guard.
var _ plugin.Config = (*ViperConfig)(nil)

// ViperConfig adapts a *viper.Viper to plugin.Config. A nil viper behaves as
// an empty configuration.
type ViperConfig struct {
	v *viper.Viper
}

// New wraps v.
func New(v *viper.Viper) *ViperConfig {
	return &ViperConfig{v: v}
}

func (c *ViperConfig) GetString(key string) string {
	if c.v == nil {
		return ""
	}
	return c.v.GetString(key)
}

func (c *ViperConfig) GetInt(key string) int {
	if c.v == nil {
		return 0
	}
	return c.v.GetInt(key)
}

func (c *ViperConfig) GetBool(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.GetBool(key)
}

func (c *ViperConfig) GetDuration(key string) time.Duration {
	if c.v == nil {
		return 0
	}
	return c.v.GetDuration(key)
}

func (c *ViperConfig) IsSet(key string) bool {
	if c.v == nil {
		return false
	}
	return c.v.IsSet(key)
}

// Sub returns the named section. Missing sections yield an empty config, never nil.
func (c *ViperConfig) Sub(key string) plugin.Config {
	if c.v == nil {
		return New(nil)
	}
	sub := c.v.Sub(key)
	if sub == nil {
		return New(viper.New())
	}
	return New(sub)
}

func (c *ViperConfig) Unmarshal(target any) error {
	if c.v == nil {
		return nil
	}
	return c.v.Unmarshal(target)
}

// Viper returns the wrapped instance (may be nil).
func (c *ViperConfig) Viper() *viper.Viper {
	return c.v
}

// SetDefaults registers the built-in defaults on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", "8080")
	v.SetDefault("database.path", "netreach.db")

	v.SetDefault("plugins.reconcile.enabled", true)
	v.SetDefault("plugins.reconcile.startup_delay", "60s")
	v.SetDefault("plugins.reconcile.min_gap", "15s")
	v.SetDefault("plugins.recon.enabled", true)
	v.SetDefault("plugins.recon.startup_delay", "45s")
	v.SetDefault("plugins.pulse.enabled", true)
	v.SetDefault("plugins.pulse.concurrency", 20)
	v.SetDefault("plugins.pulse.ping_timeout", "1s")
	v.SetDefault("plugins.pulse.ping_attempts", 1)
	v.SetDefault("plugins.notify.enabled", true)
	v.SetDefault("plugins.notify.client_id", "netreach")
	v.SetDefault("plugins.notify.topic_prefix", "netreach")
	v.SetDefault("plugins.notify.connect_timeout", "10s")
	v.SetDefault("plugins.notify.publish_timeout", "5s")

	v.SetDefault("settings.defaults.controller.site", "default")
	v.SetDefault("settings.defaults.controller.auth_mode", "session")
	v.SetDefault("settings.defaults.sync.enabled", false)
	v.SetDefault("settings.defaults.sync.interval_seconds", 60)
	v.SetDefault("settings.defaults.sync.sync_online_status", true)
	v.SetDefault("settings.defaults.sync.update_connection_fields", true)
	v.SetDefault("settings.defaults.sync.sync_ip", true)
	v.SetDefault("settings.defaults.host_mapping.enabled", false)
}

// Load reads the optional YAML file at path, applies NETREACH_* environment
// overrides and the built-in defaults.
func Load(path string) (*viper.Viper, error) {
	v := viper.New()
	SetDefaults(v)

	v.SetEnvPrefix("NETREACH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %q: %w", path, err)
		}
		return v, nil
	}

	v.SetConfigName("netreach")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/netreach")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}
	return v, nil
}

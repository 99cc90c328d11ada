package pulse

import (
	"testing"

	"github.com/spf13/viper"

	"github.com/HerbHall/netreach/internal/config"
	"github.com/HerbHall/netreach/internal/testutil"
	"github.com/HerbHall/netreach/pkg/plugin"
)

func pluginDeps(t *testing.T, settings map[string]any) plugin.Dependencies {
	t.Helper()
	v := viper.New()
	for k, val := range settings {
		v.Set(k, val)
	}
	return plugin.Dependencies{
		Config: config.New(v),
		Logger: testutil.Logger(),
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/HerbHall/netreach/internal/config"
	"github.com/HerbHall/netreach/internal/event"
	"github.com/HerbHall/netreach/internal/notify"
	pluginreg "github.com/HerbHall/netreach/internal/plugin"
	"github.com/HerbHall/netreach/internal/pulse"
	"github.com/HerbHall/netreach/internal/recon"
	"github.com/HerbHall/netreach/internal/reconcile"
	"github.com/HerbHall/netreach/internal/server"
	"github.com/HerbHall/netreach/internal/services"
	"github.com/HerbHall/netreach/internal/settings"
	"github.com/HerbHall/netreach/internal/store"
	"github.com/HerbHall/netreach/internal/vault"
	"github.com/HerbHall/netreach/internal/version"
	"github.com/HerbHall/netreach/pkg/plugin"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info())
		return
	}

	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if err := run(*configPath, logger); err != nil {
		logger.Fatal("netreach exited with error", zap.Error(err))
	}
}

func run(configPath string, logger *zap.Logger) error {
	logger.Info("NetReach server starting", zap.String("version", version.Short()))

	v, err := config.Load(configPath)
	if err != nil {
		return err
	}

	db, err := store.New(v.GetString("database.path"))
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	bus := event.NewBus(logger.Named("event"))

	settingsSvc, err := newSettingsService(v, db, bus, logger)
	if err != nil {
		return err
	}

	metrics := prometheus.NewRegistry()
	metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	registry := pluginreg.NewRegistry(logger)
	probes := pulse.New()
	plugins := []plugin.Plugin{
		probes,
		reconcile.New(settingsSvc, probes,
			reconcile.WithRegisterer(metrics),
			reconcile.WithVendorLookup(recon.Vendor),
		),
		recon.New(settingsSvc),
		notify.New(),
	}
	for _, p := range plugins {
		if err := registry.Register(p); err != nil {
			return fmt.Errorf("register plugin: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := registry.InitAll(ctx, config.New(v), plugin.Dependencies{Store: db, Bus: bus}); err != nil {
		return fmt.Errorf("initialize plugins: %w", err)
	}
	if err := registry.StartAll(ctx); err != nil {
		return fmt.Errorf("start plugins: %w", err)
	}

	addr := v.GetString("server.host") + ":" + v.GetString("server.port")
	if addr == ":" {
		addr = "0.0.0.0:8080"
	}
	srv := server.New(addr, registry, logger,
		server.WithGatherer(metrics),
		server.WithBus(bus),
		server.WithRoutes(settings.NewHandler(settingsSvc, logger.Named("settings"))),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil {
			errCh <- err
		}
	}()
	logger.Info("NetReach server ready", zap.String("addr", addr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case runErr = <-errCh:
		logger.Error("server error", zap.Error(runErr))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	cancel()
	registry.StopAll(shutdownCtx)

	logger.Info("NetReach server stopped")
	return runErr
}

// newSettingsService builds the settings service. Secrets are sealed when
// vault.passphrase is set and stored as plaintext otherwise.
func newSettingsService(v *viper.Viper, db plugin.Store, bus plugin.EventBus, logger *zap.Logger) (*services.SettingsService, error) {
	repo, err := services.NewSQLiteSettingsRepository(context.Background(), db)
	if err != nil {
		return nil, fmt.Errorf("settings repository: %w", err)
	}

	defaults, err := settingsDefaults(v)
	if err != nil {
		return nil, err
	}
	opts := []services.SettingsOption{
		services.WithDefaults(defaults),
		services.WithSettingsBus(bus),
		services.WithSettingsLogger(logger.Named("settings")),
	}

	if passphrase := v.GetString("vault.passphrase"); passphrase != "" {
		protector, err := vault.New(passphrase)
		if err != nil {
			return nil, fmt.Errorf("create vault: %w", err)
		}
		opts = append(opts, services.WithProtector(protector))
	} else {
		logger.Warn("vault.passphrase is not set; settings secrets are stored unencrypted")
	}
	return services.NewSettingsService(repo, opts...), nil
}

// settingsDefaults overlays settings.defaults onto the built-in defaults.
func settingsDefaults(v *viper.Viper) (services.AppSettings, error) {
	defaults := services.DefaultAppSettings()
	if err := config.New(v).Sub("settings.defaults").Unmarshal(&defaults); err != nil {
		return defaults, fmt.Errorf("unmarshal settings.defaults: %w", err)
	}
	return defaults, nil
}

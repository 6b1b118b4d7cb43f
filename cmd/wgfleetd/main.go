package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/wgfleet/wgfleet/internal/config"
	"github.com/wgfleet/wgfleet/internal/event"
	"github.com/wgfleet/wgfleet/internal/ipalloc"
	"github.com/wgfleet/wgfleet/internal/metrics"
	"github.com/wgfleet/wgfleet/internal/probe"
	"github.com/wgfleet/wgfleet/internal/profiles"
	"github.com/wgfleet/wgfleet/internal/reconcile"
	"github.com/wgfleet/wgfleet/internal/server"
	"github.com/wgfleet/wgfleet/internal/services"
	"github.com/wgfleet/wgfleet/internal/snapshot"
	"github.com/wgfleet/wgfleet/internal/store"
	"github.com/wgfleet/wgfleet/internal/wgnet"
	"github.com/wgfleet/wgfleet/pkg/models"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("wgfleet daemon starting")

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	// Open the database and apply the schema
	db, err := store.New(cfg.GetString("db.path"))
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := db.Migrate(ctx, "core", store.Migrations); err != nil {
		logger.Fatal("failed to migrate database", zap.Error(err))
	}

	interfaces := services.NewSQLiteInterfaceRepository(db.DB())
	peers := services.NewSQLitePeerRepository(db.DB())
	profileRepo := services.NewSQLiteProfileRepository(db)

	// Event bus with a debug tap on every topic
	bus := event.NewBus(logger)
	bus.SubscribeAll(func(_ context.Context, e event.Event) {
		logger.Debug("event", zap.String("topic", e.Topic), zap.String("source", e.Source))
	})

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	controller := wgnet.NewWGQuick(wgnet.NewOSRunner())

	engine := reconcile.New(reconcile.Deps{
		Interfaces: interfaces,
		Peers:      peers,
		Controller: controller,
		Enumerator: wgnet.NewOSEnumerator(),
		Keys:       wgnet.NewWGKeys(),
		Alloc:      ipalloc.New(),
		Bus:        bus,
		Metrics:    m,
		ConfigDir:  cfg.GetString("wireguard.config_dir"),
	}, logger)

	prober := probe.NewICMPProber(cfg.GetDuration("probe.timeout"), cfg.GetInt("probe.count"))
	sweeper := probe.NewSweeper(controller, prober, logger)
	sweeper.SetDelays(cfg.GetDuration("probe.settle_delay"), cfg.GetDuration("probe.candidate_delay"))
	sweeper.Instrument(m, bus)

	manager := profiles.New(profiles.Deps{
		Profiles:   profileRepo,
		Interfaces: interfaces,
		Path:       controller,
		Restarter:  engine,
	}, logger)

	snapshots := snapshot.New(snapshot.Deps{
		Interfaces:  interfaces,
		Peers:       peers,
		ConfigDir:   cfg.GetString("wireguard.config_dir"),
		SnapshotDir: cfg.GetString("snapshot.dir"),
	}, logger)

	// Initial sync from the wg-quick config directory
	if err := engine.SyncAll(ctx); err != nil {
		logger.Warn("initial sync incomplete", zap.Error(err))
	}

	// Periodic reconcile loop
	go syncLoop(ctx, cfg.GetDuration("sync.interval"), engine, interfaces, logger)

	srv := server.New(cfg.GetString("server.addr"), server.Deps{
		Interfaces: interfaces,
		Peers:      peers,
		Profiles:   profileRepo,
		Engine:     engine,
		Sweeper:    sweeper,
		Manager:    manager,
		Snapshots:  snapshots,
		Gatherer:   registry,
	}, logger)

	// Start server in background
	go func() {
		if err := srv.Start(); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("wgfleet daemon ready", zap.String("addr", cfg.GetString("server.addr")))

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh

	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("wgfleet daemon stopped")
}

// syncLoop periodically re-syncs configs and refreshes live peer status for
// every active interface.
func syncLoop(ctx context.Context, interval time.Duration, engine *reconcile.Engine, interfaces services.InterfaceRepository, logger *zap.Logger) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if err := engine.SyncAll(ctx); err != nil {
			logger.Warn("periodic sync incomplete", zap.Error(err))
		}

		result, err := interfaces.List(ctx, services.ListOptions{Limit: 1000})
		if err != nil {
			logger.Error("list interfaces", zap.Error(err))
			continue
		}
		for i := range result.Items {
			iface := &result.Items[i]
			if iface.Status != models.InterfaceActive {
				continue
			}
			if err := engine.ReconcileLiveStatus(ctx, iface); err != nil {
				logger.Warn("live status reconcile failed",
					zap.String("interface", iface.Name), zap.Error(err))
			}
		}
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/tollchat/tollchat/internal/api"
	"github.com/tollchat/tollchat/internal/config"
	"github.com/tollchat/tollchat/internal/discovery"
	"github.com/tollchat/tollchat/internal/ledger"
	"github.com/tollchat/tollchat/internal/metrics"
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Start the wallet ledger service",
	RunE:  runLedger,
}

func init() {
	rootCmd.AddCommand(ledgerCmd)
}

func runLedger(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to database")

	m := metrics.New()
	m.RegisterDBPoolCollector(func() (int32, int32, int32) {
		stat := pool.Stat()
		return stat.TotalConns(), stat.IdleConns(), stat.AcquiredConns()
	})

	store := ledger.NewStore(pool, cfg.Ledger.DefaultBalance)
	service := ledger.NewService(ledger.NewInstrumentedStore(store, m), cfg.Ledger)

	router := api.NewLedgerRouter(api.LedgerRouterDeps{
		Service: service,
		Metrics: m,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	deregister := registerWithDiscovery(ctx, cfg, cfg.Services.LedgerName)
	defer deregister()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("ledger service starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	return srv.Shutdown(shutdownCtx)
}

// registerWithDiscovery registers this instance with the Nacos registry and
// returns a deregister func. With discovery unconfigured both are no-ops;
// peers then reach the service through their static fallback addresses.
func registerWithDiscovery(ctx context.Context, cfg *config.Config, serviceName string) func() {
	if cfg.Discovery.Addr == "" {
		slog.Info("discovery disabled, skipping registration")
		return func() {}
	}

	registry, err := discovery.NewNacosRegistry(cfg.Discovery)
	if err != nil {
		slog.Error("connecting to discovery failed, continuing unregistered", "error", err)
		return func() {}
	}

	host := discovery.LocalIP()
	if err := registry.Register(ctx, serviceName, host, cfg.Server.Port); err != nil {
		slog.Error("registering with discovery failed, continuing unregistered", "error", err)
		return func() {}
	}
	slog.Info("registered with discovery", "service", serviceName, "host", host, "port", cfg.Server.Port)

	return func() {
		dctx, dcancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer dcancel()
		if err := registry.Deregister(dctx, serviceName, host, cfg.Server.Port); err != nil {
			slog.Warn("deregistering from discovery failed", "error", err)
		}
	}
}

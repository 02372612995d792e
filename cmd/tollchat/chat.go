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
	"github.com/tollchat/tollchat/internal/chat"
	"github.com/tollchat/tollchat/internal/config"
	"github.com/tollchat/tollchat/internal/discovery"
	"github.com/tollchat/tollchat/internal/genai"
	"github.com/tollchat/tollchat/internal/history"
	"github.com/tollchat/tollchat/internal/ledgerclient"
	"github.com/tollchat/tollchat/internal/metrics"
	"github.com/tollchat/tollchat/internal/ratelimit"
	"github.com/tollchat/tollchat/internal/retrievalclient"
	"github.com/tollchat/tollchat/internal/usage"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start the chat orchestrator service",
	RunE:  runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
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

	histStore := history.NewRedisStore(cfg.Redis)
	defer histStore.Close()
	if err := histStore.Ping(ctx); err != nil {
		return err
	}
	slog.Info("connected to redis")

	generator, err := genai.New(ctx, cfg.LLM)
	if err != nil {
		return err
	}
	slog.Info("generation backend ready", "model", generator.ModelName())

	var registry discovery.Registry
	if cfg.Discovery.Addr != "" {
		nacos, err := discovery.NewNacosRegistry(cfg.Discovery)
		if err != nil {
			slog.Error("connecting to discovery failed, using static fallbacks", "error", err)
		} else {
			registry = nacos
		}
	} else {
		slog.Info("discovery disabled, using static fallbacks")
	}

	dispatcher := discovery.NewDispatcher(registry, map[string]string{
		cfg.Services.LedgerName:    cfg.Services.LedgerFallback,
		cfg.Services.RetrievalName: cfg.Services.RetrievalFallback,
	}, m)

	ledgerClient := ledgerclient.New(dispatcher, cfg.Services.LedgerName, cfg.Chat.LedgerTimeout)
	retrievalClient := retrievalclient.New(dispatcher, cfg.Services.RetrievalName, cfg.Chat.RetrievalTimeout)

	usageStore := usage.NewStore(pool)
	collector := usage.NewCollector(usageStore, cfg.Usage.BatchSize, cfg.Usage.FlushInterval)
	collector.SetMetrics(m)
	go collector.Start(ctx)

	orchestrator := chat.NewOrchestrator(ledgerClient, retrievalClient, generator, histStore, collector, m, cfg.Chat)

	limiter := ratelimit.New(cfg.RateLimit.Default, cfg.RateLimit.Window)

	router := api.NewChatRouter(api.ChatRouterDeps{
		Orchestrator: orchestrator,
		UsageStore:   usageStore,
		Limiter:      limiter,
		Metrics:      m,
	})

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	deregister := registerWithDiscovery(ctx, cfg, cfg.Services.ChatName)
	defer deregister()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("chat service starting", "addr", cfg.Addr())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-sigCh
	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	collector.Stop()

	return srv.Shutdown(shutdownCtx)
}

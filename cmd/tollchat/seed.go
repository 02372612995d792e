package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/tollchat/tollchat/internal/config"
	"github.com/tollchat/tollchat/internal/ledger"
)

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed demo wallets",
	RunE:  runSeed,
}

func init() {
	rootCmd.AddCommand(seedCmd)
}

// demoUserIDs are provisioned by the seed command so the chat flow can be
// exercised immediately after migrate.
var demoUserIDs = []int64{1001, 1002, 1003}

func runSeed(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		return err
	}
	defer pool.Close()

	store := ledger.NewStore(pool, cfg.Ledger.DefaultBalance)

	for _, id := range demoUserIDs {
		w, err := store.GetOrCreate(ctx, id)
		if err != nil {
			return fmt.Errorf("seeding wallet %d: %w", id, err)
		}
		slog.Info("seeded wallet", "user_id", w.UserID, "balance", w.Balance)
	}

	fmt.Printf("\n=== Demo Wallets Seeded ===\n")
	fmt.Printf("Users:    %v\n", demoUserIDs)
	fmt.Printf("Balance:  %.2f credits each (existing wallets untouched)\n", cfg.Ledger.DefaultBalance)
	fmt.Printf("\nTry it:\n")
	fmt.Printf("  curl -X POST http://localhost:8081/api/v1/balance/check -d '{\"user_id\":\"1001\"}'\n")
	fmt.Printf("  curl -X POST http://localhost:8080/api/v1/chat -d '{\"user_id\":\"1001\",\"query\":\"How do I reset my password?\"}'\n")

	return nil
}

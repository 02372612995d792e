package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "tollchat",
	Short: "Tollchat — credit-metered RAG chat services",
	Long:  "Tollchat runs the services of a credit-metered knowledge-base chat system: a wallet ledger that meters usage in credits and a chat orchestrator that reserves credits, retrieves context, and generates answers.",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: configs/tollchat.yaml)")
}

func main() {
	// Local development convenience; missing .env is not an error.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

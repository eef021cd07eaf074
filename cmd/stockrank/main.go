package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	appconfig "github.com/fedutinova/stockrank/internal/config"
)

// cfg is loaded once before any command runs.
var cfg appconfig.Config

var rootCmd = &cobra.Command{
	Use:   "stockrank",
	Short: "Parallel historical stock-ranking engine",
	Long: `stockrank computes daily relative-strength and composite rankings for every
trading date in a window, fanning one job per date out to any number of workers
through a shared Redis queue.

Examples:
  stockrank migrate                        # create price and ranking tables
  stockrank worker                         # run one worker until interrupted
  stockrank dispatch --years 2 --wait      # enqueue two years and follow progress
  stockrank status                         # queue counts and live workers
  stockrank serve                          # HTTP control surface`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = appconfig.Load()
		cfg.SetupLogger()
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(dispatchCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(localCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(tokenCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

package main

import (
	"github.com/spf13/cobra"

	"github.com/fedutinova/stockrank/internal/workers"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Claim and compute ranking jobs until interrupted",
	Long: `Run one worker process. The worker registers itself, heartbeats on its own
timer and claims one job at a time. On SIGINT/SIGTERM it stops claiming,
finishes the job in hand and exits. Start as many as you like.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := &app{}
		defer a.close()

		if err := a.openBroker(ctx); err != nil {
			return err
		}
		if err := a.openStore(ctx, false); err != nil {
			return err
		}

		id, _ := cmd.Flags().GetString("id")
		if id == "" {
			id = cfg.WorkerID
		}
		w := workers.New(a.broker, workers.NewRankingHandler(a.store, a.store, nil), workers.Config{
			ID:                id,
			DequeueTimeout:    cfg.DequeueTimeout,
			HeartbeatInterval: cfg.HeartbeatInterval,
			HeartbeatTTL:      cfg.HeartbeatTTL,
		})
		return w.Run(ctx)
	},
}

func init() {
	workerCmd.Flags().String("id", "", "worker id (default WORKER_ID or host-pid-random)")
}

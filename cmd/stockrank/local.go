package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/fedutinova/stockrank/internal/dispatcher"
	"github.com/fedutinova/stockrank/internal/job"
	"github.com/fedutinova/stockrank/internal/memq"
	"github.com/fedutinova/stockrank/internal/validation"
	"github.com/fedutinova/stockrank/internal/workers"
)

var localCmd = &cobra.Command{
	Use:   "local",
	Short: "Run a batch with in-process workers and no Redis",
	Long: `Dispatch a window and compute it with --workers goroutines sharing an
in-memory queue. Useful against a SQLite store on one machine.

Example:
  STORE_DRIVER=sqlite stockrank local --years 1 --workers 4`,
	RunE: runLocal,
}

func init() {
	f := localCmd.Flags()
	f.Int("years", 0, "years back from yesterday (default DISPATCH_YEARS)")
	f.String("start", "", "first date, YYYY-MM-DD")
	f.String("end", "", "last date, YYYY-MM-DD")
	f.Bool("no-skip-existing", false, "recompute dates that already have rankings")
	f.Int("workers", 4, "in-process workers")
}

func runLocal(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	years, _ := f.GetInt("years")
	start, _ := f.GetString("start")
	end, _ := f.GetString("end")
	noSkip, _ := f.GetBool("no-skip-existing")
	n, _ := f.GetInt("workers")
	if n < 1 {
		return fmt.Errorf("--workers must be at least 1")
	}

	req := validation.DispatchRequest{Years: years, Start: start, End: end}
	if errs := validation.ValidateDispatchRequest(req); len(errs) > 0 {
		return errs
	}

	ctx := cmd.Context()
	a := &app{}
	defer a.close()
	if err := a.openStore(ctx, false); err != nil {
		return err
	}

	broker := memq.NewMemoryQueue()
	defer broker.Close()

	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))
	g, gctx := errgroup.WithContext(workerCtx)
	handler := workers.NewRankingHandler(a.store, a.store, nil)
	for i := range n {
		w := workers.New(broker, handler, workers.Config{
			ID:                fmt.Sprintf("local-%d", i),
			DequeueTimeout:    500 * time.Millisecond,
			HeartbeatInterval: cfg.HeartbeatInterval,
			HeartbeatTTL:      cfg.HeartbeatTTL,
		})
		g.Go(func() error { return w.Run(gctx) })
	}

	d := dispatcher.New(broker, a.store, a.store, nil, dispatcher.Config{
		PollInterval: time.Second,
		MaxStall:     cfg.MaxStall,
		DefaultYears: cfg.DefaultYears,
	})
	stop := context.AfterFunc(ctx, d.Stop)
	defer stop()

	out := cmd.OutOrStdout()
	from, to := req.Window()
	sum, err := d.BuildHistoricalRankings(context.WithoutCancel(ctx), dispatcher.Options{
		Years:        years,
		Start:        from,
		End:          to,
		SkipExisting: !noSkip,
		Wait:         true,
		Progress: func(p job.BatchProgress) {
			fmt.Fprintf(out, "%5.1f%%  completed=%d failed=%d of %d\n",
				p.ProgressPct(), p.CompletedJobs, p.FailedJobs, p.TotalJobs)
		},
	})

	// Claimed jobs finish before the workers exit.
	stopWorkers()
	if werr := g.Wait(); werr != nil {
		slog.Error("worker exited with error", "error", werr)
	}
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

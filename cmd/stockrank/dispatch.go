package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/fedutinova/stockrank/internal/dispatcher"
	"github.com/fedutinova/stockrank/internal/job"
	"github.com/fedutinova/stockrank/internal/validation"
)

var dispatchCmd = &cobra.Command{
	Use:   "dispatch",
	Short: "Enqueue one ranking job per trading date in a window",
	Long: `Enqueue a job for every trading date in the window that has no rankings yet.
Any jobs left pending from an earlier batch are cancelled first.

By default the command returns as soon as the jobs are queued. With --wait it
polls queue counts until the batch drains; Ctrl+C then stops following the
batch without touching jobs that workers already hold.

Examples:
  stockrank dispatch --years 3
  stockrank dispatch --start 2024-01-02 --end 2024-06-28 --wait
  stockrank dispatch --years 1 --no-skip-existing --symbols AAPL,MSFT`,
	RunE: runDispatch,
}

func init() {
	f := dispatchCmd.Flags()
	f.Int("years", 0, "years back from yesterday (default DISPATCH_YEARS)")
	f.String("start", "", "first date, YYYY-MM-DD")
	f.String("end", "", "last date, YYYY-MM-DD")
	f.Bool("no-skip-existing", false, "recompute dates that already have rankings")
	f.Bool("wait", false, "poll until the batch drains")
	f.Duration("poll-interval", 0, "poll interval with --wait (default DISPATCH_POLL_INTERVAL)")
	f.StringSlice("symbols", nil, "restrict every job to these symbols")
	f.Int("priority", 0, "job priority, stored but advisory")
}

func runDispatch(cmd *cobra.Command, args []string) error {
	f := cmd.Flags()
	years, _ := f.GetInt("years")
	start, _ := f.GetString("start")
	end, _ := f.GetString("end")
	noSkip, _ := f.GetBool("no-skip-existing")
	wait, _ := f.GetBool("wait")
	poll, _ := f.GetDuration("poll-interval")
	symbols, _ := f.GetStringSlice("symbols")
	priority, _ := f.GetInt("priority")

	skip := !noSkip
	req := validation.DispatchRequest{
		Years:        years,
		Start:        start,
		End:          end,
		SkipExisting: &skip,
		Symbols:      symbols,
		Priority:     priority,
	}
	if errs := validation.ValidateDispatchRequest(req); len(errs) > 0 {
		return errs
	}

	ctx := cmd.Context()
	a := &app{}
	defer a.close()
	if err := a.openBroker(ctx); err != nil {
		return err
	}
	if err := a.openStore(ctx, false); err != nil {
		return err
	}
	if err := a.openArchive(ctx); err != nil {
		return err
	}
	d := a.dispatcher()

	out := cmd.OutOrStdout()
	from, to := req.Window()
	opts := dispatcher.Options{
		Years:        years,
		Start:        from,
		End:          to,
		SkipExisting: skip,
		Wait:         wait,
		PollInterval: poll,
		Symbols:      symbols,
		Priority:     priority,
		Progress: func(p job.BatchProgress) {
			s := p.Snapshot(time.Now())
			fmt.Fprintf(out, "%5.1f%%  pending=%d processing=%d completed=%d failed=%d  %.2f jobs/s  eta %s\n",
				s.ProgressPct, s.PendingJobs, s.ProcessingJobs, s.CompletedJobs, s.FailedJobs,
				s.JobsPerSecond, (time.Duration(s.ETASeconds) * time.Second).String())
		},
	}

	// Ctrl+C while waiting stops following the batch; the summary is still printed.
	runCtx := ctx
	if wait {
		runCtx = context.WithoutCancel(ctx)
		stop := context.AfterFunc(ctx, d.Stop)
		defer stop()
	}

	sum, err := d.BuildHistoricalRankings(runCtx, opts)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show queue counts and live workers",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := &app{}
		defer a.close()
		if err := a.openBroker(ctx); err != nil {
			return err
		}

		st, err := a.dispatcher().Status(ctx)
		if err != nil {
			return err
		}

		asJSON, _ := cmd.Flags().GetBool("json")
		out := cmd.OutOrStdout()
		if asJSON {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		}

		fmt.Fprintf(out, "pending=%d processing=%d completed=%d failed=%d\n",
			st.Stats.Pending, st.Stats.Processing, st.Stats.Completed, st.Stats.Failed)
		if len(st.Workers) == 0 {
			fmt.Fprintln(out, "no active workers")
			return nil
		}
		fmt.Fprintf(out, "%d active workers:\n", len(st.Workers))
		for _, w := range st.Workers {
			fmt.Fprintf(out, "  %-40s %-10s completed=%d failed=%d job=%s last=%s\n",
				w.WorkerID, w.Status, w.JobsCompleted, w.JobsFailed, w.CurrentJob,
				w.LastHeartbeat.Format("15:04:05"))
		}
		return nil
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Drop every pending job",
	Long:  "Cancel pending jobs and clear job records. Jobs already claimed by a worker run to completion.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a := &app{}
		defer a.close()
		if err := a.openBroker(ctx); err != nil {
			return err
		}
		n, err := a.dispatcher().CancelPendingJobs(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "cancelled %d pending jobs\n", n)
		return nil
	},
}

func init() {
	statusCmd.Flags().Bool("json", false, "print JSON")
}

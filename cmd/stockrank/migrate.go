package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the price and ranking tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		a := &app{}
		defer a.close()
		if err := a.openStore(cmd.Context(), true); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "schema ready (%s)\n", cfg.StoreDriver)
		return nil
	},
}

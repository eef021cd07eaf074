package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/fedutinova/stockrank/internal/repository"
)

var importCmd = &cobra.Command{
	Use:   "import-prices <file.csv|->",
	Short: "Load daily bars into the price history",
	Long: `Load symbol,date,open,high,low,close,volume rows into the price history.
Rows that already exist for a (symbol, date) are left untouched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		bars, err := repository.ReadPriceCSV(in)
		if err != nil {
			return err
		}

		a := &app{}
		defer a.close()
		if err := a.openStore(cmd.Context(), false); err != nil {
			return err
		}
		n, err := a.store.SavePrices(cmd.Context(), bars)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "read %d bars, inserted %d\n", len(bars), n)
		return nil
	},
}

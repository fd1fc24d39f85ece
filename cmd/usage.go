package main

import (
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var usageCmd = &cobra.Command{
	Use:   "usage",
	Short: "Show paid lookup calls and cost per strategy",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		totals, err := st.UsageTotals(ctx)
		if err != nil {
			return eris.Wrap(err, "usage")
		}
		formatUsage(os.Stdout, totals)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(usageCmd)
}

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-cli/internal/model"
)

var failuresCmd = &cobra.Command{
	Use:   "failures",
	Short: "Inspect queries whose lookup failed",
}

var failuresListCmd = &cobra.Command{
	Use:   "list",
	Short: "List failed queries, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		failures, err := st.ListFailures(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "failures list")
		}
		if len(failures) == 0 {
			fmt.Fprintln(os.Stderr, "No failures recorded.")
			return nil
		}

		if asQueries, _ := cmd.Flags().GetBool("queries"); asQueries {
			fmt.Print(failedQueriesText(failures))
			return nil
		}
		formatFailures(os.Stdout, failures)
		return nil
	},
}

var failuresClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every recorded failure",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		n, err := st.ClearFailures(ctx)
		if err != nil {
			return eris.Wrap(err, "failures clear")
		}
		fmt.Fprintf(os.Stderr, "Cleared %d failures.\n", n)
		return nil
	},
}

// failedQueriesText renders distinct failed queries one per line, ready to
// feed back into `prospect batch`.
func failedQueriesText(failures []model.FailedQuery) string {
	seen := make(map[string]bool, len(failures))
	var b strings.Builder
	for _, f := range failures {
		if seen[f.Query] {
			continue
		}
		seen[f.Query] = true
		b.WriteString(f.Query)
		b.WriteByte('\n')
	}
	return b.String()
}

func init() {
	failuresListCmd.Flags().Int("limit", 100, "max number of failures to display")
	failuresListCmd.Flags().Bool("queries", false, "print distinct queries only, one per line")

	failuresCmd.AddCommand(failuresListCmd)
	failuresCmd.AddCommand(failuresClearCmd)
	rootCmd.AddCommand(failuresCmd)
}

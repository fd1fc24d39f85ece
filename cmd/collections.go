package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var collectionsCmd = &cobra.Command{
	Use:     "collections",
	Aliases: []string{"col"},
	Short:   "Inspect stored collections",
}

var collectionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collections, most recently updated first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		cols, err := st.ListCollections(ctx)
		if err != nil {
			return eris.Wrap(err, "collections list")
		}
		if len(cols) == 0 {
			fmt.Fprintln(os.Stderr, "No collections found.")
			return nil
		}
		formatCollections(os.Stdout, cols)
		return nil
	},
}

var collectionsShowCmd = &cobra.Command{
	Use:   "show <collection-id>",
	Short: "Show the records of a collection",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		col, err := st.GetCollection(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "collections show")
		}
		recs, err := st.GetAll(ctx, col.ID)
		if err != nil {
			return eris.Wrap(err, "collections show")
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(recs)
		}
		fmt.Printf("%s (%d records)\n\n", col.Name, col.ItemCount)
		formatRecords(os.Stdout, recs)
		return nil
	},
}

var collectionsDeleteCmd = &cobra.Command{
	Use:   "delete <collection-id>",
	Short: "Delete a collection and release its fingerprints",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		if err := st.DeleteCollection(ctx, args[0]); err != nil {
			return eris.Wrap(err, "collections delete")
		}
		fmt.Fprintf(os.Stderr, "Deleted collection %s.\n", args[0])
		return nil
	},
}

func init() {
	collectionsShowCmd.Flags().Bool("json", false, "print records as JSON")

	collectionsCmd.AddCommand(collectionsListCmd)
	collectionsCmd.AddCommand(collectionsShowCmd)
	collectionsCmd.AddCommand(collectionsDeleteCmd)
	rootCmd.AddCommand(collectionsCmd)
}

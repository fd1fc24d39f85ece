package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-cli/internal/export"
)

var (
	exportOutput   string
	exportToNotion bool
	exportNotionDB string
)

var exportCmd = &cobra.Command{
	Use:   "export <collection-id>",
	Short: "Export a collection to a file or a Notion database",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if exportOutput == "" && !exportToNotion {
			return eris.New("export: --output or --notion is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		col, err := st.GetCollection(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "export")
		}
		recs, err := st.GetAll(ctx, col.ID)
		if err != nil {
			return eris.Wrap(err, "export")
		}

		if exportOutput != "" {
			if err := export.WriteFile(exportOutput, recs); err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "Wrote %d records to %s.\n", len(recs), exportOutput)
		}

		if exportToNotion {
			client, err := initNotion()
			if err != nil {
				return err
			}
			dbID := exportNotionDB
			if dbID == "" {
				dbID = cfg.Notion.ExportDB
			}
			if dbID == "" {
				return eris.New("export: notion.export_db or --notion-db is required")
			}
			n, err := export.ToSink(ctx, export.NewNotionSink(client, dbID), recs)
			fmt.Fprintf(os.Stderr, "Created %d of %d Notion rows.\n", n, len(recs))
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "write a .xlsx, .csv or .json file")
	exportCmd.Flags().BoolVar(&exportToNotion, "notion", false, "create one row per record in a Notion database")
	exportCmd.Flags().StringVar(&exportNotionDB, "notion-db", "", "target Notion database (default notion.export_db)")
	rootCmd.AddCommand(exportCmd)
}

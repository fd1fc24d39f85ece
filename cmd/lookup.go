package main

import (
	"encoding/json"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
)

var (
	lookupStrategy     string
	lookupCollection   string
	lookupCollectionID string
	lookupJSON         bool
)

var lookupCmd = &cobra.Command{
	Use:   "lookup <query>",
	Short: "Look up a single business query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		env, err := initApp(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		query := strings.TrimSpace(strings.Join(args, " "))
		strategy := lookupStrategy
		if strategy == "" {
			strategy = cfg.Batch.Strategy
		}
		rec, err := env.Orchestrator.RunSingle(ctx, query, model.RunConfig{
			Strategy:       strategy,
			CollectionID:   lookupCollectionID,
			CollectionName: lookupCollection,
		})
		if err != nil {
			if rec.Name == "" {
				return eris.Wrap(err, "lookup")
			}
			zap.L().Warn("lookup failed", zap.String("query", query), zap.Error(err))
		}

		if lookupJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(rec)
		}
		formatRecord(os.Stdout, rec)
		return nil
	},
}

func init() {
	lookupCmd.Flags().StringVar(&lookupStrategy, "strategy", "", "lookup strategy (default from config)")
	lookupCmd.Flags().StringVar(&lookupCollection, "collection", "", "save the record into a new collection with this name")
	lookupCmd.Flags().StringVar(&lookupCollectionID, "collection-id", "", "save the record into an existing collection")
	lookupCmd.Flags().BoolVar(&lookupJSON, "json", false, "print the record as JSON")
	rootCmd.AddCommand(lookupCmd)
}

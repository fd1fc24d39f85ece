package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/export"
	"github.com/sells-group/prospect-cli/internal/input"
	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/pipeline"
)

var (
	batchLimit        int
	batchStrategy     string
	batchCollection   string
	batchCollectionID string
	batchOutput       string
	batchFromNotion   bool
	batchNotionDB     string
)

var batchCmd = &cobra.Command{
	Use:   "batch [file-or-url]",
	Short: "Look up a list of business queries in resumable waves",
	Long: "Reads queries from a text, CSV or XLSX file (local or http/https URL), or from the Notion inbox " +
		"with --notion, and processes them in waves. Interrupting the command leaves a checkpoint that " +
		"`prospect resume` continues from.",
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if len(args) == 0 && !batchFromNotion {
			return eris.New("batch: a file, URL or --notion is required")
		}

		env, err := initApp(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		var (
			queries []string
			items   []input.Item
			source  *input.NotionSource
		)
		if batchFromNotion {
			client, err := initNotion()
			if err != nil {
				return err
			}
			source = notionSource(client, batchNotionDB)
			items, err = source.Pending(ctx)
			if err != nil {
				return err
			}
			if batchLimit > 0 && len(items) > batchLimit {
				items = items[:batchLimit]
			}
			queries = input.Queries(items)
		} else {
			queries, err = input.ReadQueries(ctx, args[0])
			if err != nil {
				return err
			}
			if batchLimit > 0 && len(queries) > batchLimit {
				queries = queries[:batchLimit]
			}
		}
		if len(queries) == 0 {
			zap.L().Info("no queries to process")
			return nil
		}

		if cp, err := env.Orchestrator.ResumeAvailable(ctx); err == nil && cp != nil {
			zap.L().Warn("replacing the checkpoint of an unfinished batch",
				zap.Int("next_index", cp.NextIndex),
				zap.Int("total", len(cp.Queries)),
			)
		}

		strategy := batchStrategy
		if strategy == "" {
			strategy = cfg.Batch.Strategy
		}
		rep, err := env.Orchestrator.RunBatch(ctx, pipeline.Request{
			Queries: queries,
			Config: model.RunConfig{
				Strategy:       strategy,
				CollectionID:   batchCollectionID,
				CollectionName: batchCollection,
			},
		}, progressPrinter(os.Stderr))
		if err != nil {
			return eris.Wrap(err, "batch")
		}

		return finishBatch(context.WithoutCancel(ctx), rep, batchOutput, func(ctx context.Context) {
			if source == nil {
				return
			}
			n, err := source.MarkDone(ctx, items)
			if err != nil {
				zap.L().Warn("notion inbox not fully updated", zap.Int("marked", n), zap.Error(err))
			}
		})
	},
}

// finishBatch prints the report, writes the optional export and runs
// onComplete when the batch ran to completion.
func finishBatch(ctx context.Context, rep *pipeline.Report, output string, onComplete func(ctx context.Context)) error {
	fmt.Print(rep.Format())

	if output != "" {
		if err := export.WriteFile(output, rep.Results); err != nil {
			return err
		}
		zap.L().Info("results exported", zap.String("path", output), zap.Int("records", len(rep.Results)))
	}

	if rep.State == pipeline.StateStopped {
		fmt.Fprintln(os.Stderr, "Batch stopped. Run `prospect resume` to continue.")
		return nil
	}
	if onComplete != nil {
		onComplete(ctx)
	}
	return nil
}

func init() {
	batchCmd.Flags().IntVar(&batchLimit, "limit", 0, "max number of queries to process (0 = all)")
	batchCmd.Flags().StringVar(&batchStrategy, "strategy", "", "lookup strategy (default from config)")
	batchCmd.Flags().StringVar(&batchCollection, "collection", "", "name of the collection to create")
	batchCmd.Flags().StringVar(&batchCollectionID, "collection-id", "", "existing collection to add records to")
	batchCmd.Flags().StringVarP(&batchOutput, "output", "o", "", "export results to a .xlsx, .csv or .json file")
	batchCmd.Flags().BoolVar(&batchFromNotion, "notion", false, "read queued queries from the Notion inbox")
	batchCmd.Flags().StringVar(&batchNotionDB, "notion-db", "", "Notion inbox database (default from config)")
	rootCmd.AddCommand(batchCmd)
}

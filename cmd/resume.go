package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/prospect-cli/internal/pipeline"
)

var (
	resumeOutput  string
	resumeShow    bool
	resumeDiscard bool
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Continue the last interrupted batch from its checkpoint",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if resumeShow || resumeDiscard {
			return inspectCheckpoint(ctx)
		}

		env, err := initApp(ctx, true)
		if err != nil {
			return err
		}
		defer env.Close()

		rep, err := env.Orchestrator.Resume(ctx, progressPrinter(os.Stderr))
		if eris.Is(err, pipeline.ErrNoCheckpoint) {
			fmt.Fprintln(os.Stderr, "Nothing to resume.")
			return nil
		}
		if err != nil {
			return eris.Wrap(err, "resume")
		}
		return finishBatch(context.WithoutCancel(ctx), rep, resumeOutput, nil)
	},
}

func inspectCheckpoint(ctx context.Context) error {
	env, err := initApp(ctx, false)
	if err != nil {
		return err
	}
	defer env.Close()

	cp, err := env.Checkpoints.Load(ctx)
	if err != nil {
		return eris.Wrap(err, "resume: load checkpoint")
	}
	if cp == nil {
		fmt.Fprintln(os.Stderr, "No checkpoint.")
		return nil
	}

	if resumeDiscard {
		if err := env.Checkpoints.Clear(ctx); err != nil {
			return eris.Wrap(err, "resume: discard checkpoint")
		}
		fmt.Printf("Discarded checkpoint at %d/%d.\n", cp.NextIndex, len(cp.Queries))
		return nil
	}

	fmt.Printf("Collection: %s (%s)\n", cp.Config.CollectionName, cp.Config.CollectionID)
	fmt.Printf("Strategy:   %s\n", cp.Config.Strategy)
	fmt.Printf("Progress:   %d/%d (%d remaining)\n", cp.NextIndex, len(cp.Queries), cp.Remaining())
	fmt.Printf("Saved:      %s\n", cp.UpdatedAt.Local().Format("2006-01-02 15:04:05"))
	return nil
}

func init() {
	resumeCmd.Flags().StringVarP(&resumeOutput, "output", "o", "", "export results to a .xlsx, .csv or .json file")
	resumeCmd.Flags().BoolVar(&resumeShow, "show", false, "show the checkpoint without resuming")
	resumeCmd.Flags().BoolVar(&resumeDiscard, "discard", false, "delete the checkpoint")
	rootCmd.AddCommand(resumeCmd)
}

package main

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and clear the lookup cache",
}

var cacheListCmd = &cobra.Command{
	Use:   "list",
	Short: "List unexpired cache entries, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		entries, err := env.Cache.ListAll(ctx)
		if err != nil {
			return eris.Wrap(err, "cache list")
		}
		if len(entries) == 0 {
			fmt.Fprintln(os.Stderr, "Cache is empty.")
			return nil
		}
		limit, _ := cmd.Flags().GetInt("limit")
		if limit > 0 && len(entries) > limit {
			entries = entries[:limit]
		}
		formatCacheEntries(os.Stdout, entries)
		return nil
	},
}

var cacheCountCmd = &cobra.Command{
	Use:   "count",
	Short: "Count unexpired cache entries",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		n, err := env.Cache.Count(ctx)
		if err != nil {
			return eris.Wrap(err, "cache count")
		}
		fmt.Println(n)
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every cache entry",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		env, err := initApp(ctx, false)
		if err != nil {
			return err
		}
		defer env.Close()

		if err := env.Cache.Clear(ctx); err != nil {
			return eris.Wrap(err, "cache clear")
		}
		fmt.Fprintln(os.Stderr, "Cache cleared.")
		return nil
	},
}

func init() {
	cacheListCmd.Flags().Int("limit", 50, "max number of entries to display (0 = all)")

	cacheCmd.AddCommand(cacheListCmd)
	cacheCmd.AddCommand(cacheCountCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}

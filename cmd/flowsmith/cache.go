package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/flowsmith/pkg/cache/sqlite"
)

func newCacheCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage the diagram cache",
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show cache statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			c, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			stats, err := c.Stats(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Printf("Entries:    %d\nEmbedded:   %d\nTotal hits: %d\n",
				stats.Entries, stats.WithEmbeddings, stats.TotalHits)
			return nil
		},
	}

	var olderThan time.Duration
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Clear cache entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			c, err := sqlite.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = c.Close() }()

			n, err := c.Clear(cmd.Context(), olderThan)
			if err != nil {
				return err
			}
			if olderThan > 0 {
				fmt.Printf("Cleared %d entries not used in the last %s.\n", n, olderThan)
			} else {
				fmt.Printf("Cleared %d entries.\n", n)
			}
			return nil
		},
	}
	clearCmd.Flags().DurationVar(&olderThan, "older-than", 0, "only clear entries not accessed within this duration (e.g. 720h)")

	cmd.AddCommand(statsCmd, clearCmd)
	return cmd
}

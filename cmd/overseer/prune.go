package main

import (
	"fmt"
	"time"

	"github.com/rpggio/overseer/internal/domain/activity"
	"github.com/rpggio/overseer/internal/sqlite"
	"github.com/spf13/cobra"
)

func newPruneCmd() *cobra.Command {
	var horizon time.Duration

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete resolved activities older than the retention horizon",
		Long:  "Run one retention pass. Pending approvals are never deleted.\nWithout --horizon the configured retention.horizon is used.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rt, err := openApp()
			if err != nil {
				return err
			}
			defer rt.Close()

			if !cmd.Flags().Changed("horizon") {
				horizon = rt.cfg.Retention.Horizon.Std()
			}
			store := activity.NewService(sqlite.NewActivityRepository(rt.db), rt.logger)
			n, err := store.Prune(cmd.Context(), horizon)
			if err != nil {
				return fmt.Errorf("prune: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Pruned %d activities older than %s\n", n, horizon)
			return nil
		},
	}

	cmd.Flags().DurationVar(&horizon, "horizon", 0, "delete resolved activities older than this (e.g. 720h)")
	return cmd
}

package main

import (
	"fmt"

	"github.com/goliatone/go-reconciler/core"
	"github.com/spf13/cobra"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig(ctx, core.Config{})
			if err != nil {
				return err
			}
			client, reg, err := openMigrated(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer client.Close()
			for _, source := range reg.Sources {
				fmt.Fprintf(cmd.OutOrStdout(), "migrations applied: %s (%s)\n", source.Dialect, source.Path)
			}
			return nil
		},
	}
}

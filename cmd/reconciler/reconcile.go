package main

import (
	"encoding/json"
	"fmt"

	reconciler "github.com/goliatone/go-reconciler"
	"github.com/goliatone/go-reconciler/core"
	"github.com/goliatone/go-reconciler/scheduler"
	"github.com/spf13/cobra"
)

func newReconcileCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile <name>",
		Short: "Run one reconciler once and print its report",
		Long: `Run one reconciler immediately, outside the schedule.

Examples:
  reconciler reconcile order_cleanup
  reconciler reconcile pending_payment --config reconciler.yaml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg, err := opts.loadConfig(ctx, core.Config{})
			if err != nil {
				return err
			}
			client, _, err := openMigrated(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer client.Close()

			app, err := reconciler.Setup(ctx, cfg,
				reconciler.WithPersistenceClient(client),
				reconciler.WithLogger(opts.logger(cfg.ServiceName)),
			)
			if err != nil {
				return err
			}
			defer app.Close()

			report, err := app.Scheduler.Trigger(ctx, args[0])
			if err != nil {
				return err
			}
			encoder := json.NewEncoder(cmd.OutOrStdout())
			encoder.SetIndent("", "  ")
			if err := encoder.Encode(reportView(report)); err != nil {
				return err
			}
			if report.Status == scheduler.StatusFailed {
				return fmt.Errorf("reconciler %s failed: %v", report.Reconciler, report.Err)
			}
			return nil
		},
	}
}

func reportView(report scheduler.RunReport) map[string]any {
	errs := make([]string, 0, len(report.Result.Errors))
	for _, recordErr := range report.Result.Errors {
		errs = append(errs, recordErr.Error())
	}
	return map[string]any{
		"reconciler":  report.Reconciler,
		"status":      report.Status,
		"duration_ms": report.Duration.Milliseconds(),
		"scanned":     report.Result.ScannedCount,
		"updated":     report.Result.UpdatedCount,
		"errors":      errs,
	}
}

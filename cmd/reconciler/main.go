package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
	logLevel   string
	logFormat  string
	dbDriver   string
	dbDSN      string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	rootCmd := &cobra.Command{
		Use:           "reconciler",
		Short:         "Payment webhook ingestion and scheduled commerce reconciliation",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to a YAML config file")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	flags.StringVar(&opts.logFormat, "log-format", "json", "log format (json, text)")
	flags.StringVar(&opts.dbDriver, "db-driver", "", "database driver override (sqlite3, postgres)")
	flags.StringVar(&opts.dbDSN, "db-dsn", "", "database dsn override")

	rootCmd.AddCommand(newServeCmd(opts))
	rootCmd.AddCommand(newMigrateCmd(opts))
	rootCmd.AddCommand(newReconcileCmd(opts))
	return rootCmd
}

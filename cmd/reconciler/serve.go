package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	reconciler "github.com/goliatone/go-reconciler"
	"github.com/goliatone/go-reconciler/core"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(opts *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve webhooks and run the scheduler and job worker",
		Long: `Start the HTTP server, the reconciliation scheduler and the work queue
consumer. SIGINT or SIGTERM drains in-flight runs before exit.

Examples:
  reconciler serve --config reconciler.yaml
  reconciler serve --addr :9090`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			cfg, err := opts.loadConfig(ctx, core.Config{HTTP: core.HTTPConfig{Addr: addr}})
			if err != nil {
				return err
			}
			client, _, err := openMigrated(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer client.Close()

			logger := opts.logger(cfg.ServiceName)
			app, err := reconciler.Setup(ctx, cfg,
				reconciler.WithPersistenceClient(client),
				reconciler.WithLogger(logger),
			)
			if err != nil {
				return err
			}
			defer app.Close()

			gin.SetMode(gin.ReleaseMode)
			server := &http.Server{
				Addr:              cfg.HTTP.Addr,
				Handler:           app.HTTPServer().Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			if err := app.Start(ctx); err != nil {
				return err
			}
			serveErr := make(chan error, 1)
			go func() {
				logger.Info("http server listening", "addr", cfg.HTTP.Addr)
				if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			var listenErr error
			select {
			case <-ctx.Done():
			case listenErr = <-serveErr:
				if listenErr != nil {
					logger.Error("http server failed", "error", listenErr)
				}
			}

			logger.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			httpErr := server.Shutdown(shutdownCtx)
			appErr := app.Stop(shutdownCtx)
			return errors.Join(listenErr, httpErr, appErr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "http listen address override")
	return cmd
}

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/flowsmith/pkg/api"
)

func newServeCmd(g *globalFlags) *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP generation API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Listen = listen
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
				defer cancel()
				if err := a.Close(closeCtx); err != nil {
					logger.Error("shutdown", "error", err)
				}
			}()

			opts := []api.Option{
				api.WithCache(a.cache),
				api.WithUsage(a.tracker),
				api.WithGatherer(a.registry),
				api.WithLogger(logger),
			}
			if a.quota != nil {
				opts = append(opts, api.WithQuota(a.quota))
			}
			srv := api.New(cfg.Listen, a.pipeline, a.jobs, opts...)
			logger.Info("flowsmith listening", "addr", cfg.Listen, "version", version)
			return srv.ListenAndServe(ctx)
		},
	}

	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	return cmd
}

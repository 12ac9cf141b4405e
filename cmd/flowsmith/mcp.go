package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/flowsmith/pkg/mcp"
)

func newMCPCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the generation tools over MCP (JSON-RPC on stdio)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := g.load()
			if err != nil {
				return err
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
				_ = a.Close(closeCtx)
			}()

			srv := mcp.New(a.pipeline, a.jobs, a.cache, a.tracker, version)
			if a.audit != nil {
				srv.SetAuditor(a.audit)
			}
			srv.SetLogger(logger)
			return srv.Run(ctx, os.Stdin, os.Stdout)
		},
	}
}

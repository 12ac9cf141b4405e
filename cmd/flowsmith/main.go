package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/flowsmith/pkg/config"
)

var version = "dev"

// globalFlags are shared by every subcommand.
type globalFlags struct {
	configPath string
	logLevel   string
	logFormat  string
}

func main() {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           "flowsmith",
		Short:         "flowsmith turns process descriptions into validated BPMN, P&ID and DMN documents",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "flowsmith.yaml", "path to config file")
	root.PersistentFlags().StringVar(&g.logLevel, "log-level", "", "log level: debug, info, warn, error (overrides config)")
	root.PersistentFlags().StringVar(&g.logFormat, "log-format", "", "log format: text or json (overrides config)")

	root.AddCommand(
		newServeCmd(g),
		newGenerateCmd(g),
		newAnalyzeCmd(g),
		newValidateCmd(),
		newCompareCmd(),
		newCacheCmd(g),
		newJobsCmd(g),
		newStatsCmd(g),
		newAuditCmd(g),
		newMCPCmd(g),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// load reads the config file (defaults when it does not exist) and installs
// the slog default handler. Logs go to stderr so stdout stays usable for
// documents and the MCP protocol.
func (g *globalFlags) load() (*config.Config, *slog.Logger, error) {
	cfg, err := config.LoadOrDefault(g.configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	if g.logLevel != "" {
		cfg.Log.Level = g.logLevel
	}
	if g.logFormat != "" {
		cfg.Log.Format = g.logFormat
	}
	logger := newLogger(cfg.Log)
	slog.SetDefault(logger)
	return cfg, logger, nil
}

func newLogger(lc config.LogConfig) *slog.Logger {
	var level slog.Level
	switch strings.ToLower(lc.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.ToLower(lc.Format) == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/flowsmith/pkg/audit"
	"github.com/pario-ai/flowsmith/pkg/models"
)

func newAuditCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Query and manage the generation audit log",
	}

	cmd.AddCommand(
		newAuditSearchCmd(g),
		newAuditShowCmd(g),
		newAuditStatsCmd(g),
		newAuditCleanupCmd(g),
	)
	return cmd
}

func newAuditSearchCmd(g *globalFlags) *cobra.Command {
	var (
		diagramType string
		model       string
		outcome     string
		since       string
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search audit log entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(g)
			if err != nil {
				return err
			}
			defer cleanup()

			opts := models.AuditQueryOpts{
				DiagramType: models.DiagramType(diagramType),
				Model:       model,
				Outcome:     outcome,
				Limit:       limit,
			}
			if since != "" {
				t, err := time.Parse("2006-01-02", since)
				if err != nil {
					return fmt.Errorf("invalid --since date (use YYYY-MM-DD): %w", err)
				}
				opts.Since = t
			}

			entries, err := l.Query(context.Background(), opts)
			if err != nil {
				return err
			}
			fmt.Print(formatAuditEntries(entries))
			return nil
		},
	}

	cmd.Flags().StringVarP(&diagramType, "type", "t", "", "filter by diagram type")
	cmd.Flags().StringVar(&model, "model", "", "filter by model")
	cmd.Flags().StringVar(&outcome, "outcome", "", "filter by outcome: generated, cached, split, queued, failed")
	cmd.Flags().StringVar(&since, "since", "", "start date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&limit, "limit", 50, "max entries to return")
	return cmd
}

func newAuditShowCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <request-id>",
		Short: "Show a single audit entry by request ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(g)
			if err != nil {
				return err
			}
			defer cleanup()

			entries, err := l.Query(context.Background(), models.AuditQueryOpts{
				RequestID: args[0],
				Limit:     1,
			})
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("No entry found for that request ID.")
				return nil
			}

			e := entries[0]
			fmt.Printf("Request ID:    %s\n", e.RequestID)
			fmt.Printf("Diagram type:  %s\n", e.DiagramType)
			fmt.Printf("Outcome:       %s\n", e.Outcome)
			if e.ErrorKind != "" {
				fmt.Printf("Error kind:    %s\n", e.ErrorKind)
			}
			fmt.Printf("Model:         %s\n", e.Model)
			fmt.Printf("Provider:      %s\n", e.Provider)
			fmt.Printf("Score:         %.2f\n", e.Score)
			fmt.Printf("Attempts:      %d\n", e.Attempts)
			fmt.Printf("Cached:        %t\n", e.Cached)
			fmt.Printf("Latency:       %dms\n", e.LatencyMs)
			fmt.Printf("Time:          %s\n", e.CreatedAt.Format(time.RFC3339))
			if len(e.Redacted) > 0 {
				fmt.Printf("Redacted:      %s\n", strings.Join(e.Redacted, ", "))
			}
			if e.Prompt != "" {
				fmt.Printf("\n--- Prompt ---\n%s\n", e.Prompt)
			}
			if e.Document != "" {
				fmt.Printf("\n--- Document ---\n%s\n", e.Document)
			}
			return nil
		},
	}
	return cmd
}

func newAuditStatsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show audit log counts by diagram type, outcome and day",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(g)
			if err != nil {
				return err
			}
			defer cleanup()

			stats, err := l.Stats(context.Background())
			if err != nil {
				return err
			}
			fmt.Print(formatAuditStats(stats))
			return nil
		},
	}
}

func newAuditCleanupCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup",
		Short: "Delete audit entries older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			l, cleanup, err := openAuditLogger(g)
			if err != nil {
				return err
			}
			defer cleanup()

			deleted, err := l.Cleanup(context.Background())
			if err != nil {
				return err
			}
			fmt.Printf("Deleted %d audit entries.\n", deleted)
			return nil
		},
	}
}

// openAuditLogger opens the audit database even when auditing is disabled
// for new requests, so old entries stay queryable.
func openAuditLogger(g *globalFlags) (*audit.Logger, func(), error) {
	cfg, _, err := g.load()
	if err != nil {
		return nil, nil, err
	}
	l, err := audit.New(cfg.Audit)
	if err != nil {
		return nil, nil, fmt.Errorf("open audit db: %w", err)
	}
	return l, func() { _ = l.Close() }, nil
}

func formatAuditEntries(entries []models.AuditEntry) string {
	if len(entries) == 0 {
		return "No audit entries found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-38s %-6s %-10s %-20s %8s %8s %-20s\n",
		"REQUEST ID", "TYPE", "OUTCOME", "MODEL", "ATTEMPTS", "LATENCY", "TIME")
	b.WriteString(strings.Repeat("-", 116) + "\n")
	for _, e := range entries {
		fmt.Fprintf(&b, "%-38s %-6s %-10s %-20s %8d %6dms %-20s\n",
			e.RequestID, e.DiagramType, e.Outcome, e.Model, e.Attempts,
			e.LatencyMs, e.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func formatAuditStats(stats []models.AuditStat) string {
	if len(stats) == 0 {
		return "No audit stats found.\n"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%-6s %-10s %-12s %8s\n", "TYPE", "OUTCOME", "DAY", "COUNT")
	b.WriteString(strings.Repeat("-", 39) + "\n")
	for _, s := range stats {
		fmt.Fprintf(&b, "%-6s %-10s %-12s %8d\n", s.DiagramType, s.Outcome, s.Day, s.Count)
	}
	return b.String()
}

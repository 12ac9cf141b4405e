package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/flowsmith/pkg/budget"
	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/tracker"
)

func newStatsCmd(g *globalFlags) *cobra.Command {
	var (
		diagramType string
		recent      bool
		quota       bool
		since       time.Duration
		limit       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show generation usage statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			var dt models.DiagramType
			if diagramType != "" {
				if dt, err = models.ParseDiagramType(diagramType); err != nil {
					return err
				}
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := cmd.Context()

			if quota {
				if len(cfg.Quotas) == 0 {
					fmt.Println("No token quotas configured.")
					return nil
				}
				statuses, err := budget.New(cfg.Quotas, tr).Status(ctx)
				if err != nil {
					return err
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "MODEL\tPERIOD\tLIMIT\tUSED\tREMAINING")
				for _, st := range statuses {
					model := st.Policy.Model
					if model == "" {
						model = "*"
					}
					period := st.Policy.Period
					if period == "" {
						period = models.QuotaDaily
					}
					fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\n", model, period, st.Policy.MaxTokens, st.Used, st.Remaining)
				}
				return w.Flush()
			}

			if recent {
				recs, err := tr.Recent(ctx, time.Now().Add(-since), limit)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Println("No requests found.")
					return nil
				}
				w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "TIME\tREQUEST\tTYPE\tMODEL\tATTEMPTS\tTOKENS\tLATENCY\tCACHED")
				for _, r := range recs {
					if dt != "" && r.DiagramType != dt {
						continue
					}
					fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%d\t%dms\t%t\n",
						r.CreatedAt.Format("2006-01-02T15:04:05"), r.RequestID, r.DiagramType, r.Model,
						r.Attempts, r.TotalTokens, r.LatencyMs, r.Cached)
				}
				return w.Flush()
			}

			summaries, err := tr.Summary(ctx, dt)
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Println("No usage data found.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "MODEL\tTYPE\tREQUESTS\tCACHED\tATTEMPTS\tPROMPT\tCOMPLETION\tTOTAL\tAVG LATENCY")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%d\t%d\t%d\t%.0fms\n",
					s.Model, s.DiagramType, s.RequestCount, s.CachedCount, s.TotalAttempts,
					s.TotalPrompt, s.TotalCompletion, s.TotalTokens, s.AvgLatencyMs)
			}
			return w.Flush()
		},
	}

	cmd.Flags().StringVarP(&diagramType, "type", "t", "", "filter by diagram type")
	cmd.Flags().BoolVar(&quota, "quota", false, "show usage against configured token quotas")
	cmd.Flags().BoolVar(&recent, "recent", false, "list individual requests instead of the summary")
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "with --recent, how far back to look")
	cmd.Flags().IntVar(&limit, "limit", 50, "with --recent, max requests to list")
	return cmd
}

package main

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/flowsmith/pkg/jobs"
	"github.com/pario-ai/flowsmith/pkg/models"
)

func newJobsCmd(g *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect background generation jobs",
	}

	getCmd := &cobra.Command{
		Use:   "get <id>",
		Short: "Show a job and print its document once completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			store, err := jobs.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			job, err := store.Get(cmd.Context(), args[0])
			if errors.Is(err, models.ErrNotFound) {
				return fmt.Errorf("no job with ID %s", args[0])
			}
			if err != nil {
				return err
			}

			fmt.Fprintf(os.Stderr, "Job %s: %s (created %s)\n", job.ID, job.Status, job.CreatedAt.Format(time.RFC3339))
			switch job.Status {
			case models.JobCompleted:
				fmt.Println(job.Document)
			case models.JobFailed:
				return fmt.Errorf("job failed (%s): %s", job.ErrorKind, job.ErrorMessage)
			}
			return nil
		},
	}

	var (
		status string
		limit  int
	)
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List recent jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := g.load()
			if err != nil {
				return err
			}
			store, err := jobs.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			list, err := store.List(cmd.Context(), models.JobStatus(status), limit)
			if err != nil {
				return err
			}
			if len(list) == 0 {
				fmt.Println("No jobs found.")
				return nil
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tTYPE\tCREATED\tERROR")
			for _, j := range list {
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
					j.ID, j.Status, j.Input.DiagramType, j.CreatedAt.Format("2006-01-02T15:04:05"), j.ErrorKind)
			}
			return w.Flush()
		},
	}
	listCmd.Flags().StringVar(&status, "status", "", "filter by status: pending, processing, completed, failed")
	listCmd.Flags().IntVar(&limit, "limit", 20, "max jobs to list")

	cmd.AddCommand(getCmd, listCmd)
	return cmd
}

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/pario-ai/flowsmith/pkg/jobs"
	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/pipeline"
)

// requestFlags are shared by generate and analyze.
type requestFlags struct {
	diagramType string
	language    string
	skipCache   bool
	agent       bool
}

func (f *requestFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.diagramType, "type", "t", "bpmn", "diagram type: bpmn, pid or dmn")
	cmd.Flags().StringVar(&f.language, "language", "", "label language code (detected when empty)")
	cmd.Flags().BoolVar(&f.skipCache, "skip-cache", false, "always generate, ignoring cached documents")
	cmd.Flags().BoolVar(&f.agent, "agent", false, "use the smart tier and provider-assisted complexity refinement")
}

// request builds a request from the flags and the prompt, which is read from
// stdin when args is empty or "-".
func (f *requestFlags) request(args []string) (models.GenerationRequest, error) {
	dt, err := models.ParseDiagramType(f.diagramType)
	if err != nil {
		return models.GenerationRequest{}, err
	}
	prompt, err := readPrompt(args)
	if err != nil {
		return models.GenerationRequest{}, err
	}
	return models.GenerationRequest{
		Prompt:      prompt,
		DiagramType: dt,
		Language:    f.language,
		SkipCache:   f.skipCache,
		AgentMode:   f.agent,
	}, nil
}

func readPrompt(args []string) (string, error) {
	if len(args) > 0 && args[0] != "-" {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("read prompt from stdin: %w", err)
	}
	return string(b), nil
}

func newGenerateCmd(g *globalFlags) *cobra.Command {
	var (
		rf     requestFlags
		output string
		wait   bool
	)

	cmd := &cobra.Command{
		Use:   "generate [prompt|-]",
		Short: "Generate a diagram document from a description",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := rf.request(args)
			if err != nil {
				return err
			}
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := newApp(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			resp, err := a.pipeline.Handle(ctx, req)
			if err != nil {
				return fmt.Errorf("%s: %s", models.KindOf(err), models.UserMessage(err))
			}

			switch resp.Outcome {
			case pipeline.OutcomeSplit:
				fmt.Fprintf(os.Stderr, "Description is too complex for one diagram (%s). Generate these parts separately:\n", resp.Reasoning)
				for i, p := range resp.SubPrompts {
					fmt.Printf("--- part %d ---\n%s\n\n", i+1, p)
				}
				return nil
			case pipeline.OutcomeQueued:
				fmt.Fprintf(os.Stderr, "Moved to background job %s (estimated %s)\n", resp.JobID, resp.EstimatedTime)
				if !wait {
					fmt.Println(resp.JobID)
					return nil
				}
				job, err := awaitJob(ctx, a.jobs, resp.JobID)
				if err != nil {
					return err
				}
				if job.Status == models.JobFailed {
					return fmt.Errorf("job %s failed (%s): %s", job.ID, job.ErrorKind, job.ErrorMessage)
				}
				return writeDocument(output, job.Document)
			}

			if resp.Cached {
				msg := "Served from cache"
				if resp.Similarity != nil {
					msg += fmt.Sprintf(" (similarity %.3f)", *resp.Similarity)
				}
				fmt.Fprintln(os.Stderr, msg)
			}
			return writeDocument(output, resp.Document)
		},
	}

	rf.register(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", "", "write the document to a file instead of stdout")
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for background jobs to finish")
	return cmd
}

// awaitJob polls the job store until the job leaves the pending and
// processing states.
func awaitJob(ctx context.Context, store *jobs.Store, id string) (*models.GenerationJob, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		job, err := store.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if job.Status == models.JobCompleted || job.Status == models.JobFailed {
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func writeDocument(path, doc string) error {
	if path == "" {
		fmt.Println(doc)
		return nil
	}
	if err := os.WriteFile(path, []byte(doc+"\n"), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %s\n", path)
	return nil
}

func newAnalyzeCmd(g *globalFlags) *cobra.Command {
	var rf requestFlags

	cmd := &cobra.Command{
		Use:   "analyze [prompt|-]",
		Short: "Show the complexity profile, model and dispatch mode without generating",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := rf.request(args)
			if err != nil {
				return err
			}
			cfg, logger, err := g.load()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close(context.Background()) }()

			analysis, err := a.pipeline.Analyze(cmd.Context(), req)
			if err != nil {
				return fmt.Errorf("%s: %s", models.KindOf(err), models.UserMessage(err))
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(analysis)
		},
	}

	rf.register(cmd)
	return cmd
}

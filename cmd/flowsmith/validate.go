package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pario-ai/flowsmith/pkg/diagram"
	"github.com/pario-ai/flowsmith/pkg/layout"
	"github.com/pario-ai/flowsmith/pkg/models"
	"github.com/pario-ai/flowsmith/pkg/validate"
)

func readDocument(path string) (string, error) {
	if path == "-" {
		return readPrompt(nil)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return string(b), nil
}

func strategyFor(name string) (*diagram.Strategy, error) {
	dt, err := models.ParseDiagramType(name)
	if err != nil {
		return nil, err
	}
	return diagram.For(dt), nil
}

func newValidateCmd() *cobra.Command {
	var (
		diagramType string
		fix         bool
		output      string
	)

	cmd := &cobra.Command{
		Use:   "validate <file|->",
		Short: "Sanitize and validate a BPMN, P&ID or DMN document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := strategyFor(diagramType)
			if err != nil {
				return err
			}
			doc, err := readDocument(args[0])
			if err != nil {
				return err
			}

			doc, report := validate.Sanitize(doc, s)
			if report.Changed() {
				fmt.Fprintf(os.Stderr, "Sanitized: %d prefixes renamed, %d tags closed, %d ampersands escaped",
					report.RenamedPrefixes, report.ClosedTags, report.EscapedAmpersands)
				for name, n := range report.Removed {
					fmt.Fprintf(os.Stderr, ", %d %s removed", n, name)
				}
				fmt.Fprintln(os.Stderr)
			}

			result := validate.Validate(doc, s, validate.Options{})
			if fix && result.Kind == models.ViolationMissingLayout {
				laid, err := layout.NewLayered().Apply(doc, s)
				if err != nil {
					return fmt.Errorf("layout: %w", err)
				}
				doc = laid
				result = validate.Validate(doc, s, validate.Options{})
				fmt.Fprintln(os.Stderr, "Added a computed layout section.")
			}

			if !result.Valid {
				return fmt.Errorf("invalid %s document: %s", diagramType, result)
			}
			fmt.Fprintln(os.Stderr, "valid")
			if fix {
				return writeDocument(output, doc)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&diagramType, "type", "t", "bpmn", "diagram type: bpmn, pid or dmn")
	cmd.Flags().BoolVar(&fix, "fix", false, "print the repaired document, computing a layout when it is missing")
	cmd.Flags().StringVarP(&output, "output", "o", "", "with --fix, write the document to a file instead of stdout")
	return cmd
}

func newCompareCmd() *cobra.Command {
	var (
		diagramType string
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "compare <predicted> <reference>",
		Short: "Score a generated document against a reference by element signature",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := strategyFor(diagramType)
			if err != nil {
				return err
			}
			pred, err := readDocument(args[0])
			if err != nil {
				return err
			}
			ref, err := readDocument(args[1])
			if err != nil {
				return err
			}

			c, err := validate.CompareElements(pred, ref, s)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(c)
			}

			fmt.Printf("Elements:  %d predicted, %d reference, %d matched\n", c.Predicted, c.Reference, c.Matched)
			fmt.Printf("Precision: %.3f\nRecall:    %.3f\nF1:        %.3f\n", c.Precision, c.Recall, c.F1)
			if len(c.Missing) > 0 {
				fmt.Printf("\nMissing:\n  %s\n", strings.Join(c.Missing, "\n  "))
			}
			if len(c.Extra) > 0 {
				fmt.Printf("\nExtra:\n  %s\n", strings.Join(c.Extra, "\n  "))
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&diagramType, "type", "t", "bpmn", "diagram type: bpmn, pid or dmn")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the comparison as JSON")
	return cmd
}

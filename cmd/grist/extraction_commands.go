package main

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"grist/internal/orchestrator"
	"grist/internal/store"
)

func newExtractionCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "extraction",
		Short: "Inspect extraction results",
	}
	cmd.AddCommand(newExtractionShowCommand(ctx))
	cmd.AddCommand(newExtractionAnnotateCommand(ctx))
	return cmd
}

func newExtractionShowCommand(ctx *commandContext) *cobra.Command {
	var rawFlag bool

	cmd := &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show the extraction committed for a completed job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(func(orch *orchestrator.Orchestrator, _ *store.Store) error {
				extraction, err := orch.GetExtractionForJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if rawFlag {
					fmt.Fprintln(out, extraction.ExtractedData)
					return nil
				}
				fmt.Fprintf(out, "Extraction:  %s\n", extraction.ID)
				fmt.Fprintf(out, "Job:         %s\n", extraction.JobID)
				fmt.Fprintf(out, "Document:    %s\n", extraction.DocumentID)
				fmt.Fprintf(out, "Confidence:  %.2f\n", extraction.ConfidenceScore)
				fmt.Fprintf(out, "Format:      %s\n", extraction.FormatType)
				fmt.Fprintf(out, "Extracted:   %s\n", formatTime(extraction.ExtractedAt))
				if extraction.Notes != "" {
					fmt.Fprintf(out, "Notes:       %s\n", extraction.Notes)
				}
				fmt.Fprintf(out, "Validation:  %s\n", orDash(extraction.ValidationResults))
				fmt.Fprintln(out, "Data:")
				fmt.Fprintln(out, indentJSON(extraction.ExtractedData))
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&rawFlag, "raw", false, "Print only the raw extracted JSON")
	return cmd
}

func newExtractionAnnotateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "annotate <extraction-id> <notes>",
		Short: "Attach reviewer notes to an extraction",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(func(orch *orchestrator.Orchestrator, _ *store.Store) error {
				if err := orch.AnnotateExtraction(cmd.Context(), args[0], args[1]); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Annotated extraction %s.\n", args[0])
				return nil
			})
		},
	}
}

func indentJSON(raw string) string {
	var buf bytes.Buffer
	if err := json.Indent(&buf, []byte(raw), "", "  "); err != nil {
		return raw
	}
	return buf.String()
}

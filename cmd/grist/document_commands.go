package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"grist/internal/orchestrator"
	"grist/internal/store"
)

func newDocumentCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "document",
		Short: "Manage registered documents",
	}
	cmd.AddCommand(newDocumentAddCommand(ctx))
	cmd.AddCommand(newDocumentListCommand(ctx))
	return cmd
}

func newDocumentAddCommand(ctx *commandContext) *cobra.Command {
	var enqueue bool

	cmd := &cobra.Command{
		Use:   "add <file>",
		Short: "Register a local spreadsheet for extraction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(func(orch *orchestrator.Orchestrator, _ *store.Store) error {
				file, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer file.Close()

				doc, err := orch.RegisterDocument(cmd.Context(), args[0], file)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Registered document %s (%s, %d bytes)\n", doc.ID, doc.FileType, doc.FileSize)

				if enqueue {
					job, err := orch.CreateJob(cmd.Context(), doc.ID)
					if err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Created job %s\n", job.ID)
				}
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&enqueue, "enqueue", false, "Create an extraction job immediately")
	return cmd
}

func newDocumentListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered documents",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(func(_ *orchestrator.Orchestrator, st *store.Store) error {
				docs, err := st.ListDocuments(cmd.Context(), 100, 0)
				if err != nil {
					return err
				}
				if len(docs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No documents registered.")
					return nil
				}
				rows := make([][]string, 0, len(docs))
				for _, doc := range docs {
					rows = append(rows, []string{
						shortID(doc.ID),
						doc.Filename,
						doc.FileType,
						fmt.Sprintf("%d", doc.FileSize),
						string(doc.Status),
						formatTime(doc.UploadedAt),
					})
				}
				fmt.Fprintln(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Filename", "Type", "Bytes", "Status", "Uploaded"},
					rows, 4))
				return nil
			})
		},
	}
}

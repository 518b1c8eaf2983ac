package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"grist/internal/orchestrator"
	"grist/internal/store"
)

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show job counts and queue depth",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withOrchestrator(func(orch *orchestrator.Orchestrator, _ *store.Store) error {
				summary, err := orch.Health(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Total jobs:  %d\n", summary.Total)
				fmt.Fprintf(out, "Pending:     %d\n", summary.Pending)
				fmt.Fprintf(out, "Processing:  %d\n", summary.Processing)
				fmt.Fprintf(out, "Completed:   %d\n", summary.Completed)
				fmt.Fprintf(out, "Failed:      %d\n", summary.Failed)
				fmt.Fprintf(out, "Canceled:    %d\n", summary.Canceled)
				fmt.Fprintf(out, "Queue depth: %d\n", summary.Queued)
				return nil
			})
		},
	}
}

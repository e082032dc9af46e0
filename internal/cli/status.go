package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/zene/zenesync/internal/models"
)

// StatusResult is the output of the status command.
type StatusResult struct {
	models.SyncStatus
	Operations []models.PendingOperation `json:"operations,omitempty"`
}

// NewStatusCommand creates the status command.
func NewStatusCommand(opts *RootOptions) *cobra.Command {
	var showOps bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show pending operations and the last successful sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				status, err := a.records.SyncStatus(ctx)
				if err != nil {
					return err
				}
				result := StatusResult{SyncStatus: status}
				if showOps {
					if result.Operations, err = a.engine.Queue().Drain(ctx); err != nil {
						return err
					}
				}

				return output(cmd.OutOrStdout(), opts, result, func(w io.Writer) {
					fmt.Fprintf(w, "Pending:      %d\n", status.Pending)
					fmt.Fprintf(w, "Dead letters: %d\n", status.DeadLetters)
					if status.LastSync != nil {
						fmt.Fprintf(w, "Last sync:    %s\n", status.LastSync.Local().Format(time.RFC3339))
					} else {
						fmt.Fprintln(w, "Last sync:    never")
					}
					for _, op := range result.Operations {
						fmt.Fprintf(w, "  %-6s %-20s %s", op.Operation, op.Table, op.ID)
						if op.LastError != "" {
							fmt.Fprintf(w, "  (%d attempts: %s)", op.Attempts, op.LastError)
						}
						fmt.Fprintln(w)
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&showOps, "ops", false, "list queued operations")
	return cmd
}

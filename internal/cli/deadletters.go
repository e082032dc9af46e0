package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

// NewDeadLettersCommand creates the dead-letters command group.
func NewDeadLettersCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "dead-letters",
		Aliases: []string{"dlq"},
		Short:   "Inspect operations the server kept rejecting",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List dead-lettered operations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				ops, err := a.engine.Queue().DeadLetters(ctx)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts, ops, func(w io.Writer) {
					if len(ops) == 0 {
						fmt.Fprintln(w, "No dead letters")
						return
					}
					for _, op := range ops {
						fmt.Fprintf(w, "%-6s %-20s %s  %d attempts: %s\n", op.Operation, op.Table, op.ID, op.Attempts, op.LastError)
					}
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry",
		Short: "Move dead-lettered operations back to the queue",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.engine.Queue().RetryDeadLetters(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d operations\n", n)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "discard",
		Short: "Drop every dead-lettered operation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				n, err := a.engine.Queue().DiscardDeadLetters(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Discarded %d operations\n", n)
				return nil
			})
		},
	})

	return cmd
}

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/records"
)

// NewGoalsCommand creates the goals command group.
func NewGoalsCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "goals",
		Short: "List and edit goals",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			return requireUser(opts)
		},
	}

	cmd.AddCommand(newGoalsListCommand(opts))
	cmd.AddCommand(newGoalsAddCommand(opts))
	cmd.AddCommand(newGoalsCompleteCommand(opts))
	cmd.AddCommand(newGoalsDeleteCommand(opts))
	return cmd
}

func newGoalsListCommand(opts *RootOptions) *cobra.Command {
	var local bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List goals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				goals, err := a.records.GetGoals(ctx, opts.UserID, records.ReadOptions{LocalOnly: local})
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts, goals, func(w io.Writer) {
					for _, g := range goals {
						printGoal(w, g)
					}
				})
			})
		},
	}

	cmd.Flags().BoolVar(&local, "local", false, "read the local cache only")
	return cmd
}

func newGoalsAddCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add TEXT",
		Short: "Add a goal",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				goal, err := a.records.SaveGoal(ctx, models.Goal{UserID: opts.UserID, Goal: strings.Join(args, " ")})
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts, goal, func(w io.Writer) { printGoal(w, goal) })
			})
		},
	}
}

func newGoalsCompleteCommand(opts *RootOptions) *cobra.Command {
	var undo bool

	cmd := &cobra.Command{
		Use:   "complete ID",
		Short: "Mark a goal as completed",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				goal, err := a.records.CompleteGoal(ctx, opts.UserID, models.RecordID(args[0]), !undo)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts, goal, func(w io.Writer) { printGoal(w, goal) })
			})
		},
	}

	cmd.Flags().BoolVar(&undo, "undo", false, "mark as not completed")
	return cmd
}

func newGoalsDeleteCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "delete ID",
		Short: "Delete a goal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.records.DeleteGoal(ctx, opts.UserID, models.RecordID(args[0]))
			})
		},
	}
}

func printGoal(w io.Writer, g models.Goal) {
	mark := " "
	if g.Completed {
		mark = "x"
	}
	fmt.Fprintf(w, "[%s] %s  %s  (%s)\n", mark, g.ID, g.Goal, g.Timestamp)
}

package cli

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zene/zenesync/internal/models"
)

// NewJournalCommand creates the journal command group.
func NewJournalCommand(opts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "journal",
		Short: "Read and write journal entries",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if err := cmd.Root().PersistentPreRunE(cmd, args); err != nil {
				return err
			}
			return requireUser(opts)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List journal entries",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				logs, err := a.records.GetJournalLogs(ctx, opts.UserID)
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts, logs, func(w io.Writer) {
					for _, l := range logs {
						printJournal(w, l)
					}
				})
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "add TEXT",
		Short: "Write a journal entry",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				l, err := a.records.SaveJournalLog(ctx, models.JournalLog{UserID: opts.UserID, Log: strings.Join(args, " ")})
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts, l, func(w io.Writer) { printJournal(w, l) })
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "edit ID TEXT",
		Short: "Replace the text of a journal entry",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				l, err := a.records.UpdateJournalLog(ctx, opts.UserID, models.RecordID(args[0]), strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				return output(cmd.OutOrStdout(), opts, l, func(w io.Writer) { printJournal(w, l) })
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "delete ID",
		Short: "Delete a journal entry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				return a.records.DeleteJournalLog(ctx, opts.UserID, models.RecordID(args[0]))
			})
		},
	})

	return cmd
}

func printJournal(w io.Writer, l models.JournalLog) {
	fmt.Fprintf(w, "%s  %s\n    %s\n", l.Timestamp, l.ID, l.Log)
}

package cli

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zene/zenesync/internal/models"
	"github.com/zene/zenesync/internal/observability"
	"github.com/zene/zenesync/internal/realtime"
	"github.com/zene/zenesync/internal/syncengine"
)

// NewSyncCommand creates the sync command.
func NewSyncCommand(opts *RootOptions) *cobra.Command {
	var watch bool

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Replay queued changes and refresh local caches",
		Long: `Replay every queued change against the server, ignoring retry backoff.
With --user the local caches of that user are refreshed afterwards.

With --watch the command keeps running: it syncs periodically and, when
realtime is enabled, refreshes a table as soon as another device changes it.

Examples:
  zenectl sync --user u1
  zenectl sync --user u1 --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app) error {
				res, err := a.records.ForceSync(ctx, opts.UserID)
				if err != nil {
					return err
				}
				if err := printResult(cmd.OutOrStdout(), opts, res); err != nil {
					return err
				}
				if !watch {
					return nil
				}
				return runWatch(ctx, a, opts)
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep syncing until interrupted")
	return cmd
}

func printResult(w io.Writer, opts *RootOptions, res *syncengine.Result) error {
	return output(w, opts, res, func(w io.Writer) {
		if res.Offline {
			fmt.Fprintln(w, "Server unreachable, changes stay queued")
			return
		}
		fmt.Fprintf(w, "Replayed %d, skipped %d, failed %d, dead-lettered %d, deferred %d\n",
			len(res.Replayed), len(res.Skipped), len(res.Failed), len(res.DeadLettered), res.Deferred)
	})
}

func runWatch(ctx context.Context, a *app, opts *RootOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := observability.GetLogger().WithField("component", "zenectl")

	scheduler := syncengine.NewScheduler(a.engine, a.cfg.Client.SyncInterval())
	scheduler.Start(ctx)
	defer scheduler.Stop()

	if a.cfg.Client.RealtimeEnabled && opts.UserID != "" {
		listener, err := realtime.NewListener(a.cfg.Client.RemoteURL, a.cfg.Security.APIKey, a.cfg.Security.APIKeyHeader, opts.UserID,
			func(ctx context.Context, event models.ChangeEvent) error {
				if event.UserID != opts.UserID {
					return nil
				}
				return a.engine.RefreshTable(ctx, event.UserID, event.Table)
			})
		if err != nil {
			return err
		}
		go listener.Run(ctx)
	}

	logger.Infof("Watching for changes, press Ctrl+C to stop")
	<-ctx.Done()
	return nil
}

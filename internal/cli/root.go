// Package cli implements zenectl, a command-line client that reads and writes wellness records
// through the offline-first sync layer.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/zene/zenesync/internal/config"
	"github.com/zene/zenesync/internal/connectivity"
	"github.com/zene/zenesync/internal/localstore"
	"github.com/zene/zenesync/internal/observability"
	"github.com/zene/zenesync/internal/queue"
	"github.com/zene/zenesync/internal/records"
	"github.com/zene/zenesync/internal/remote"
	"github.com/zene/zenesync/internal/syncengine"
)

// Version is injected at build time
var Version = "dev"

// RootOptions holds global flags for all commands.
type RootOptions struct {
	UserID  string
	Format  string // "json" | "text"
	Verbose bool
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for zenectl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:     "zenectl",
		Short:   "Zene offline-first sync client",
		Long:    "Read and write Zene wellness records. Changes made offline are queued and replayed when the server is reachable.",
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			if opts.Verbose {
				observability.GetLogger().SetLevel(observability.LevelDebug)
			}
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&opts.UserID, "user", "u", os.Getenv("ZENE_USER_ID"), "user id (defaults to $ZENE_USER_ID)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")

	cmd.AddCommand(NewStatusCommand(opts))
	cmd.AddCommand(NewSyncCommand(opts))
	cmd.AddCommand(NewGoalsCommand(opts))
	cmd.AddCommand(NewJournalCommand(opts))
	cmd.AddCommand(NewDeadLettersCommand(opts))

	return cmd
}

// isValidFormat checks if the format is one of the allowed values.
func isValidFormat(format string) bool {
	for _, f := range ValidFormats {
		if f == format {
			return true
		}
	}
	return false
}

// app is the wired client: one store, one queue, one engine per process
type app struct {
	cfg       *config.Config
	store     *localstore.Store
	engine    *syncengine.Engine
	records   *records.Records
	telemetry *observability.Telemetry
}

func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := observability.GetLogger().WithField("component", "zenectl")

	telemetry, err := observability.Initialize(ctx, observability.NewTelemetryConfig("zenectl", Version))
	if err != nil {
		logger.Warnf("Telemetry unavailable: %v", err)
	}

	store, err := localstore.Open(cfg.Client.LocalStorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}

	policy := queue.DefaultPolicy()
	policy.MaxAttempts = cfg.Client.MaxAttempts

	backend := remote.NewHTTPClient(cfg.Client.RemoteURL, cfg.Security.APIKey, cfg.Security.APIKeyHeader)
	probe := connectivity.NewHTTPProbe(cfg.Client.ProbeURL, cfg.Client.ProbeTimeout())

	var engineOpts []syncengine.Option
	if metrics, err := observability.NewSyncMetrics(); err != nil {
		logger.Warnf("Sync metrics unavailable: %v", err)
	} else {
		engineOpts = append(engineOpts, syncengine.WithMetrics(metrics))
	}
	q := queue.New(store, policy)
	if dropped, err := q.Sanitize(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to sanitize pending operations: %w", err)
	} else if dropped > 0 {
		logger.Infof("Dropped %d pending operations that can never be replayed", dropped)
	}
	engine := syncengine.New(store, q, backend, probe, engineOpts...)

	return &app{
		cfg:       cfg,
		store:     store,
		engine:    engine,
		records:   records.New(store, engine, backend, probe),
		telemetry: telemetry,
	}, nil
}

func (a *app) Close() {
	if err := a.telemetry.Shutdown(context.Background()); err != nil {
		observability.Warnf("Telemetry shutdown: %v", err)
	}
	a.store.Close()
}

// withApp opens the client for the duration of one command
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func requireUser(opts *RootOptions) error {
	if opts.UserID == "" {
		return fmt.Errorf("a user id is required (--user or ZENE_USER_ID)")
	}
	return nil
}

// output writes v as JSON, or calls text for the text format
func output(w io.Writer, opts *RootOptions, v any, text func(w io.Writer)) error {
	if opts.Format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(w)
	return nil
}

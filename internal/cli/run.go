package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/shopsync/internal/core"
)

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the sync engine until interrupted",
		Long: `Run the offline-first sync engine.

Opens the database, connects the configured cache backend, change feed
and server of record, then starts the authoritative store, realtime
reconciler, liveness probe loop and cache janitor. Queued mutations from
a previous run are replayed as soon as the server is reachable.

Example:
  shopsync run --config ./shopsync.yaml
  SHOPSYNC_REMOTE_URL=http://localhost:8080 shopsync run --db /tmp/shop.db -v`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEngine(rootOpts, cmd)
		},
	}
	return cmd
}

func runEngine(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("opening runtime", "db", cfg.Database, "remote", cfg.Remote.BaseURL, "cache", cfg.Cache.Backend, "feed", cfg.Realtime.Provider)
	rt, err := core.Open(ctx, cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open runtime", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			slog.Error("error closing runtime", "error", closeErr)
		}
	}()

	if err := rt.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start runtime", err)
	}

	out := opts.formatter(cmd)
	out.VerboseLog("Database: %s", cfg.Database)
	out.VerboseLog("Server of record: %s", cfg.Remote.BaseURL)
	out.VerboseLog("Cache backend: %s, change feed: %s", cfg.Cache.Backend, cfg.Realtime.Provider)

	fmt.Fprintln(cmd.OutOrStdout(), "Sync engine started.")
	fmt.Fprintln(cmd.OutOrStdout(), "Press Ctrl-C to stop.")

	<-ctx.Done()
	slog.Info("shutting down")

	slog.Info("sync engine stopped gracefully")
	return nil
}

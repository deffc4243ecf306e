package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/shopsync/internal/core"
	"github.com/roach88/shopsync/internal/fault"
	"github.com/roach88/shopsync/internal/ir"
	"github.com/roach88/shopsync/internal/remote"
	"github.com/roach88/shopsync/internal/store"
	"github.com/roach88/shopsync/internal/syncqueue"
)

// NewQueueCommand creates the queue command group.
func NewQueueCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and replay the sync queue",
	}
	cmd.AddCommand(newQueueListCommand(rootOpts))
	cmd.AddCommand(newQueueDrainCommand(rootOpts, nil))
	return cmd
}

// QueueListResult is the output of queue list.
type QueueListResult struct {
	Count      int                  `json:"count"`
	Operations []ir.QueuedOperation `json:"operations"`
}

// RenderText implements TextRenderer.
func (r QueueListResult) RenderText(w io.Writer) {
	if r.Count == 0 {
		fmt.Fprintln(w, "Sync queue is empty.")
		return
	}

	fmt.Fprintf(w, "Sync queue: %d operation(s)\n\n", r.Count)
	fmt.Fprintf(w, "%-6s %-7s %-9s %-14s %-8s %s\n", "ID", "ACTION", "TYPE", "ENTITY", "RETRIES", "ENQUEUED")
	for _, op := range r.Operations {
		fmt.Fprintf(w, "%-6s %-7s %-9s %-14s %-8d %s\n",
			strconv.FormatInt(op.ID, 10),
			op.Mutation.Action(),
			op.Mutation.EntityType(),
			op.Mutation.EntityID(),
			op.RetryCount,
			op.EnqueuedAt.Format(time.RFC3339),
		)
	}
}

func newQueueListCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued mutations in replay order",
		Long: `List the mutations waiting for replay, oldest first.

Examples:
  shopsync queue list --db ./shop.db
  shopsync queue list --db ./shop.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueList(rootOpts, cmd)
		},
	}
}

func runQueueList(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	ops, err := st.ListOperations(cmd.Context())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to list sync queue", err)
	}
	if ops == nil {
		ops = []ir.QueuedOperation{}
	}

	return opts.formatter(cmd).Success(QueueListResult{Count: len(ops), Operations: ops})
}

// DrainOutput is the output of queue drain.
type DrainOutput struct {
	syncqueue.DrainResult
}

// RenderText implements TextRenderer.
func (d DrainOutput) RenderText(w io.Writer) {
	if d.Skipped {
		fmt.Fprintln(w, "Drain skipped: another drain is in progress.")
		return
	}
	fmt.Fprintf(w, "Drained: %d succeeded, %d failed, %d dropped, %d remaining\n",
		d.Succeeded, d.Failed, d.Dropped, d.Remaining)
}

// newQueueDrainCommand builds queue drain. A non-nil r replaces the
// configured HTTP remote (for testing).
func newQueueDrainCommand(rootOpts *RootOptions, r remote.Remote) *cobra.Command {
	return &cobra.Command{
		Use:   "drain",
		Short: "Replay queued mutations against the server of record",
		Long: `Replay every queued mutation once, in FIFO order.

Successful operations are removed. Failed operations stay queued with an
incremented retry count; an operation failing its third attempt is
dropped and reported.

Exits with code 1 when any operation failed or was dropped.

Example:
  shopsync queue drain --config ./shopsync.yaml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQueueDrain(rootOpts, cmd, r)
		},
	}
}

func runQueueDrain(opts *RootOptions, cmd *cobra.Command, r remote.Remote) error {
	cfg, err := opts.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	if r == nil {
		client, err := core.OpenRemote(cfg)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to configure remote", err)
		}
		r = client
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	q := syncqueue.New(st, r, syncqueue.WithOnExhausted(func(op ir.QueuedOperation, f *fault.Fault) {
		slog.Error("queued mutation dropped", "id", op.ID, "action", op.Mutation.Action(), "entity_type", op.Mutation.EntityType(), "entity_id", op.Mutation.EntityID(), "error", f)
	}))

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out := opts.formatter(cmd)
	if n, err := q.Len(ctx); err == nil {
		out.VerboseLog("Replaying %d queued operation(s) from %s", n, cfg.Database)
	}

	res, err := q.Drain(ctx)
	if err != nil {
		return WrapExitError(ExitFailure, "drain interrupted", err)
	}

	if err := out.Success(DrainOutput{res}); err != nil {
		return err
	}
	if res.Failed > 0 || res.Dropped > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d operation(s) failed, %d dropped", res.Failed, res.Dropped))
	}
	return nil
}

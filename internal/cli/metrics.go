package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/shopsync/internal/core"
	"github.com/roach88/shopsync/internal/ir"
	"github.com/roach88/shopsync/internal/store"
	"github.com/roach88/shopsync/internal/telemetry"
)

// offlinePromptFloor is the minimum delay reported for the offline prompt.
const offlinePromptFloor = 3 * time.Second

// MetricsResult is the output of the metrics command.
type MetricsResult struct {
	Metrics      ir.Metrics    `json:"metrics"`
	PromptDelay  time.Duration `json:"prompt_delay"`
	LastSyncTime *time.Time    `json:"last_sync_time,omitempty"`
	QueueLength  int           `json:"queue_length"`
	PerfLogRows  int           `json:"perf_log_rows"`
}

// RenderText implements TextRenderer.
func (r MetricsResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Requests:        %d\n", r.Metrics.TotalRequests)
	fmt.Fprintf(w, "Cache hits:      %d (%.1f%%)\n", r.Metrics.CacheHits, r.Metrics.CacheHitRatio*100)
	fmt.Fprintf(w, "Avg load time:   %s\n", r.Metrics.AverageLoadTime)
	fmt.Fprintf(w, "Offline prompt:  %s\n", r.PromptDelay)
	if r.LastSyncTime != nil {
		fmt.Fprintf(w, "Last sync:       %s\n", r.LastSyncTime.Format(time.RFC3339))
	} else {
		fmt.Fprintln(w, "Last sync:       never")
	}
	fmt.Fprintf(w, "Queued:          %d\n", r.QueueLength)
	fmt.Fprintf(w, "Perf log rows:   %d\n", r.PerfLogRows)
}

// NewMetricsCommand creates the metrics command.
func NewMetricsCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Show persisted telemetry and sync status",
		Long: `Show the metrics aggregate saved by the last run, the last
successful sync time and the sync queue length.

Example:
  shopsync metrics --db ./shop.db --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMetrics(rootOpts, cmd)
		},
	}
}

func runMetrics(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	st, err := store.Open(cfg.Database)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open database", err)
	}
	defer st.Close()

	rec := telemetry.New(telemetry.WithStorage(st))
	if err := rec.Restore(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to read metrics", err)
	}
	m := rec.Snapshot()

	res := MetricsResult{Metrics: m, PromptDelay: m.PromptDelay(offlinePromptFloor)}

	last, err := core.LastSyncTime(ctx, st)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to read last sync time", err)
	}
	if !last.IsZero() {
		res.LastSyncTime = &last
	}

	if res.QueueLength, err = st.QueueLen(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to count sync queue", err)
	}
	if res.PerfLogRows, err = st.PerfLogLen(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to count perf log", err)
	}

	return opts.formatter(cmd).Success(res)
}

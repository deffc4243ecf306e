package cli

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/shopsync/internal/core"
	"github.com/roach88/shopsync/internal/fault"
)

// ProbeResult is the output of the probe command.
type ProbeResult struct {
	Reachable bool          `json:"reachable"`
	Latency   time.Duration `json:"latency"`
}

// RenderText implements TextRenderer.
func (r ProbeResult) RenderText(w io.Writer) {
	fmt.Fprintf(w, "Remote reachable (%s)\n", r.Latency.Round(time.Millisecond))
}

// NewProbeCommand creates the probe command.
func NewProbeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "probe",
		Short: "Run one liveness probe against the server of record",
		Long: `Send a single liveness probe to the configured probe URL.

Exits with code 1 when the server is unreachable.

Example:
  SHOPSYNC_REMOTE_URL=https://api.example.com/v1 shopsync probe`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProbe(rootOpts, cmd)
		},
	}
}

func runProbe(opts *RootOptions, cmd *cobra.Command) error {
	cfg, err := opts.load(cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	client, err := core.OpenRemote(cfg)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to configure remote", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Remote.Timeout)
	defer cancel()

	start := time.Now()
	if err := client.Probe(ctx); err != nil {
		_ = opts.formatter(cmd).Error(ErrCodeRemote, "remote unreachable", map[string]string{
			"kind":  string(fault.KindOf(err)),
			"error": err.Error(),
		})
		return WrapExitError(ExitFailure, "probe failed", err)
	}

	return opts.formatter(cmd).Success(ProbeResult{Reachable: true, Latency: time.Since(start)})
}

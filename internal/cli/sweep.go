package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/yamnet/internal/retention"
)

// SweepOptions holds flags for the sweep command.
type SweepOptions struct {
	*RootOptions
	Window time.Duration
	Force  bool
}

// SweepResult is the output of the sweep command.
type SweepResult struct {
	Cutoff  int64 `json:"cutoff"`
	Matched int64 `json:"matched"`
	Deleted int64 `json:"deleted"`
	Skipped bool  `json:"skipped,omitempty"`
}

func (r SweepResult) Text() string {
	if r.Skipped {
		return "Retention disabled, nothing deleted (use --force)"
	}
	return fmt.Sprintf("Deleted %d audio record(s) older than %s",
		r.Deleted, time.UnixMilli(r.Cutoff).UTC().Format(time.RFC3339))
}

// NewSweepCommand creates the sweep command.
func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Delete raw audio older than the retention window",
		Long: `Delete audio records whose timestamp is older than now minus the
retention window. Analysis records are never deleted.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(opts, cmd)
		},
	}

	cmd.Flags().DurationVar(&opts.Window, "window", 0, "retention window (default: retention_window_ms setting)")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "sweep even when retention is disabled")

	return cmd
}

func runSweep(opts *SweepOptions, cmd *cobra.Command) error {
	formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
	log, closeLog := newLogger(opts.RootOptions, cmd.ErrOrStderr())
	defer closeLog()

	a, err := openApp(opts.RootOptions, log)
	if err != nil {
		return err
	}
	defer a.close()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	window := opts.Window
	if window <= 0 {
		window = a.source.Current().RetentionWindow
	}
	if window <= 0 {
		window = retention.DefaultWindow
	}

	var report retention.Report
	s := a.newSweeper(opts.Force, func(r retention.Report) { report = r })
	if _, err := s.Sweep(ctx, time.Now(), window); err != nil {
		return fail(formatter, failureCode(err), "retention sweep failed", err)
	}

	return formatter.Success(SweepResult{
		Cutoff:  report.Cutoff.UnixMilli(),
		Matched: report.Matched,
		Deleted: report.Deleted,
		Skipped: report.Skipped,
	})
}

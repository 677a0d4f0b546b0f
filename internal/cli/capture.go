package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/yamnet/internal/classify"
	"github.com/roach88/yamnet/internal/pipeline"
)

// CaptureOptions holds flags for the capture command.
type CaptureOptions struct {
	*RootOptions
	Force bool
}

// CycleResult is the output of a single capture cycle.
type CycleResult struct {
	CycleID     string                `json:"cycle_id"`
	Outcome     string                `json:"outcome"`
	Timestamp   int64                 `json:"timestamp,omitempty"`
	DeviceID    string                `json:"device_id"`
	AudioBytes  int                   `json:"audio_bytes"`
	TimedOut    bool                  `json:"timed_out,omitempty"`
	Predictions []classify.Prediction `json:"predictions,omitempty"`
	AnalysisID  int64                 `json:"analysis_id,omitempty"`
	AudioID     int64                 `json:"audio_id,omitempty"`
	ExportPath  string                `json:"export_path,omitempty"`
	Error       string                `json:"error,omitempty"`
}

func (r CycleResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Cycle %s: %s", r.CycleID, r.Outcome)
	if r.Outcome == string(pipeline.OutcomeSkipped) {
		b.WriteString(" (sampler disabled, use --force)")
		return b.String()
	}
	fmt.Fprintf(&b, "\n  timestamp: %d\n  device:    %s\n  audio:     %d bytes", r.Timestamp, r.DeviceID, r.AudioBytes)
	if r.TimedOut {
		b.WriteString(" (deadline reached)")
	}
	for _, p := range r.Predictions {
		fmt.Fprintf(&b, "\n  %-40s %.4f", p.Label, p.Score)
	}
	if r.ExportPath != "" {
		fmt.Fprintf(&b, "\n  saved:     %s", r.ExportPath)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "\n  error:     %s", r.Error)
	}
	return b.String()
}

func newCycleResult(r pipeline.CycleReport) CycleResult {
	out := CycleResult{
		CycleID:     r.CycleID,
		Outcome:     string(r.Outcome),
		DeviceID:    r.DeviceID,
		AudioBytes:  r.AudioBytes,
		TimedOut:    r.TimedOut,
		Predictions: r.Predictions,
		AnalysisID:  r.AnalysisID,
		AudioID:     r.AudioID,
		ExportPath:  r.ExportPath,
	}
	if !r.Timestamp.IsZero() {
		out.Timestamp = r.Timestamp.UnixMilli()
	}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return out
}

// NewCaptureCommand creates the capture command.
func NewCaptureCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CaptureOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "capture",
		Short: "Run one capture cycle now",
		Long: `Capture, classify and store one clip using the current settings.

A classification failure is stored as an error analysis and does not fail
the command; a device or database failure does.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCapture(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Force, "force", false, "capture even when the sampler is disabled")

	return cmd
}

func runCapture(opts *CaptureOptions, cmd *cobra.Command) error {
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

	var report pipeline.CycleReport
	p := a.newPipeline(opts.Force, func(r pipeline.CycleReport) { report = r })
	if err := p.Run(ctx); err != nil {
		return fail(formatter, failureCode(err), "capture cycle failed", err)
	}
	return formatter.Success(newCycleResult(report))
}

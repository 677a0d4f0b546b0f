package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	All      bool
	Since    string
	Until    string
	Out      string
	DeviceID string
}

// ExportResult is the output of the export command.
type ExportResult struct {
	Written []string `json:"written"`
	Missing int      `json:"missing"`
}

func (r ExportResult) Text() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Exported %d file(s)", len(r.Written))
	if r.Missing > 0 {
		fmt.Fprintf(&b, ", %d record(s) without audio", r.Missing)
	}
	for _, p := range r.Written {
		b.WriteString("\n  ")
		b.WriteString(p)
	}
	return b.String()
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export [timestamp-ms]",
		Short: "Write stored audio as WAV files",
		Long: `Reconstruct WAV files from stored audio.

With a timestamp, exports that one recording. With --all, exports the audio
of every analysis record in the --since/--until range, newest first;
records whose audio was already swept are counted and skipped.

Files are written to <out>/yamnet_recordings/yamnet_<timestamp>.wav, with
_<device> appended when the device is known (always for --all).

Example:
  yamnet export 1714566600000
  yamnet export --all --since 2024-05-01T00:00:00Z --out ./wav`,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(opts, args, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "export every analysed recording in range")
	cmd.Flags().StringVar(&opts.Since, "since", "", "with --all: oldest timestamp (RFC 3339 or epoch ms)")
	cmd.Flags().StringVar(&opts.Until, "until", "", "with --all: newest timestamp (RFC 3339 or epoch ms)")
	cmd.Flags().StringVar(&opts.Out, "out", "", "output root (default: export_root setting or .)")
	cmd.Flags().StringVar(&opts.DeviceID, "device", "", "device id to match (default: any)")

	return cmd
}

func runExport(opts *ExportOptions, args []string, cmd *cobra.Command) error {
	if opts.All == (len(args) == 1) {
		return NewExitError(ExitCommandError, "give either a timestamp or --all")
	}
	var ts int64
	if len(args) == 1 {
		var err error
		if ts, err = strconv.ParseInt(args[0], 10, 64); err != nil {
			return WrapExitError(ExitCommandError, "invalid timestamp", err)
		}
	}
	filter, err := rangeFilter(opts.Since, opts.Until)
	if err != nil {
		return err
	}

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
	e := a.newExporter(opts.Out)

	if !opts.All {
		path, err := e.ExportByTimestamp(ctx, ts, opts.DeviceID)
		if err != nil {
			return fail(formatter, failureCode(err), "export failed", err)
		}
		return formatter.Success(ExportResult{Written: []string{path}})
	}

	sum, err := e.ExportAll(ctx, filter)
	if err != nil {
		return fail(formatter, CodeExport, "export failed", err)
	}
	if sum.Written == nil {
		sum.Written = []string{}
	}
	return formatter.Success(ExportResult{Written: sum.Written, Missing: sum.Missing})
}

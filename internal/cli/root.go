package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"github.com/roach88/yamnet/internal/capture"
	"github.com/roach88/yamnet/internal/classify"
)

// Backends supplies the hardware-bound implementations. They are injected
// by the binary so this package can be tested with fakes.
type Backends struct {
	// Device returns the microphone used for each capture cycle.
	Device func() capture.Device
	Model  classify.Backend
}

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose    bool
	Format     string // "json" | "text"
	ConfigPath string
	Database   string
	EnvFile    string
	LogFile    string

	Backends Backends
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the yamnet command tree.
func NewRootCommand(b Backends) *cobra.Command {
	opts := &RootOptions{Backends: b}

	cmd := &cobra.Command{
		Use:   "yamnet",
		Short: "Periodic sound-event sampler",
		Long: `Capture short audio clips on a schedule, classify them with the YAMNet
model, and keep the results in a local SQLite database.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !isValidFormat(opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}

	f := cmd.PersistentFlags()
	f.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	f.StringVar(&opts.Format, "format", "text", "output format (json|text)")
	f.StringVar(&opts.ConfigPath, "config", "", "settings file (YAML)")
	f.StringVar(&opts.Database, "db", "", "SQLite database path (overrides the database setting)")
	f.StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file with YAMNET_* overrides")
	f.StringVar(&opts.LogFile, "log-file", "", "write logs to a rotating file instead of stderr")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewCaptureCommand(opts))
	cmd.AddCommand(NewSweepCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))
	cmd.AddCommand(NewListCommand(opts))
	cmd.AddCommand(NewConfigCommand(opts))

	return cmd
}

func isValidFormat(format string) bool {
	return slices.Contains(ValidFormats, format)
}

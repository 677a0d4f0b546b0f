package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/roach88/yamnet/internal/config"
)

// SettingsResult is the output of config show.
type SettingsResult struct {
	Path     string      `json:"path,omitempty"`
	Settings config.File `json:"settings"`
}

func (r SettingsResult) Text() string {
	data, err := yaml.Marshal(r.Settings)
	if err != nil {
		return fmt.Sprintf("cannot encode settings: %v", err)
	}
	var b strings.Builder
	if r.Path != "" {
		fmt.Fprintf(&b, "# %s\n", r.Path)
	}
	b.Write(data)
	return strings.TrimSuffix(b.String(), "\n")
}

// NewConfigCommand creates the config command group.
func NewConfigCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect or create settings",
	}
	cmd.AddCommand(newConfigShowCommand(rootOpts))
	cmd.AddCommand(newConfigInitCommand(rootOpts))
	return cmd
}

func newConfigShowCommand(opts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective settings",
		Long: `Print the settings after applying the settings file and YAMNET_*
environment overrides. Invalid values are reported as warnings and
replaced by their defaults.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			log, closeLog := newLogger(opts, cmd.ErrOrStderr())
			defer closeLog()

			s, err := config.Loader{Path: opts.ConfigPath, EnvFile: opts.EnvFile, Logger: log}.Load()
			if err != nil {
				if outErr := formatter.Error(CodeSettings, err.Error(), nil); outErr != nil {
					return outErr
				}
				return WrapExitError(ExitCommandError, "failed to load settings", err)
			}
			if opts.Database != "" {
				s.Database = opts.Database
			}
			return formatter.Success(SettingsResult{Path: opts.ConfigPath, Settings: s.ToFile()})
		},
	}
}

func newConfigInitCommand(opts *RootOptions) *cobra.Command {
	var overwrite bool

	cmd := &cobra.Command{
		Use:           "init <path>",
		Short:         "Write a settings file with the defaults",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			formatter := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
			path := args[0]

			if _, err := os.Stat(path); err == nil && !overwrite {
				return NewExitError(ExitCommandError, fmt.Sprintf("%s already exists (use --overwrite)", path))
			} else if err != nil && !errors.Is(err, os.ErrNotExist) {
				return WrapExitError(ExitCommandError, "cannot check settings file", err)
			}

			s := config.Defaults()
			if err := config.Write(path, s); err != nil {
				return fail(formatter, CodeSettings, "cannot write settings", err)
			}
			return formatter.Success(SettingsResult{Path: path, Settings: s.ToFile()})
		},
	}

	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "replace an existing file")
	return cmd
}

package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/config"
)

// ValidationResult holds validation results.
type ValidationResult struct {
	Valid  bool           `json:"valid"`
	Config *config.Config `json:"config,omitempty"`
}

func (r ValidationResult) String() string {
	return "✓ Configuration valid"
}

// NewValidateCommand creates the validate command.
func NewValidateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate [config-file]",
		Short: "Validate a configuration file",
		Long: `Resolve the configuration (file, .env, STOCKLINE_* variables) and check
it against the configuration schema without opening the database.
The file argument takes precedence over --config.

Exit codes:
  0 - Configuration valid
  1 - Configuration invalid
  2 - Config file not found`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := rootOpts.ConfigPath
			if len(args) == 1 {
				path = args[0]
			}
			return runValidate(rootOpts, path, cmd)
		},
	}
}

func runValidate(opts *RootOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	if path != "" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "config file not found", err)
		}
	}

	scoped := *opts
	scoped.ConfigPath = path
	cfg, err := scoped.loadConfig()
	if err != nil {
		if ferr := formatter.Error(ErrCodeConfig, err.Error(), nil); ferr != nil {
			return ferr
		}
		return WrapExitError(ExitFailure, "invalid configuration", err)
	}

	if opts.Verbose && opts.Format != "json" {
		data, err := cfg.YAML()
		if err == nil {
			fmt.Fprint(formatter.GetErrWriter(), string(data))
		}
	}
	return formatter.Success(ValidationResult{Valid: true, Config: cfg})
}

package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// InitOptions holds flags for the init command.
type InitOptions struct {
	*RootOptions
	WriteConfig string // path to write the resolved configuration to
	Force       bool   // overwrite an existing config file
}

// InitResult is the output of init.
type InitResult struct {
	Database string   `json:"database"`
	Tables   []string `json:"tables"`
	Config   string   `json:"config,omitempty"`
}

func (r InitResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "✓ Database ready: %s (%d tables)", r.Database, len(r.Tables))
	if r.Config != "" {
		fmt.Fprintf(&b, "\n✓ Config written: %s", r.Config)
	}
	return b.String()
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &InitOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create or migrate the local database",
		Long: `Open the configured database, creating the schema on first run and
applying pending migrations otherwise. Opening an initialised database
again is a no-op.

Examples:
  stockline init --db ./shop.db
  stockline init --write-config stockline.yaml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.WriteConfig, "write-config", "", "write the resolved configuration to this file")
	cmd.Flags().BoolVar(&opts.Force, "force", false, "overwrite an existing config file")

	return cmd
}

func runInit(opts *InitOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "load config", err)
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "initialise", err)
	}
	defer a.Close()

	if err := a.openStore(cmd.Context()); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "open database", err)
	}
	formatter.VerboseLog("Opened %s", cfg.Database)

	result := InitResult{Database: cfg.Database, Tables: a.store.Schema().Tables()}

	if opts.WriteConfig != "" {
		if _, err := os.Stat(opts.WriteConfig); err == nil && !opts.Force {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "write config",
				fmt.Errorf("%s exists (use --force to overwrite)", opts.WriteConfig))
		}
		data, err := cfg.YAML()
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "render config", err)
		}
		if err := os.WriteFile(opts.WriteConfig, data, 0o644); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeConfig, "write config", err)
		}
		result.Config = opts.WriteConfig
	}

	return formatter.Success(result)
}

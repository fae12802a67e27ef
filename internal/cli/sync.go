package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/syncer"
)

// SyncReport is the output of sync.
type SyncReport struct {
	Results []syncer.Result `json:"results"`
	Failed  []string        `json:"failed"`
}

func (r SyncReport) String() string {
	var b strings.Builder
	for _, res := range r.Results {
		if res.Success {
			fmt.Fprintf(&b, "✓ %s: %d downloaded, %d uploaded", res.Table, res.Downloaded, res.Uploaded)
			if res.Rejected > 0 {
				fmt.Fprintf(&b, ", %d rejected", res.Rejected)
			}
			b.WriteByte('\n')
		} else {
			fmt.Fprintf(&b, "✗ %s: %s\n", res.Table, res.Error)
		}
	}
	fmt.Fprintf(&b, "\nSync Summary: %d tables, %d failed", len(r.Results), len(r.Failed))
	return b.String()
}

// NewSyncCommand creates the sync command.
func NewSyncCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sync [table...]",
		Short: "Run one sync cycle against the remote",
		Long: `Run one pull-then-push cycle per table against the configured remote.
Without arguments the configured sync tables are used, in order.
A failing table does not stop the others.

Exit codes:
  0 - Every table synced
  1 - One or more tables failed
  2 - Command error (config, database, remote connection)

Examples:
  stockline sync
  stockline sync client stock_item --format json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSync(rootOpts, args, cmd)
		},
	}
	return cmd
}

func runSync(opts *RootOptions, tables []string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "load config", err)
	}
	if len(tables) == 0 {
		tables = cfg.Sync.Tables
	}

	a, err := newApp(cfg, false)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "initialise", err)
	}
	defer a.Close()

	for _, t := range tables {
		if _, err := a.store.Schema().Table(t); err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeNotFound, "sync", err)
		}
	}

	if err := a.openStore(ctx); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "open database", err)
	}
	if err := a.connectRemote(ctx); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeRemote, "connect remote", err)
	}

	formatter.VerboseLog("Syncing %s", strings.Join(tables, ", "))
	results := a.syncer().SyncAll(ctx, tables)

	report := SyncReport{Failed: syncer.Failed(results)}
	for _, t := range tables {
		report.Results = append(report.Results, results[t])
	}

	if len(report.Failed) == 0 {
		return formatter.Success(report)
	}

	if opts.Format != "json" {
		fmt.Fprintln(formatter.Writer, report)
	}
	if err := formatter.Error(ErrCodeSync, fmt.Sprintf("%d table(s) failed to sync", len(report.Failed)), report.Failed); err != nil {
		return err
	}
	return WrapExitError(ExitFailure, "sync failed", syncer.FirstError(results, tables))
}

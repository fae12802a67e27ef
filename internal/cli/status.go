package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// TableStatus is the sync bookkeeping of one table.
type TableStatus struct {
	Table     string `json:"table"`
	Pending   int    `json:"pending"`
	Watermark string `json:"watermark,omitempty"`
	LastPull  string `json:"last_pull,omitempty"`
	LastPush  string `json:"last_push,omitempty"`
}

// StatusReport is the output of status.
type StatusReport struct {
	Database string        `json:"database"`
	Tables   []TableStatus `json:"tables"`
}

func (r StatusReport) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Database: %s\n", r.Database)
	for _, t := range r.Tables {
		fmt.Fprintf(&b, "  %-12s pending=%d", t.Table, t.Pending)
		if t.LastPull != "" {
			fmt.Fprintf(&b, " last_pull=%s", t.LastPull)
		}
		if t.LastPush != "" {
			fmt.Fprintf(&b, " last_push=%s", t.LastPush)
		}
		b.WriteByte('\n')
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show pending changes and sync bookkeeping per table",
		Long: `For every configured sync table, show how many local rows are waiting
to be pushed and when the table was last pulled and pushed.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStatus(rootOpts, cmd)
		},
	}
}

func runStatus(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	ctx := cmd.Context()

	cfg, err := opts.loadConfig()
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeConfig, "load config", err)
	}
	a, err := newApp(cfg, false)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeGeneric, "initialise", err)
	}
	defer a.Close()
	if err := a.openStore(ctx); err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "open database", err)
	}

	states, err := a.store.SyncStates(ctx)
	if err != nil {
		return formatter.Fail(ExitCommandError, ErrCodeStore, "read sync state", err)
	}
	byTable := make(map[string]TableStatus, len(states))
	for _, s := range states {
		byTable[s.Table] = TableStatus{
			Watermark: deref(s.Watermark),
			LastPull:  deref(s.LastPull),
			LastPush:  deref(s.LastPush),
		}
	}

	report := StatusReport{Database: cfg.Database, Tables: make([]TableStatus, 0, len(cfg.Sync.Tables))}
	for _, table := range cfg.Sync.Tables {
		dirty, err := a.store.Dirty(ctx, table)
		if err != nil {
			return formatter.Fail(ExitCommandError, ErrCodeStore, "read pending rows", err)
		}
		st := byTable[table]
		st.Table = table
		st.Pending = len(dirty)
		report.Tables = append(report.Tables, st)
	}
	return formatter.Success(report)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

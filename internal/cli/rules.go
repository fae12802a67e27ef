package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stockline/internal/cascade"
)

// RuleInfo describes one cascade rule.
type RuleInfo struct {
	Name        string `json:"name"`
	Table       string `json:"table"`
	Timing      string `json:"timing"`
	Op          string `json:"op"`
	Description string `json:"description"`
	LocalOnly   bool   `json:"local_only"`
}

// RuleList is the output of rules.
type RuleList []RuleInfo

func (l RuleList) String() string {
	var b strings.Builder
	for i, r := range l {
		fmt.Fprintf(&b, "%2d. %s\n    %s %s %s: %s\n", i+1, r.Name, r.Timing, r.Op, r.Table, r.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

// NewRulesCommand creates the rules command.
func NewRulesCommand(rootOpts *RootOptions) *cobra.Command {
	var table string

	cmd := &cobra.Command{
		Use:   "rules",
		Short: "List the cascade rules",
		Long: `List the cascade rules in evaluation order. Rules run inside the
transaction of the write that triggers them, before or after the row
is written.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return rootOpts.formatter(cmd).Success(listRules(table))
		},
	}

	cmd.Flags().StringVar(&table, "table", "", "only rules triggered by this table")
	return cmd
}

func listRules(table string) RuleList {
	list := RuleList{}
	for _, r := range cascade.DefaultRules() {
		if table != "" && r.Table != table {
			continue
		}
		list = append(list, RuleInfo{
			Name:        r.Name,
			Table:       r.Table,
			Timing:      r.Timing.String(),
			Op:          string(r.Op),
			Description: r.Description,
			LocalOnly:   r.LocalOnly,
		})
	}
	return list
}

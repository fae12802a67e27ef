package harness

import (
	"fmt"
	"strings"
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/stockline/internal/record"
)

// Render writes the trace in a stable text form, one line per step and one
// indented line per rule firing.
func Render(name string, result *Result) []byte {
	var buf strings.Builder
	fmt.Fprintf(&buf, "scenario: %s\n", name)
	for _, step := range result.Trace {
		fmt.Fprintf(&buf, "[%d] %s %s %s: %s", step.Seq, step.Phase, step.Op, step.Table, step.Outcome)
		if step.Outcome == OutcomeOK {
			if step.Op == record.OpInsert {
				fmt.Fprintf(&buf, " id=%v", step.ID)
			} else {
				fmt.Fprintf(&buf, " rows=%d", step.RowsAffected)
			}
		}
		buf.WriteByte('\n')
		for _, f := range step.Rules {
			fmt.Fprintf(&buf, "    rule %s (%s)\n", f.Rule, f.Table)
		}
	}
	if result.Pass {
		buf.WriteString("pass\n")
	} else {
		fmt.Fprintf(&buf, "fail: %d errors\n", len(result.Errors))
	}
	return []byte(buf.String())
}

// RunWithGolden runs a scenario and compares its rendered trace with
// testdata/golden/<name>.golden.
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	AssertGolden(t, scenario.Name, result)
	return result, nil
}

// AssertGolden compares an existing result against its golden file.
func AssertGolden(t *testing.T, name string, result *Result) {
	t.Helper()

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, name, Render(name, result))
}

package harness

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/store"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string
	Expected string
	Actual   string

	// Firings is the rule trace, included for rule assertions.
	Firings []RuleFiring
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Firings) > 0 {
		fmt.Fprintf(&buf, "\nRules fired:\n")
		for i, f := range e.Firings {
			fmt.Fprintf(&buf, "  [%d] %s (%s)\n", i+1, f.Rule, f.Table)
		}
	}
	return buf.String()
}

// AssertionContext gives assertions access to the final database state.
type AssertionContext struct {
	Store *store.Store
	Ctx   context.Context
}

// EvaluateAssertions evaluates every assertion and returns the failure messages.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var failures []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertRuleFired:
			err = assertRuleFired(result.Firings(), assertion)
		case AssertRuleOrder:
			err = assertRuleOrder(result.Firings(), assertion)
		case AssertRuleCount:
			err = assertRuleCount(result.Firings(), assertion)
		case AssertFinalState, AssertRowCount:
			if actx == nil || actx.Store == nil {
				err = fmt.Errorf("assertion[%d]: %s requires database context", i, assertion.Type)
			} else if assertion.Type == AssertFinalState {
				err = assertFinalState(actx.Ctx, actx.Store, assertion)
			} else {
				err = assertRowCount(actx.Ctx, actx.Store, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			failures = append(failures, err.Error())
		}
	}
	return failures
}

func assertRuleFired(firings []RuleFiring, assertion Assertion) error {
	for _, f := range firings {
		if f.Rule == assertion.Rule {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertRuleFired,
		Expected: fmt.Sprintf("rule %s to fire", assertion.Rule),
		Actual:   "not found in trace",
		Firings:  firings,
	}
}

// assertRuleOrder checks the first firing of each rule follows the listed
// order. Other rules may fire in between.
func assertRuleOrder(firings []RuleFiring, assertion Assertion) error {
	positions := make(map[string]int)
	for i, f := range firings {
		if _, seen := positions[f.Rule]; !seen {
			positions[f.Rule] = i + 1
		}
	}

	for _, rule := range assertion.Rules {
		if positions[rule] == 0 {
			return &AssertionError{
				Type:     AssertRuleOrder,
				Expected: fmt.Sprintf("all rules fired: %v", assertion.Rules),
				Actual:   fmt.Sprintf("missing rule: %s", rule),
				Firings:  firings,
			}
		}
	}

	for i := 1; i < len(assertion.Rules); i++ {
		prev, curr := assertion.Rules[i-1], assertion.Rules[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertRuleOrder,
				Expected: fmt.Sprintf("rules in order: %v", assertion.Rules),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Firings: firings,
			}
		}
	}
	return nil
}

func assertRuleCount(firings []RuleFiring, assertion Assertion) error {
	count := 0
	for _, f := range firings {
		if f.Rule == assertion.Rule {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertRuleCount,
			Expected: fmt.Sprintf("%d firings of %s", assertion.Count, assertion.Rule),
			Actual:   fmt.Sprintf("%d firings", count),
			Firings:  firings,
		}
	}
	return nil
}

// assertFinalState checks exactly one row matches where and that it carries
// every expect field (subset match).
func assertFinalState(ctx context.Context, st *store.Store, assertion Assertion) error {
	rows, err := st.Select(ctx, assertion.Table, record.Query{Where: record.Match(assertion.Where)})
	if err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}

	whereDesc := formatWhere(assertion.Where)
	switch len(rows) {
	case 0:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("row in %s where %s", assertion.Table, whereDesc),
			Actual:   "row not found",
		}
	case 1:
	default:
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("exactly one row in %s where %s", assertion.Table, whereDesc),
			Actual:   fmt.Sprintf("%d rows matched (assertion is ambiguous)", len(rows)),
		}
	}

	actual := rows[0]
	for _, key := range sortedKeys(assertion.Expect) {
		expected := assertion.Expect[key]
		value, ok := actual[key]
		if !ok {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q to exist", key),
				Actual:   fmt.Sprintf("field %q not present in %s", key, assertion.Table),
			}
		}
		if !record.Equal(expected, value) {
			return &AssertionError{
				Type:     AssertFinalState,
				Expected: fmt.Sprintf("field %q = %v (type %T)", key, expected, expected),
				Actual:   fmt.Sprintf("field %q = %v (type %T)", key, value, value),
			}
		}
	}
	return nil
}

func assertRowCount(ctx context.Context, st *store.Store, assertion Assertion) error {
	rows, err := st.Select(ctx, assertion.Table, record.Query{Where: record.Match(assertion.Where)})
	if err != nil {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("query table %s", assertion.Table),
			Actual:   fmt.Sprintf("query error: %v", err),
		}
	}
	if len(rows) != assertion.Count {
		return &AssertionError{
			Type:     AssertRowCount,
			Expected: fmt.Sprintf("%d rows in %s where %s", assertion.Count, assertion.Table, formatWhere(assertion.Where)),
			Actual:   fmt.Sprintf("%d rows", len(rows)),
		}
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// formatWhere renders conditions for messages, keys sorted.
func formatWhere(where map[string]any) string {
	if len(where) == 0 {
		return "(no conditions)"
	}
	parts := make([]string, 0, len(where))
	for _, k := range sortedKeys(where) {
		parts = append(parts, fmt.Sprintf("%s=%v", k, where[k]))
	}
	return strings.Join(parts, " AND ")
}

package record

import (
	"fmt"
	"strings"
)

// CondOp is a comparison operator in a Cond.
type CondOp string

const (
	OpEq     CondOp = "eq"
	OpNeq    CondOp = "neq"
	OpGt     CondOp = "gt"
	OpGte    CondOp = "gte"
	OpLt     CondOp = "lt"
	OpLte    CondOp = "lte"
	OpIsNull CondOp = "is_null"
	OpIn     CondOp = "in"

	// OpUnsynced matches rows whose last_sync is NULL or older than updated_at.
	OpUnsynced CondOp = "unsynced"
)

// Cond is a single column condition.
type Cond struct {
	Column string `json:"column,omitempty" yaml:"column,omitempty"`
	Op     CondOp `json:"op" yaml:"op"`
	Value  any    `json:"value,omitempty" yaml:"value,omitempty"`
}

// Predicate is a conjunction of conditions. The empty predicate matches all rows.
//
// Predicates are structured rather than raw SQL so that the same filter can be
// rendered for SQLite, rendered for Postgres, and evaluated in memory.
type Predicate []Cond

// All matches every row.
func All() Predicate { return nil }

// Eq matches column = value.
func Eq(column string, value any) Predicate {
	return Predicate{{Column: column, Op: OpEq, Value: value}}
}

// Gt matches column > value.
func Gt(column string, value any) Predicate {
	return Predicate{{Column: column, Op: OpGt, Value: value}}
}

// IsNull matches column IS NULL.
func IsNull(column string) Predicate {
	return Predicate{{Column: column, Op: OpIsNull}}
}

// In matches column IN (values...).
func In(column string, values ...any) Predicate {
	return Predicate{{Column: column, Op: OpIn, Value: values}}
}

// Unsynced matches dirty rows: last_sync IS NULL OR updated_at > last_sync.
func Unsynced() Predicate {
	return Predicate{{Op: OpUnsynced}}
}

// Match builds an equality predicate from a field map, in sorted key order.
func Match(fields map[string]any) Predicate {
	row := NewRow(fields)
	var p Predicate
	for _, k := range row.SortedKeys() {
		p = append(p, Cond{Column: k, Op: OpEq, Value: row[k]})
	}
	return p
}

// And combines two predicates.
func (p Predicate) And(other Predicate) Predicate {
	out := make(Predicate, 0, len(p)+len(other))
	out = append(out, p...)
	return append(out, other...)
}

// Columns lists the columns referenced by the predicate.
func (p Predicate) Columns() []string {
	var cols []string
	for _, c := range p {
		if c.Op == OpUnsynced {
			cols = append(cols, "last_sync", "updated_at")
			continue
		}
		cols = append(cols, c.Column)
	}
	return cols
}

// SQL renders the predicate with '?' placeholders. Column names are emitted
// verbatim; callers validate them against the schema first.
// The empty predicate renders as "1 = 1".
func (p Predicate) SQL() (string, []any, error) {
	if len(p) == 0 {
		return "1 = 1", nil, nil
	}
	parts := make([]string, 0, len(p))
	var args []any
	for _, c := range p {
		switch c.Op {
		case OpEq:
			if c.Value == nil {
				parts = append(parts, c.Column+" IS NULL")
				continue
			}
			parts = append(parts, c.Column+" = ?")
			args = append(args, Normalize(c.Value))
		case OpNeq:
			parts = append(parts, c.Column+" <> ?")
			args = append(args, Normalize(c.Value))
		case OpGt:
			parts = append(parts, c.Column+" > ?")
			args = append(args, Normalize(c.Value))
		case OpGte:
			parts = append(parts, c.Column+" >= ?")
			args = append(args, Normalize(c.Value))
		case OpLt:
			parts = append(parts, c.Column+" < ?")
			args = append(args, Normalize(c.Value))
		case OpLte:
			parts = append(parts, c.Column+" <= ?")
			args = append(args, Normalize(c.Value))
		case OpIsNull:
			parts = append(parts, c.Column+" IS NULL")
		case OpIn:
			values := inValues(c.Value)
			if len(values) == 0 {
				parts = append(parts, "1 = 0")
				continue
			}
			marks := strings.TrimSuffix(strings.Repeat("?, ", len(values)), ", ")
			parts = append(parts, fmt.Sprintf("%s IN (%s)", c.Column, marks))
			for _, v := range values {
				args = append(args, Normalize(v))
			}
		case OpUnsynced:
			parts = append(parts, "(last_sync IS NULL OR updated_at > last_sync)")
		default:
			return "", nil, fmt.Errorf("unsupported operator %q", c.Op)
		}
	}
	return strings.Join(parts, " AND "), args, nil
}

// Matches evaluates the predicate against a row in memory.
func (p Predicate) Matches(row Row) bool {
	for _, c := range p {
		if !c.matches(row) {
			return false
		}
	}
	return true
}

func (c Cond) matches(row Row) bool {
	switch c.Op {
	case OpUnsynced:
		last := row["last_sync"]
		return last == nil || Compare(row["updated_at"], last) > 0
	case OpIsNull:
		return row[c.Column] == nil
	case OpIn:
		for _, v := range inValues(c.Value) {
			if row[c.Column] != nil && Equal(row[c.Column], v) {
				return true
			}
		}
		return false
	}

	v := row[c.Column]
	if c.Op == OpEq && c.Value == nil {
		return v == nil
	}
	if v == nil {
		return false
	}
	cmp := Compare(v, c.Value)
	switch c.Op {
	case OpEq:
		return cmp == 0
	case OpNeq:
		return cmp != 0
	case OpGt:
		return cmp > 0
	case OpGte:
		return cmp >= 0
	case OpLt:
		return cmp < 0
	case OpLte:
		return cmp <= 0
	default:
		return false
	}
}

func inValues(v any) []any {
	switch vals := v.(type) {
	case []any:
		return vals
	case []string:
		out := make([]any, len(vals))
		for i, s := range vals {
			out[i] = s
		}
		return out
	case []int64:
		out := make([]any, len(vals))
		for i, n := range vals {
			out[i] = n
		}
		return out
	default:
		return nil
	}
}

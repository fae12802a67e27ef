package record

// Order is one ORDER BY term.
type Order struct {
	Column string `json:"column"`
	Desc   bool   `json:"desc,omitempty"`
}

// Asc orders by column ascending.
func Asc(column string) Order { return Order{Column: column} }

// Desc orders by column descending.
func Desc(column string) Order { return Order{Column: column, Desc: true} }

// Query describes a select: filter, optional ordering, optional limit (0 = none).
type Query struct {
	Where   Predicate `json:"where,omitempty"`
	OrderBy []Order   `json:"order_by,omitempty"`
	Limit   int       `json:"limit,omitempty"`
}

// OpKind names a write operation.
type OpKind string

const (
	OpInsert OpKind = "insert"
	OpUpdate OpKind = "update"
	OpDelete OpKind = "delete"
)

// Op is one write in a transaction batch.
type Op struct {
	Kind   OpKind    `json:"kind" yaml:"op"`
	Table  string    `json:"table" yaml:"table"`
	Fields Row       `json:"fields,omitempty" yaml:"fields,omitempty"`
	Where  Predicate `json:"where,omitempty" yaml:"-"`
}

// Result reports the outcome of a write.
// Inserts fill ID; updates and deletes fill RowsAffected.
type Result struct {
	ID           any   `json:"id,omitempty"`
	RowsAffected int64 `json:"rows_affected"`
}

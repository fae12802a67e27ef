// Package remote holds the contract of the hosted backend the sync engine
// reconciles with, plus two implementations: Postgres (pgx) for a real
// row-level-secured multi-tenant database and Memory for tests and demos.
//
// Rows are exchanged as record.Row field maps. Timestamps travel as ISO-8601
// strings in record.TimeLayout.
package remote

import (
	"context"

	"github.com/roach88/stockline/internal/record"
)

// Endpoint is the remote data endpoint.
type Endpoint interface {
	// Select returns rows matching filter. Nil columns selects every column.
	Select(ctx context.Context, table string, columns []string, filter record.Predicate) ([]record.Row, error)

	// Insert inserts rows as-is.
	Insert(ctx context.Context, table string, rows []record.Row) error

	// Upsert inserts row or replaces the row with the same id.
	Upsert(ctx context.Context, table string, row record.Row) error

	// Delete removes rows matching filter and returns how many were removed.
	Delete(ctx context.Context, table string, filter record.Predicate) (int64, error)
}

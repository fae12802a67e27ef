package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/schema"
	"github.com/roach88/stockline/internal/testutil"
)

// createTestStore opens a store in a temp dir with a deterministic clock and ids.
func createTestStore(t *testing.T) (*Store, *testutil.DeterministicClock) {
	t.Helper()
	clock := testutil.NewDeterministicClock()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(context.Background(), path,
		WithClock(clock),
		WithIDGenerator(testutil.NewSequentialIDs("id")))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

// seedStockItem inserts stock item "item-1" with the given quantity.
func seedStockItem(t *testing.T, s *Store, quantity int64) {
	t.Helper()
	_, err := s.Insert(context.Background(), schema.StockItem, record.Row{
		"id": "item-1", "name": "cement", "quantity": quantity, "unit_value": "12.50",
	})
	require.NoError(t, err)
}

func stockLevels(t *testing.T, s *Store) (quantity, reserved int64) {
	t.Helper()
	row, err := s.Get(context.Background(), schema.StockItem, "item-1")
	require.NoError(t, err)
	return row.Int64("quantity"), row.Int64("reserved")
}

func count(t *testing.T, s *Store, table string, where record.Predicate) int {
	t.Helper()
	rows, err := s.Select(context.Background(), table, record.Query{Where: where})
	require.NoError(t, err)
	return len(rows)
}

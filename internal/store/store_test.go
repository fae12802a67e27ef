package store

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/schema"
)

func TestOpen_CreatesNewDatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.db")

	s, err := Open(context.Background(), path)
	require.NoError(t, err)
	defer s.Close()

	_, err = os.Stat(path)
	assert.NoError(t, err, "database file was not created")
	assert.True(t, s.Ready())
}

func TestOpen_Pragmas(t *testing.T) {
	s, _ := createTestStore(t)

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("user_version", "1"))
}

func TestOpen_ReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "test.db")

	s1, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s1.Insert(ctx, schema.StockItem, record.Row{"id": "item-1", "name": "sand", "quantity": 4})
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	for i := 0; i < 3; i++ {
		s, err := Open(ctx, path)
		require.NoError(t, err, "reopen %d", i)
		row, err := s.Get(ctx, schema.StockItem, "item-1")
		require.NoError(t, err)
		assert.Equal(t, int64(4), row.Int64("quantity"))
		s.Close()
	}
}

func TestSchema_ColumnsMatchDDL(t *testing.T) {
	s, _ := createTestStore(t)

	for _, name := range s.Schema().Tables() {
		tbl, err := s.Schema().Table(name)
		require.NoError(t, err)

		var cols []string
		err = s.DB().Select(&cols, "SELECT name FROM pragma_table_info(?)", name)
		require.NoError(t, err)

		want := slices.Clone(tbl.Columns)
		slices.Sort(want)
		slices.Sort(cols)
		assert.Equal(t, want, cols, name)
	}
}

func TestStore_NotInitialized(t *testing.T) {
	ctx := context.Background()
	s := New()

	_, err := s.Insert(ctx, schema.StockItem, record.Row{"name": "x"})
	assert.True(t, errs.IsNotInitialized(err))

	_, err = s.Select(ctx, schema.StockItem, record.Query{})
	assert.True(t, errs.IsNotInitialized(err))

	_, err = s.Dirty(ctx, schema.StockItem)
	assert.True(t, errs.IsNotInitialized(err))
}

func TestStore_NotInitializedAfterClose(t *testing.T) {
	s, _ := createTestStore(t)
	require.NoError(t, s.Close())

	_, err := s.Get(context.Background(), schema.StockItem, "item-1")
	assert.True(t, errs.IsNotInitialized(err))
}

func TestOnReady_DrainsQueueOnce(t *testing.T) {
	s := New()
	var calls []string
	s.OnReady(func() { calls = append(calls, "first") })
	s.OnReady(func() { calls = append(calls, "second") })
	assert.Empty(t, calls)

	require.NoError(t, s.Open(context.Background(), filepath.Join(t.TempDir(), "test.db")))
	defer s.Close()
	assert.Equal(t, []string{"first", "second"}, calls)

	s.OnReady(func() { calls = append(calls, "late") })
	assert.Equal(t, []string{"first", "second", "late"}, calls)
}

func TestUnsupportedEnvironmentDetection(t *testing.T) {
	assert.True(t, isCgoMissing(assertErr("Binary was compiled with 'CGO_ENABLED=0', go-sqlite3 requires cgo to work. This is a stub")))
	assert.False(t, isCgoMissing(assertErr("unable to open database file")))
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestDSN(t *testing.T) {
	assert.Equal(t, "a.db?_foreign_keys=on&_busy_timeout=5000", dsn("a.db"))
	assert.Equal(t, "file:a.db?cache=shared&_foreign_keys=on&_busy_timeout=5000", dsn("file:a.db?cache=shared"))
}

package remote

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/record"
)

func TestMemory_SelectFiltersAndProjects(t *testing.T) {
	m := NewMemory()
	m.Put("client",
		record.Row{"id": "b", "name": "Bia", "updated_at": "2024-01-02T00:00:00.000000Z"},
		record.Row{"id": "a", "name": "Ana", "updated_at": "2024-01-01T00:00:00.000000Z"},
	)

	rows, err := m.Select(context.Background(), "client", []string{"id"}, record.Gt("updated_at", "2024-01-01T00:00:00.000000Z"))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, record.Row{"id": "b"}, rows[0])

	rows, err = m.Select(context.Background(), "client", nil, record.All())
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "a", rows[0].String("id"))
	assert.Equal(t, 2, m.Calls("client", "select"))
}

func TestMemory_SelectReturnsCopies(t *testing.T) {
	m := NewMemory()
	m.Put("client", record.Row{"id": "a", "name": "Ana"})

	rows, err := m.Select(context.Background(), "client", nil, record.All())
	require.NoError(t, err)
	rows[0]["name"] = "changed"

	assert.Equal(t, "Ana", m.Rows("client")[0].String("name"))
}

func TestMemory_InsertRejectsDuplicates(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Insert(ctx, "orders", []record.Row{{"id": "o1"}, {"id": "o2"}}))
	err := m.Insert(ctx, "orders", []record.Row{{"id": "o3"}, {"id": "o1"}})
	require.Error(t, err)
	assert.Len(t, m.Rows("orders"), 2)
}

func TestMemory_UpsertReplaces(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Upsert(ctx, "client", record.Row{"id": "a", "name": "Ana"}))
	require.NoError(t, m.Upsert(ctx, "client", record.Row{"id": "a", "name": "Ana Paula"}))

	rows := m.Rows("client")
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana Paula", rows[0].String("name"))
	assert.Equal(t, 2, m.Calls("client", "upsert"))

	assert.Error(t, m.Upsert(ctx, "client", record.Row{"name": "no id"}))
}

func TestMemory_Delete(t *testing.T) {
	m := NewMemory()
	m.Put("client", record.Row{"id": "a", "city": "x"}, record.Row{"id": "b", "city": "x"}, record.Row{"id": "c", "city": "y"})

	n, err := m.Delete(context.Background(), "client", record.Eq("city", "x"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
	assert.Len(t, m.Rows("client"), 1)
}

func TestMemory_FailTable(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	boom := errors.New("connection reset")

	m.FailTable("orders", boom)
	_, err := m.Select(ctx, "orders", nil, record.All())
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, m.Upsert(ctx, "orders", record.Row{"id": "o1"}), boom)

	_, err = m.Select(ctx, "client", nil, record.All())
	assert.NoError(t, err)

	m.FailTable("orders", nil)
	_, err = m.Select(ctx, "orders", nil, record.All())
	assert.NoError(t, err)
}

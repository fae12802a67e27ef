package store

import (
	"context"
	"database/sql"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/schema"
)

func TestInsert_ClientIDGenerated(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	res, err := s.Insert(ctx, schema.Client, record.Row{"name": "Padaria Central"})
	require.NoError(t, err)
	assert.Equal(t, "id-0001", res.ID)
	assert.Equal(t, int64(1), res.RowsAffected)

	row, err := s.Get(ctx, schema.Client, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "Padaria Central", row.String("name"))
	assert.Equal(t, "2024-01-01T00:00:00.000000Z", row.String("created_at"))
	assert.Equal(t, row.String("created_at"), row.String("updated_at"))
	assert.Nil(t, row["last_sync"])
}

func TestInsert_ServerIDAssignedByDatabase(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	first, err := s.Insert(ctx, schema.Vehicle, record.Row{"plate": "ABC1D23"})
	require.NoError(t, err)
	second, err := s.Insert(ctx, schema.Vehicle, record.Row{"plate": "XYZ9K87"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first.ID)
	assert.Equal(t, int64(2), second.ID)
}

func TestInsertWithGeneratedID(t *testing.T) {
	ctx := context.Background()
	path := t.TempDir() + "/test.db"
	s, err := Open(ctx, path)
	require.NoError(t, err)
	defer s.Close()

	res, err := s.InsertWithGeneratedID(ctx, schema.Employee, record.Row{"id": "ignored", "name": "Ana"})
	require.NoError(t, err)

	id, err := uuid.Parse(res.ID.(string))
	require.NoError(t, err)
	assert.Equal(t, uuid.Version(4), id.Version())
	assert.Equal(t, uuid.RFC4122, id.Variant())

	_, err = s.InsertWithGeneratedID(ctx, schema.Phone, record.Row{"number": "555"})
	require.Error(t, err)
	assert.Equal(t, errs.CodeInvalidField, errs.CodeOf(err))
}

func TestInsert_NormalizesText(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	res, err := s.Insert(ctx, schema.Client, record.Row{"name": "Jose\u0301"})
	require.NoError(t, err)

	rows, err := s.Select(ctx, schema.Client, record.Query{Where: record.Eq("name", "Jos\u00e9")})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, res.ID, rows[0]["id"])
}

func TestInsert_UnknownTableAndColumn(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, "estoque", record.Row{"name": "x"})
	assert.Equal(t, errs.CodeUnknownTable, errs.CodeOf(err))

	_, err = s.Insert(ctx, schema.Client, record.Row{"name": "x", "nickname": "y"})
	assert.Equal(t, errs.CodeInvalidField, errs.CodeOf(err))

	_, err = s.Select(ctx, schema.Client, record.Query{OrderBy: []record.Order{record.Desc("name; DROP TABLE client")}})
	assert.Equal(t, errs.CodeInvalidField, errs.CodeOf(err))
}

func TestInsert_CheckConstraintIsConstraintViolation(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.Insert(ctx, schema.StockItem, record.Row{"name": "x", "quantity": -1})
	require.Error(t, err)
	assert.True(t, errs.IsConstraintViolation(err))

	_, err = s.Insert(ctx, schema.Orders, record.Row{"stock_item_id": "nope", "quantity": 1, "status": "lost"})
	require.Error(t, err)
	assert.True(t, errs.IsConstraintViolation(err))
}

func TestInsert_ForeignKeyIsConstraintViolation(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.Insert(context.Background(), schema.Inbound, record.Row{"stock_item_id": "missing", "quantity": 3})
	require.Error(t, err)
	assert.True(t, errs.IsConstraintViolation(err))
}

func TestSelect_OrderLimitAndEmpty(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"b", "c", "a"} {
		_, err := s.Insert(ctx, schema.Client, record.Row{"name": name})
		require.NoError(t, err)
	}

	rows, err := s.Select(ctx, schema.Client, record.Query{OrderBy: []record.Order{record.Desc("name")}, Limit: 2})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "c", rows[0].String("name"))
	assert.Equal(t, "b", rows[1].String("name"))

	rows, err = s.Select(ctx, schema.Client, record.Query{Where: record.Eq("name", "zzz")})
	require.NoError(t, err)
	assert.NotNil(t, rows)
	assert.Empty(t, rows)
}

func TestGet_NotFound(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.Get(context.Background(), schema.Client, "missing")
	assert.True(t, errs.IsNotFound(err))

	ok, err := s.Exists(context.Background(), schema.Client, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestGetInto(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()
	seedStockItem(t, s, 10)

	var item struct {
		ID        string         `db:"id"`
		Name      string         `db:"name"`
		Quantity  int64          `db:"quantity"`
		UnitValue string         `db:"unit_value"`
		ExpiresAt sql.NullString `db:"expires_at"`
	}
	require.NoError(t, s.GetInto(ctx, &item, schema.StockItem, "item-1"))
	assert.Equal(t, "cement", item.Name)
	assert.Equal(t, int64(10), item.Quantity)
	assert.Equal(t, "12.50", item.UnitValue)
	assert.False(t, item.ExpiresAt.Valid)

	err := s.GetInto(ctx, &item, schema.StockItem, "missing")
	assert.True(t, errs.IsNotFound(err))
}

func TestUpdate_StampsUpdatedAtAndCountsRows(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	res, err := s.Insert(ctx, schema.Client, record.Row{"name": "a", "document": "1"})
	require.NoError(t, err)
	_, err = s.Insert(ctx, schema.Client, record.Row{"name": "b", "document": "1"})
	require.NoError(t, err)
	before, err := s.Get(ctx, schema.Client, res.ID)
	require.NoError(t, err)

	upd, err := s.Update(ctx, schema.Client, record.Row{"document": "2"}, record.Eq("document", "1"))
	require.NoError(t, err)
	assert.Equal(t, int64(2), upd.RowsAffected)

	after, err := s.Get(ctx, schema.Client, res.ID)
	require.NoError(t, err)
	assert.Equal(t, "2", after.String("document"))
	assert.Equal(t, before.String("created_at"), after.String("created_at"))
	assert.Greater(t, after.String("updated_at"), before.String("updated_at"))
}

func TestUpdate_PrimaryKeyRejected(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.Update(context.Background(), schema.Client, record.Row{"id": "x"}, record.All())
	assert.Equal(t, errs.CodeInvalidField, errs.CodeOf(err))
}

func TestDelete(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	for _, name := range []string{"a", "b"} {
		_, err := s.Insert(ctx, schema.Client, record.Row{"name": name})
		require.NoError(t, err)
	}

	res, err := s.Delete(ctx, schema.Client, record.Eq("name", "a"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.RowsAffected)
	assert.Equal(t, 1, count(t, s, schema.Client, record.All()))
}

func TestTransaction_AppliesInOrder(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	results, err := s.Transaction(ctx, []record.Op{
		{Kind: record.OpInsert, Table: schema.StockItem, Fields: record.Row{"id": "item-1", "name": "sand", "quantity": 5}},
		{Kind: record.OpInsert, Table: schema.Inbound, Fields: record.Row{"stock_item_id": "item-1", "quantity": 3}},
		{Kind: record.OpUpdate, Table: schema.StockItem, Fields: record.Row{"name": "fine sand"}, Where: record.Eq("id", "item-1")},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "item-1", results[0].ID)
	assert.Equal(t, int64(1), results[2].RowsAffected)

	q, _ := stockLevels(t, s)
	assert.Equal(t, int64(8), q)
}

func TestTransaction_RollsBackOnFailure(t *testing.T) {
	s, _ := createTestStore(t)
	ctx := context.Background()

	_, err := s.Transaction(ctx, []record.Op{
		{Kind: record.OpInsert, Table: schema.StockItem, Fields: record.Row{"id": "item-1", "name": "sand", "quantity": 5}},
		{Kind: record.OpInsert, Table: schema.Orders, Fields: record.Row{"stock_item_id": "item-1", "quantity": 6, "status": schema.OrderPending}},
	})
	require.Error(t, err)
	assert.True(t, errs.IsConstraintViolation(err))
	assert.Contains(t, err.Error(), "transaction op 1 (insert orders)")

	assert.Equal(t, 0, count(t, s, schema.StockItem, record.All()))
	assert.Equal(t, 0, count(t, s, schema.Orders, record.All()))
}

func TestTransaction_UnknownOp(t *testing.T) {
	s, _ := createTestStore(t)

	_, err := s.Transaction(context.Background(), []record.Op{{Kind: "upsert", Table: schema.Client}})
	assert.Equal(t, errs.CodeInvalidField, errs.CodeOf(err))
}

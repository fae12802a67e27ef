package remote

import (
	"context"
	"math/big"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/joho/godotenv"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/schema"
)

func TestInsertSQL_Upsert(t *testing.T) {
	p := &Postgres{schema: schema.Default()}

	query, args, err := p.insertSQL(schema.Client, record.Row{"id": "c1", "name": "Ana", "document": "123"}, true)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "client" ("document", "id", "name") VALUES ($1, $2, $3) ON CONFLICT (id) DO UPDATE SET "document" = EXCLUDED."document", "name" = EXCLUDED."name"`,
		query)
	assert.Equal(t, []any{"123", "c1", "Ana"}, args)
}

func TestInsertSQL_RejectsUnknownColumn(t *testing.T) {
	p := &Postgres{schema: schema.Default()}

	_, _, err := p.insertSQL(schema.Client, record.Row{"id": "c1", "nickname": "x"}, false)
	assert.Equal(t, errs.CodeInvalidField, errs.CodeOf(err))

	_, _, err = p.insertSQL("estoque", record.Row{"id": "c1"}, false)
	assert.Equal(t, errs.CodeUnknownTable, errs.CodeOf(err))
}

func TestPgValue(t *testing.T) {
	id := [16]byte{0x6b, 0xa7, 0xb8, 0x10, 0x9d, 0xad, 0x11, 0xd1, 0x80, 0xb4, 0x00, 0xc0, 0x4f, 0xd4, 0x30, 0xc8}
	assert.Equal(t, "6ba7b810-9dad-11d1-80b4-00c04fd430c8", pgValue(id))

	price := pgtype.Numeric{Int: big.NewInt(1250), Exp: -2, Valid: true}
	assert.Equal(t, "12.50", pgValue(price))
	assert.Nil(t, pgValue(pgtype.Numeric{}))
	assert.Equal(t, "hello", pgValue("hello"))
}

// Integration tests need a Postgres with the stockline tables. They are
// skipped unless STOCKLINE_TEST_DATABASE_URL is set (a .env file works too).
func testPostgres(t *testing.T) *Postgres {
	t.Helper()
	_ = godotenv.Load("../../.env")

	url := os.Getenv("STOCKLINE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("STOCKLINE_TEST_DATABASE_URL not set")
	}
	p, err := NewPostgres(context.Background(), PostgresConfig{URL: url, TenantID: os.Getenv("STOCKLINE_TEST_TENANT")}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func TestPostgres_UpsertSelectDelete(t *testing.T) {
	p := testPostgres(t)
	ctx := context.Background()
	id := "00000000-0000-4000-8000-000000000001"
	t.Cleanup(func() { _, _ = p.Delete(context.Background(), schema.Client, record.Eq("id", id)) })

	row := record.Row{"id": id, "name": "Ana", "created_at": "2024-01-01T00:00:00.000000Z", "updated_at": "2024-01-01T00:00:00.000000Z"}
	require.NoError(t, p.Upsert(ctx, schema.Client, row))
	require.NoError(t, p.Upsert(ctx, schema.Client, row.Merge(record.Row{"name": "Ana Paula", "updated_at": "2024-01-02T00:00:00.000000Z"})))

	rows, err := p.Select(ctx, schema.Client, []string{"id", "name", "updated_at"}, record.Eq("id", id))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Ana Paula", rows[0].String("name"))
	assert.Equal(t, "2024-01-02T00:00:00.000000Z", rows[0].String("updated_at"))

	n, err := p.Delete(ctx, schema.Client, record.Eq("id", id))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

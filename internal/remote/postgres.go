package remote

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/schema"
)

// PostgresConfig configures the Postgres endpoint.
type PostgresConfig struct {
	// URL is a libpq connection string or postgres:// URL.
	URL string

	// TenantID is set as app.tenant_id on every transaction so row-level
	// security policies scope reads and writes. Empty disables it.
	TenantID string

	// MaxConns caps the pool size. Zero keeps the pgxpool default.
	MaxConns int32
}

// Postgres is an Endpoint backed by a pgx connection pool.
type Postgres struct {
	pool   *pgxpool.Pool
	tenant string
	schema *schema.Schema
	logger *zap.Logger
}

var _ Endpoint = (*Postgres)(nil)

// NewPostgres connects to Postgres and verifies the connection.
// The caller must call Close.
func NewPostgres(ctx context.Context, cfg PostgresConfig, sch *schema.Schema, logger *zap.Logger) (*Postgres, error) {
	if cfg.URL == "" {
		return nil, errors.New("remote: postgres url is empty")
	}
	if sch == nil {
		sch = schema.Default()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse postgres url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	logger.Info("connected to remote",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Bool("tenant_scoped", cfg.TenantID != ""))

	return &Postgres{pool: pool, tenant: cfg.TenantID, schema: sch, logger: logger}, nil
}

// Close releases the pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// inTx runs fn in a transaction scoped to the configured tenant.
func (p *Postgres) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if p.tenant != "" {
		if _, err := tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", p.tenant); err != nil {
			return fmt.Errorf("set tenant: %w", err)
		}
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// columns validates cols against the table and returns them sanitized.
func (p *Postgres) columns(table string, cols []string) (schema.Table, []string, error) {
	tbl, err := p.schema.Table(table)
	if err != nil {
		return schema.Table{}, nil, err
	}
	for _, c := range cols {
		if c != "" && !tbl.HasColumn(c) {
			return schema.Table{}, nil, errs.InvalidField(table, c, "unknown column")
		}
	}
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return tbl, quoted, nil
}

func (p *Postgres) where(table string, filter record.Predicate) (string, []any, error) {
	if _, _, err := p.columns(table, filter.Columns()); err != nil {
		return "", nil, err
	}
	return filter.SQL()
}

// Select implements Endpoint.
func (p *Postgres) Select(ctx context.Context, table string, columns []string, filter record.Predicate) ([]record.Row, error) {
	_, cols, err := p.columns(table, columns)
	if err != nil {
		return nil, err
	}
	projection := "*"
	if len(cols) > 0 {
		projection = strings.Join(cols, ", ")
	}
	clause, args, err := p.where(table, filter)
	if err != nil {
		return nil, err
	}
	query := sqlx.Rebind(sqlx.DOLLAR, fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY id",
		projection, pgx.Identifier{table}.Sanitize(), clause))

	out := []record.Row{}
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("select %s: %w", table, err)
		}
		maps, err := pgx.CollectRows(rows, pgx.RowToMap)
		if err != nil {
			return fmt.Errorf("select %s: %w", table, err)
		}
		for _, m := range maps {
			out = append(out, fromPostgres(m))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// insertSQL builds an INSERT for row's columns in sorted order.
func (p *Postgres) insertSQL(table string, row record.Row, upsert bool) (string, []any, error) {
	keys := row.SortedKeys()
	_, cols, err := p.columns(table, keys)
	if err != nil {
		return "", nil, err
	}
	args := make([]any, len(keys))
	marks := make([]string, len(keys))
	for i, k := range keys {
		args[i] = row[k]
		marks[i] = fmt.Sprintf("$%d", i+1)
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		pgx.Identifier{table}.Sanitize(), strings.Join(cols, ", "), strings.Join(marks, ", "))
	if !upsert {
		return query, args, nil
	}

	var sets []string
	for i, k := range keys {
		if k == schema.ColID {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = EXCLUDED.%s", cols[i], cols[i]))
	}
	if len(sets) == 0 {
		return query + " ON CONFLICT (id) DO NOTHING", args, nil
	}
	return query + " ON CONFLICT (id) DO UPDATE SET " + strings.Join(sets, ", "), args, nil
}

// Insert implements Endpoint. Rows are sent as one batch in one transaction.
func (p *Postgres) Insert(ctx context.Context, table string, rows []record.Row) error {
	if len(rows) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, r := range rows {
		query, args, err := p.insertSQL(table, record.NewRow(r), false)
		if err != nil {
			return err
		}
		batch.Queue(query, args...)
	}

	return p.inTx(ctx, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for range rows {
			if _, err := br.Exec(); err != nil {
				br.Close()
				return fmt.Errorf("insert %s: %w", table, err)
			}
		}
		return br.Close()
	})
}

// Upsert implements Endpoint.
func (p *Postgres) Upsert(ctx context.Context, table string, row record.Row) error {
	row = record.NewRow(row)
	if row[schema.ColID] == nil {
		return fmt.Errorf("upsert %s: row has no id", table)
	}
	query, args, err := p.insertSQL(table, row, true)
	if err != nil {
		return err
	}
	return p.inTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, query, args...); err != nil {
			return fmt.Errorf("upsert %s: %w", table, err)
		}
		return nil
	})
}

// Delete implements Endpoint.
func (p *Postgres) Delete(ctx context.Context, table string, filter record.Predicate) (int64, error) {
	clause, args, err := p.where(table, filter)
	if err != nil {
		return 0, err
	}
	query := sqlx.Rebind(sqlx.DOLLAR, fmt.Sprintf("DELETE FROM %s WHERE %s", pgx.Identifier{table}.Sanitize(), clause))

	var n int64
	err = p.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("delete %s: %w", table, err)
		}
		n = tag.RowsAffected()
		return nil
	})
	return n, err
}

// fromPostgres converts pgx-decoded values into record values.
func fromPostgres(m map[string]any) record.Row {
	out := make(record.Row, len(m))
	for k, v := range m {
		out[k] = record.Normalize(pgValue(v))
	}
	return out
}

func pgValue(v any) any {
	switch val := v.(type) {
	case [16]byte:
		return uuid.UUID(val).String()
	case pgtype.Numeric:
		if !val.Valid || val.NaN || val.InfinityModifier != pgtype.Finite {
			return nil
		}
		d := decimal.NewFromBigInt(val.Int, val.Exp)
		if val.Exp < 0 {
			return d.StringFixed(-val.Exp)
		}
		return d.String()
	default:
		return v
	}
}

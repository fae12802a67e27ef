package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/roach88/stockline/internal/cascade"
	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/schema"
)

// Tx is a transactional view of the store. It implements cascade.Tx, so
// writes made by rules run through it and fire rules in turn.
//
// A Tx is only valid inside the WithTx callback that received it.
type Tx struct {
	store  *Store
	tx     *sqlx.Tx
	depth  int
	remote bool
}

var _ cascade.Tx = (*Tx)(nil)

// WithTx runs fn inside a database transaction. The transaction commits when
// fn returns nil and rolls back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx *Tx) error) error {
	db, err := s.handle("transaction")
	if err != nil {
		return err
	}

	sqlTx, err := db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer sqlTx.Rollback() // No-op if committed

	if err := fn(&Tx{store: s, tx: sqlTx}); err != nil {
		return err
	}

	// Deferred foreign keys are checked here.
	if err := sqlTx.Commit(); err != nil {
		return mapError("", "commit", err)
	}
	return nil
}

func (t *Tx) table(name string) (schema.Table, error) {
	return t.store.schema.Table(name)
}

// Remote returns a view of t whose writes apply rows pulled from the remote
// endpoint: rules see them as Remote events and LocalOnly rules stay quiet.
// Both views share the underlying transaction.
func (t *Tx) Remote() *Tx {
	return &Tx{store: t.store, tx: t.tx, depth: t.depth, remote: true}
}

// Savepoint runs fn inside a savepoint. If fn fails, its writes are rolled
// back and the enclosing transaction stays usable. Deferred foreign keys are
// still only checked at commit.
func (t *Tx) Savepoint(ctx context.Context, name string, fn func() error) error {
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return fmt.Errorf("savepoint %s: %w", name, err)
	}
	if err := fn(); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO "+name); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback to %s: %w", name, rbErr))
		}
		if _, relErr := t.tx.ExecContext(ctx, "RELEASE "+name); relErr != nil {
			return errors.Join(err, fmt.Errorf("release %s: %w", name, relErr))
		}
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE "+name); err != nil {
		return fmt.Errorf("release %s: %w", name, err)
	}
	return nil
}

func (t *Tx) fire(ctx context.Context, timing cascade.Timing, ev cascade.Event) error {
	ev.Depth = t.depth
	ev.Remote = t.remote
	t.depth++
	defer func() { t.depth-- }()
	return t.store.engine.Fire(ctx, t, timing, ev)
}

func (t *Tx) now() string {
	return record.FormatTime(t.store.clock.Now())
}

func checkColumns(tbl schema.Table, cols []string) error {
	for _, c := range cols {
		if !tbl.HasColumn(c) {
			return errs.InvalidField(tbl.Name, c, "unknown column")
		}
	}
	return nil
}

// Insert inserts one row and returns its identifier.
func (t *Tx) Insert(ctx context.Context, table string, fields record.Row) (record.Result, error) {
	tbl, err := t.table(table)
	if err != nil {
		return record.Result{}, err
	}
	row := record.NewRow(fields)
	if err := checkColumns(tbl, row.SortedKeys()); err != nil {
		return record.Result{}, err
	}

	if tbl.IDs == schema.IDClient && row[tbl.PrimaryKey] == nil {
		row[tbl.PrimaryKey] = t.store.ids.NewID()
	}
	if tbl.IDs == schema.IDServer && row.Has(tbl.PrimaryKey) && row[tbl.PrimaryKey] == nil {
		delete(row, tbl.PrimaryKey)
	}
	now := t.now()
	if row[schema.ColCreatedAt] == nil {
		row[schema.ColCreatedAt] = now
	}
	if row[schema.ColUpdatedAt] == nil {
		row[schema.ColUpdatedAt] = now
	}

	if err := t.fire(ctx, cascade.Before, cascade.Event{Table: table, Op: record.OpInsert, New: row}); err != nil {
		return record.Result{}, err
	}

	cols := row.SortedKeys()
	args := make([]any, len(cols))
	for i, c := range cols {
		args[i] = row[c]
	}
	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		table, strings.Join(cols, ", "), placeholders(len(cols)))

	res, err := t.tx.ExecContext(ctx, query, args...)
	if err != nil {
		return record.Result{}, mapError(table, "insert", err)
	}

	id := row[tbl.PrimaryKey]
	if id == nil {
		lastID, err := res.LastInsertId()
		if err != nil {
			return record.Result{}, fmt.Errorf("insert %s: last insert id: %w", table, err)
		}
		id = lastID
	}

	inserted, err := t.Get(ctx, table, id)
	if err != nil {
		return record.Result{}, err
	}
	if err := t.fire(ctx, cascade.After, cascade.Event{Table: table, Op: record.OpInsert, New: inserted}); err != nil {
		return record.Result{}, err
	}

	return record.Result{ID: id, RowsAffected: 1}, nil
}

// Select returns the rows matching q. Returns an empty slice (not nil) when
// nothing matches.
func (t *Tx) Select(ctx context.Context, table string, q record.Query) ([]record.Row, error) {
	tbl, err := t.table(table)
	if err != nil {
		return nil, err
	}
	if err := checkColumns(tbl, q.Where.Columns()); err != nil {
		return nil, err
	}

	where, args, err := q.Where.SQL()
	if err != nil {
		return nil, errs.Wrap(errs.CodeInvalidField, table, "select", err)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s", table, where)

	if len(q.OrderBy) > 0 {
		terms := make([]string, len(q.OrderBy))
		for i, o := range q.OrderBy {
			if !tbl.HasColumn(o.Column) {
				return nil, errs.InvalidField(table, o.Column, "unknown order column")
			}
			dir := "ASC"
			if o.Desc {
				dir = "DESC"
			}
			terms[i] = o.Column + " " + dir
		}
		query += " ORDER BY " + strings.Join(terms, ", ")
	}
	if q.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", q.Limit)
	}

	rows, err := t.tx.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(table, "select", err)
	}
	defer rows.Close()

	out := []record.Row{}
	for rows.Next() {
		m := make(map[string]any)
		if err := rows.MapScan(m); err != nil {
			return nil, fmt.Errorf("scan %s: %w", table, err)
		}
		out = append(out, record.NewRow(m))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", table, err)
	}
	return out, nil
}

// Get returns the row with the given primary key, or errs.NotFound.
func (t *Tx) Get(ctx context.Context, table string, id any) (record.Row, error) {
	tbl, err := t.table(table)
	if err != nil {
		return nil, err
	}
	rows, err := t.Select(ctx, table, record.Query{Where: record.Eq(tbl.PrimaryKey, id), Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errs.NotFound(table, id)
	}
	return rows[0], nil
}

// GetInto scans the row with the given primary key into dest, a pointer to
// a struct with db tags. Columns without a matching field are ignored.
func (t *Tx) GetInto(ctx context.Context, dest any, table string, id any) error {
	tbl, err := t.table(table)
	if err != nil {
		return err
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s = ?", table, tbl.PrimaryKey)
	if err := t.tx.Unsafe().GetContext(ctx, dest, query, record.Normalize(id)); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errs.NotFound(table, id)
		}
		return fmt.Errorf("get %s: %w", table, err)
	}
	return nil
}

// SelectInto scans the rows matching q into dest, a pointer to a slice of
// structs with db tags.
func (t *Tx) SelectInto(ctx context.Context, dest any, table string, where record.Predicate) error {
	tbl, err := t.table(table)
	if err != nil {
		return err
	}
	if err := checkColumns(tbl, where.Columns()); err != nil {
		return err
	}
	clause, args, err := where.SQL()
	if err != nil {
		return errs.Wrap(errs.CodeInvalidField, table, "select", err)
	}
	query := fmt.Sprintf("SELECT * FROM %s WHERE %s ORDER BY %s ASC", table, clause, tbl.PrimaryKey)
	if err := t.tx.Unsafe().SelectContext(ctx, dest, query, args...); err != nil {
		return fmt.Errorf("select %s: %w", table, err)
	}
	return nil
}

// Exists reports whether a row with the given primary key exists.
func (t *Tx) Exists(ctx context.Context, table string, id any) (bool, error) {
	tbl, err := t.table(table)
	if err != nil {
		return false, err
	}
	var n int
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ?", table, tbl.PrimaryKey)
	if err := t.tx.GetContext(ctx, &n, query, record.Normalize(id)); err != nil {
		return false, fmt.Errorf("exists %s: %w", table, err)
	}
	return n > 0, nil
}

// Update applies fields to every row matching where, one row at a time so
// each row fires its own rules. The primary key cannot be changed.
func (t *Tx) Update(ctx context.Context, table string, fields record.Row, where record.Predicate) (record.Result, error) {
	tbl, err := t.table(table)
	if err != nil {
		return record.Result{}, err
	}
	changes := record.NewRow(fields)
	if err := checkColumns(tbl, changes.SortedKeys()); err != nil {
		return record.Result{}, err
	}
	if changes.Has(tbl.PrimaryKey) {
		return record.Result{}, errs.InvalidField(table, tbl.PrimaryKey, "primary key cannot be updated")
	}
	if len(changes) == 0 {
		return record.Result{}, nil
	}

	targets, err := t.Select(ctx, table, record.Query{Where: where, OrderBy: []record.Order{record.Asc(tbl.PrimaryKey)}})
	if err != nil {
		return record.Result{}, err
	}

	if changes[schema.ColUpdatedAt] == nil {
		changes[schema.ColUpdatedAt] = t.now()
	}
	cols := changes.SortedKeys()
	sets := make([]string, len(cols))
	for i, c := range cols {
		sets[i] = c + " = ?"
	}
	query := fmt.Sprintf("UPDATE %s SET %s WHERE %s = ?", table, strings.Join(sets, ", "), tbl.PrimaryKey)

	var affected int64
	for _, target := range targets {
		id := target[tbl.PrimaryKey]
		// Rules fired for earlier rows may have changed this one.
		old, err := t.Get(ctx, table, id)
		if errs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return record.Result{}, err
		}
		next := old.Merge(changes)
		if err := t.fire(ctx, cascade.Before, cascade.Event{Table: table, Op: record.OpUpdate, Old: old, New: next}); err != nil {
			return record.Result{}, err
		}

		args := make([]any, 0, len(cols)+1)
		for _, c := range cols {
			args = append(args, changes[c])
		}
		args = append(args, id)
		if _, err := t.tx.ExecContext(ctx, query, args...); err != nil {
			return record.Result{}, mapError(table, "update", err)
		}

		updated, err := t.Get(ctx, table, id)
		if err != nil {
			return record.Result{}, err
		}
		if err := t.fire(ctx, cascade.After, cascade.Event{Table: table, Op: record.OpUpdate, Old: old, New: updated}); err != nil {
			return record.Result{}, err
		}
		affected++
	}

	return record.Result{RowsAffected: affected}, nil
}

// Delete removes every row matching where, one row at a time.
func (t *Tx) Delete(ctx context.Context, table string, where record.Predicate) (record.Result, error) {
	tbl, err := t.table(table)
	if err != nil {
		return record.Result{}, err
	}

	targets, err := t.Select(ctx, table, record.Query{Where: where, OrderBy: []record.Order{record.Asc(tbl.PrimaryKey)}})
	if err != nil {
		return record.Result{}, err
	}

	query := fmt.Sprintf("DELETE FROM %s WHERE %s = ?", table, tbl.PrimaryKey)
	var affected int64
	for _, target := range targets {
		old, err := t.Get(ctx, table, target[tbl.PrimaryKey])
		if errs.IsNotFound(err) {
			continue
		}
		if err != nil {
			return record.Result{}, err
		}
		if err := t.fire(ctx, cascade.Before, cascade.Event{Table: table, Op: record.OpDelete, Old: old}); err != nil {
			return record.Result{}, err
		}
		if _, err := t.tx.ExecContext(ctx, query, old[tbl.PrimaryKey]); err != nil {
			return record.Result{}, mapError(table, "delete", err)
		}
		if err := t.fire(ctx, cascade.After, cascade.Event{Table: table, Op: record.OpDelete, Old: old}); err != nil {
			return record.Result{}, err
		}
		affected++
	}

	return record.Result{RowsAffected: affected}, nil
}

// Apply executes one batch operation.
func (t *Tx) Apply(ctx context.Context, op record.Op) (record.Result, error) {
	switch op.Kind {
	case record.OpInsert:
		return t.Insert(ctx, op.Table, op.Fields)
	case record.OpUpdate:
		return t.Update(ctx, op.Table, op.Fields, op.Where)
	case record.OpDelete:
		return t.Delete(ctx, op.Table, op.Where)
	default:
		return record.Result{}, errs.New(errs.CodeInvalidField, op.Table, fmt.Sprintf("unknown operation %q", op.Kind))
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

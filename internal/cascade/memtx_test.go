package cascade

import (
	"context"
	"fmt"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
)

// memTx is an in-memory Tx that fires the engine the way the store does.
// Writes are rolled back when run returns an error.
type memTx struct {
	engine *Engine
	tables map[string][]record.Row
	seq    int
	depth  int
}

func newMemTx(e *Engine) *memTx {
	return &memTx{engine: e, tables: make(map[string][]record.Row)}
}

func (m *memTx) run(fn func(tx Tx) error) error {
	snapshot := make(map[string][]record.Row, len(m.tables))
	for table, rows := range m.tables {
		cp := make([]record.Row, len(rows))
		for i, r := range rows {
			cp[i] = r.Clone()
		}
		snapshot[table] = cp
	}
	if err := fn(m); err != nil {
		m.tables = snapshot
		return err
	}
	return nil
}

func (m *memTx) fire(ctx context.Context, timing Timing, ev Event) error {
	ev.Depth = m.depth
	m.depth++
	defer func() { m.depth-- }()
	return m.engine.Fire(ctx, m, timing, ev)
}

func (m *memTx) index(table string, id any) int {
	for i, r := range m.tables[table] {
		if record.Equal(r["id"], id) {
			return i
		}
	}
	return -1
}

func (m *memTx) Get(_ context.Context, table string, id any) (record.Row, error) {
	i := m.index(table, id)
	if i < 0 {
		return nil, errs.NotFound(table, id)
	}
	return m.tables[table][i].Clone(), nil
}

func (m *memTx) Select(_ context.Context, table string, q record.Query) ([]record.Row, error) {
	var out []record.Row
	for _, r := range m.tables[table] {
		if q.Where.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}

func (m *memTx) Insert(ctx context.Context, table string, fields record.Row) (record.Result, error) {
	row := record.NewRow(fields)
	if row["id"] == nil {
		m.seq++
		row["id"] = fmt.Sprintf("%s-%d", table, m.seq)
	}
	if err := m.fire(ctx, Before, Event{Table: table, Op: record.OpInsert, New: row}); err != nil {
		return record.Result{}, err
	}
	m.tables[table] = append(m.tables[table], row.Clone())
	if err := m.fire(ctx, After, Event{Table: table, Op: record.OpInsert, New: row}); err != nil {
		return record.Result{}, err
	}
	return record.Result{ID: row["id"], RowsAffected: 1}, nil
}

func (m *memTx) Update(ctx context.Context, table string, fields record.Row, where record.Predicate) (record.Result, error) {
	targets, _ := m.Select(ctx, table, record.Query{Where: where})
	for _, old := range targets {
		next := old.Merge(fields)
		if err := m.fire(ctx, Before, Event{Table: table, Op: record.OpUpdate, Old: old, New: next}); err != nil {
			return record.Result{}, err
		}
		if i := m.index(table, old["id"]); i >= 0 {
			m.tables[table][i] = next.Clone()
		}
		if err := m.fire(ctx, After, Event{Table: table, Op: record.OpUpdate, Old: old, New: next}); err != nil {
			return record.Result{}, err
		}
	}
	return record.Result{RowsAffected: int64(len(targets))}, nil
}

func (m *memTx) Delete(ctx context.Context, table string, where record.Predicate) (record.Result, error) {
	targets, _ := m.Select(ctx, table, record.Query{Where: where})
	for _, old := range targets {
		if err := m.fire(ctx, Before, Event{Table: table, Op: record.OpDelete, Old: old}); err != nil {
			return record.Result{}, err
		}
		if i := m.index(table, old["id"]); i >= 0 {
			rows := m.tables[table]
			m.tables[table] = append(rows[:i:i], rows[i+1:]...)
		}
		if err := m.fire(ctx, After, Event{Table: table, Op: record.OpDelete, Old: old}); err != nil {
			return record.Result{}, err
		}
	}
	return record.Result{RowsAffected: int64(len(targets))}, nil
}

package remote

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/roach88/stockline/internal/record"
)

// Memory is an in-process Endpoint. Rows are keyed by their "id" field.
//
// Thread-safety: All methods are safe for concurrent use.
type Memory struct {
	mu       sync.Mutex
	tables   map[string]map[string]record.Row
	failures map[string]error
	calls    map[string]int
}

var _ Endpoint = (*Memory)(nil)

// NewMemory creates an empty Memory endpoint.
func NewMemory() *Memory {
	return &Memory{
		tables:   make(map[string]map[string]record.Row),
		failures: make(map[string]error),
		calls:    make(map[string]int),
	}
}

// FailTable makes every call touching table return err. A nil err clears it.
func (m *Memory) FailTable(table string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, table)
		return
	}
	m.failures[table] = err
}

// Put stores rows directly, bypassing failure injection and call counting.
func (m *Memory) Put(table string, rows ...record.Row) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.put(table, r)
	}
}

// Rows returns a copy of every row of table, ordered by id.
func (m *Memory) Rows(table string) []record.Row {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sorted(table, nil, record.All())
}

// Calls returns how many times op ("select", "insert", "upsert", "delete")
// was invoked on table.
func (m *Memory) Calls(table, op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[table+"/"+op]
}

func (m *Memory) begin(table, op string) error {
	m.calls[table+"/"+op]++
	return m.failures[table]
}

func (m *Memory) put(table string, row record.Row) {
	if m.tables[table] == nil {
		m.tables[table] = make(map[string]record.Row)
	}
	m.tables[table][key(row["id"])] = record.NewRow(row)
}

func (m *Memory) sorted(table string, columns []string, filter record.Predicate) []record.Row {
	keys := make([]string, 0, len(m.tables[table]))
	for k := range m.tables[table] {
		keys = append(keys, k)
	}
	slices.Sort(keys)

	out := []record.Row{}
	for _, k := range keys {
		row := m.tables[table][k]
		if !filter.Matches(row) {
			continue
		}
		out = append(out, project(row, columns))
	}
	return out
}

func project(row record.Row, columns []string) record.Row {
	if len(columns) == 0 {
		return row.Clone()
	}
	out := make(record.Row, len(columns))
	for _, c := range columns {
		if v, ok := row[c]; ok {
			out[c] = v
		}
	}
	return out
}

func key(id any) string {
	return fmt.Sprint(record.Normalize(id))
}

// Select implements Endpoint.
func (m *Memory) Select(_ context.Context, table string, columns []string, filter record.Predicate) ([]record.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(table, "select"); err != nil {
		return nil, err
	}
	return m.sorted(table, columns, filter), nil
}

// Insert implements Endpoint. A duplicate id fails the whole call.
func (m *Memory) Insert(_ context.Context, table string, rows []record.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(table, "insert"); err != nil {
		return err
	}
	for _, r := range rows {
		if _, exists := m.tables[table][key(r["id"])]; exists {
			return fmt.Errorf("insert %s: duplicate id %v", table, r["id"])
		}
	}
	for _, r := range rows {
		m.put(table, r)
	}
	return nil
}

// Upsert implements Endpoint.
func (m *Memory) Upsert(_ context.Context, table string, row record.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(table, "upsert"); err != nil {
		return err
	}
	if row["id"] == nil {
		return fmt.Errorf("upsert %s: row has no id", table)
	}
	m.put(table, row)
	return nil
}

// Delete implements Endpoint.
func (m *Memory) Delete(_ context.Context, table string, filter record.Predicate) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.begin(table, "delete"); err != nil {
		return 0, err
	}
	var n int64
	for k, row := range m.tables[table] {
		if filter.Matches(row) {
			delete(m.tables[table], k)
			n++
		}
	}
	return n, nil
}

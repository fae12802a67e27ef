package store

import (
	"context"
	"fmt"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/schema"
)

// Insert inserts a row in its own transaction, firing cascade rules.
// Client-id tables get a generated id when fields has none.
func (s *Store) Insert(ctx context.Context, table string, fields record.Row) (record.Result, error) {
	var res record.Result
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		res, err = tx.Insert(ctx, table, fields)
		return err
	})
	return res, err
}

// InsertWithGeneratedID assigns a fresh UUID to fields and inserts the row.
// Tables with server-assigned identifiers are rejected.
func (s *Store) InsertWithGeneratedID(ctx context.Context, table string, fields record.Row) (record.Result, error) {
	tbl, err := s.schema.Table(table)
	if err != nil {
		return record.Result{}, err
	}
	if tbl.IDs != schema.IDClient {
		return record.Result{}, errs.InvalidField(table, tbl.PrimaryKey, "table uses server-assigned identifiers")
	}
	return s.Insert(ctx, table, fields.Merge(record.Row{tbl.PrimaryKey: s.ids.NewID()}))
}

// Select returns the rows matching q. It has no side effects.
func (s *Store) Select(ctx context.Context, table string, q record.Query) ([]record.Row, error) {
	var rows []record.Row
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		rows, err = tx.Select(ctx, table, q)
		return err
	})
	return rows, err
}

// Get returns one row by primary key.
func (s *Store) Get(ctx context.Context, table string, id any) (record.Row, error) {
	var row record.Row
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		row, err = tx.Get(ctx, table, id)
		return err
	})
	return row, err
}

// GetInto scans one row by primary key into a struct with db tags.
func (s *Store) GetInto(ctx context.Context, dest any, table string, id any) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.GetInto(ctx, dest, table, id)
	})
}

// SelectInto scans matching rows into a slice of structs with db tags.
func (s *Store) SelectInto(ctx context.Context, dest any, table string, where record.Predicate) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.SelectInto(ctx, dest, table, where)
	})
}

// Exists reports whether a row with the given primary key exists.
func (s *Store) Exists(ctx context.Context, table string, id any) (bool, error) {
	var ok bool
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		ok, err = tx.Exists(ctx, table, id)
		return err
	})
	return ok, err
}

// Update applies fields to the rows matching where.
func (s *Store) Update(ctx context.Context, table string, fields record.Row, where record.Predicate) (record.Result, error) {
	var res record.Result
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		res, err = tx.Update(ctx, table, fields, where)
		return err
	})
	return res, err
}

// Delete removes the rows matching where.
func (s *Store) Delete(ctx context.Context, table string, where record.Predicate) (record.Result, error) {
	var res record.Result
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		res, err = tx.Delete(ctx, table, where)
		return err
	})
	return res, err
}

// Transaction applies ops atomically in submission order. Any failure rolls
// back every earlier op in the batch.
func (s *Store) Transaction(ctx context.Context, ops []record.Op) ([]record.Result, error) {
	results := make([]record.Result, 0, len(ops))
	err := s.WithTx(ctx, func(tx *Tx) error {
		for i, op := range ops {
			res, err := tx.Apply(ctx, op)
			if err != nil {
				return fmt.Errorf("transaction op %d (%s %s): %w", i, op.Kind, op.Table, err)
			}
			results = append(results, res)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/schema"
)

// SyncState is the per-table synchronisation bookkeeping.
type SyncState struct {
	Table     string  `db:"table_name" json:"table"`
	Watermark *string `db:"watermark" json:"watermark,omitempty"`
	LastPull  *string `db:"last_pull" json:"last_pull,omitempty"`
	LastPush  *string `db:"last_push" json:"last_push,omitempty"`
}

// Dirty returns the rows of table that changed since their last sync
// (last_sync IS NULL OR updated_at > last_sync), oldest first.
func (t *Tx) Dirty(ctx context.Context, table string) ([]record.Row, error) {
	return t.Select(ctx, table, record.Query{
		Where:   record.Unsynced(),
		OrderBy: []record.Order{record.Asc(schema.ColUpdatedAt), record.Asc(schema.ColID)},
	})
}

// MarkSynced stamps last_sync on a pushed row. It is a metadata write: no
// rules fire and updated_at is left alone. The stamp only applies if the row
// still carries the updated_at that was pushed, so a concurrent local edit
// stays dirty. Reports whether the row was stamped.
func (t *Tx) MarkSynced(ctx context.Context, table string, row record.Row, at time.Time) (bool, error) {
	tbl, err := t.table(table)
	if err != nil {
		return false, err
	}
	query := fmt.Sprintf("UPDATE %s SET %s = ? WHERE %s = ? AND %s = ?",
		table, schema.ColLastSync, tbl.PrimaryKey, schema.ColUpdatedAt)
	res, err := t.tx.ExecContext(ctx, query,
		record.FormatTime(at), row[tbl.PrimaryKey], row[schema.ColUpdatedAt])
	if err != nil {
		return false, mapError(table, "mark synced", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("mark synced %s: %w", table, err)
	}
	return n > 0, nil
}

// Watermark returns the highest remote updated_at already pulled for table,
// or "" if the table was never pulled.
func (t *Tx) Watermark(ctx context.Context, table string) (string, error) {
	var wm sql.NullString
	err := t.tx.GetContext(ctx, &wm,
		"SELECT watermark FROM sync_state WHERE table_name = ?", table)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read watermark %s: %w", table, err)
	}
	return wm.String, nil
}

// SetWatermark records a completed pull.
func (t *Tx) SetWatermark(ctx context.Context, table, watermark string, pulledAt time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sync_state (table_name, watermark, last_pull)
		VALUES (?, NULLIF(?, ''), ?)
		ON CONFLICT(table_name) DO UPDATE SET
			watermark = COALESCE(excluded.watermark, sync_state.watermark),
			last_pull = excluded.last_pull
	`, table, watermark, record.FormatTime(pulledAt))
	if err != nil {
		return fmt.Errorf("set watermark %s: %w", table, err)
	}
	return nil
}

// MarkPushed records a completed push.
func (t *Tx) MarkPushed(ctx context.Context, table string, pushedAt time.Time) error {
	_, err := t.tx.ExecContext(ctx, `
		INSERT INTO sync_state (table_name, last_push)
		VALUES (?, ?)
		ON CONFLICT(table_name) DO UPDATE SET last_push = excluded.last_push
	`, table, record.FormatTime(pushedAt))
	if err != nil {
		return fmt.Errorf("mark pushed %s: %w", table, err)
	}
	return nil
}

// Dirty returns the rows of table pending upload.
func (s *Store) Dirty(ctx context.Context, table string) ([]record.Row, error) {
	var rows []record.Row
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		rows, err = tx.Dirty(ctx, table)
		return err
	})
	return rows, err
}

// MarkSynced stamps last_sync on a pushed row.
func (s *Store) MarkSynced(ctx context.Context, table string, row record.Row, at time.Time) (bool, error) {
	var ok bool
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		ok, err = tx.MarkSynced(ctx, table, row, at)
		return err
	})
	return ok, err
}

// Watermark returns the pull watermark of table.
func (s *Store) Watermark(ctx context.Context, table string) (string, error) {
	var wm string
	err := s.WithTx(ctx, func(tx *Tx) error {
		var err error
		wm, err = tx.Watermark(ctx, table)
		return err
	})
	return wm, err
}

// SetWatermark records a completed pull of table.
func (s *Store) SetWatermark(ctx context.Context, table, watermark string, pulledAt time.Time) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.SetWatermark(ctx, table, watermark, pulledAt)
	})
}

// SyncStates lists the bookkeeping of every table synchronised so far.
func (s *Store) SyncStates(ctx context.Context) ([]SyncState, error) {
	db, err := s.handle("sync states")
	if err != nil {
		return nil, err
	}
	states := []SyncState{}
	if err := db.SelectContext(ctx, &states,
		"SELECT table_name, watermark, last_pull, last_push FROM sync_state ORDER BY table_name"); err != nil {
		return nil, fmt.Errorf("read sync states: %w", err)
	}
	return states, nil
}

// MarkPushed records a completed push of table.
func (s *Store) MarkPushed(ctx context.Context, table string, pushedAt time.Time) error {
	return s.WithTx(ctx, func(tx *Tx) error {
		return tx.MarkPushed(ctx, table, pushedAt)
	})
}

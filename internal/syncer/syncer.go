// Package syncer reconciles local tables with the remote endpoint.
//
// A cycle for one table is a pull followed by a push:
//
//   - Pull downloads remote rows newer than the table's watermark and writes
//     them through the store as Remote events. Checks still fire; rules that
//     derive stock effects do not, because a pulled stock_item row already
//     carries them. Pulled rows overwrite local non-key fields
//     (last-write-wins). A row the local store rejects is skipped and counted.
//   - Push uploads rows with last_sync NULL or older than updated_at and
//     stamps last_sync on success.
//
// Transport failures never escape a cycle: they are wrapped as
// SYNC_TRANSPORT, logged, and reported in that table's Result.
package syncer

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/record"
	"github.com/roach88/stockline/internal/remote"
	"github.com/roach88/stockline/internal/schema"
	"github.com/roach88/stockline/internal/store"
)

// Result reports one table's cycle.
type Result struct {
	Table      string `json:"table"`
	Success    bool   `json:"success"`
	Downloaded int    `json:"downloaded"`
	Uploaded   int    `json:"uploaded"`
	Rejected   int    `json:"rejected,omitempty"`
	Error      string `json:"error,omitempty"`

	Err      error         `json:"-"`
	Duration time.Duration `json:"-"`
}

// Recorder observes completed cycles.
type Recorder interface {
	SyncCompleted(res Result)
}

// Syncer runs sync cycles between a Store and an Endpoint.
//
// Thread-safety: FullSync may be called concurrently. Calls for the same
// table while a cycle is in flight join that cycle and share its Result.
type Syncer struct {
	store    *store.Store
	remote   remote.Endpoint
	clock    store.Clock
	logger   *zap.Logger
	recorder Recorder
	timeout  time.Duration
	inflight singleflight.Group
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithClock sets the clock used for last_sync stamps. Defaults to the store clock.
func WithClock(c store.Clock) Option {
	return func(s *Syncer) {
		s.clock = c
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Syncer) {
		s.logger = l
	}
}

// WithRecorder installs a Recorder.
func WithRecorder(r Recorder) Option {
	return func(s *Syncer) {
		s.recorder = r
	}
}

// WithTimeout bounds every remote call. Zero means no timeout.
func WithTimeout(d time.Duration) Option {
	return func(s *Syncer) {
		s.timeout = d
	}
}

// New creates a Syncer.
func New(st *store.Store, ep remote.Endpoint, opts ...Option) *Syncer {
	s := &Syncer{
		store:  st,
		remote: ep,
		clock:  store.ClockFunc(st.Now),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Syncer) remoteCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.timeout)
}

// Pull downloads remote rows changed since the watermark and applies them
// locally in one transaction. Returns the number of rows applied.
func (s *Syncer) Pull(ctx context.Context, table string) (int, error) {
	stats, err := s.pull(ctx, table)
	return stats.applied, err
}

type pullStats struct {
	applied  int
	rejected int
}

// pull applies each remote row under its own savepoint through the remote
// view of the transaction. A row the local store rejects is logged and
// skipped; the rest of the batch and the watermark still land.
func (s *Syncer) pull(ctx context.Context, table string) (pullStats, error) {
	var stats pullStats
	tbl, err := s.store.Schema().Table(table)
	if err != nil {
		return stats, err
	}
	watermark, err := s.store.Watermark(ctx, table)
	if err != nil {
		return stats, err
	}

	filter := record.All()
	if watermark != "" {
		filter = record.Gt(schema.ColUpdatedAt, watermark)
	}

	rctx, cancel := s.remoteCtx(ctx)
	rows, err := s.remote.Select(rctx, table, nil, filter)
	cancel()
	if err != nil {
		return stats, errs.SyncTransport(table, "pull", err)
	}

	now := s.clock.Now()
	latest := watermark
	err = s.store.WithTx(ctx, func(tx *store.Tx) error {
		stats = pullStats{}
		pulled := tx.Remote()
		for _, remoteRow := range rows {
			row := localColumns(tbl, remoteRow)
			if updatedAt := row.String(schema.ColUpdatedAt); updatedAt > latest {
				latest = updatedAt
			}

			err := pulled.Savepoint(ctx, "pull_row", func() error {
				return applyPulled(ctx, pulled, tbl, row, now)
			})
			if err == nil {
				stats.applied++
				continue
			}
			if !isRowRejection(err) {
				return err
			}
			stats.rejected++
			s.logger.Warn("pulled row rejected",
				zap.String("table", table),
				zap.Any("id", row[tbl.PrimaryKey]),
				zap.Error(err))
		}
		return tx.SetWatermark(ctx, table, latest, now)
	})
	if err != nil {
		return pullStats{}, err
	}
	return stats, nil
}

// applyPulled inserts row or overwrites the local row with the same key.
func applyPulled(ctx context.Context, tx *store.Tx, tbl schema.Table, row record.Row, now time.Time) error {
	id := row[tbl.PrimaryKey]
	if id == nil {
		return errs.InvalidField(tbl.Name, tbl.PrimaryKey, "remote row has no primary key")
	}
	row[schema.ColLastSync] = lastSync(now, row.String(schema.ColUpdatedAt))

	exists, err := tx.Exists(ctx, tbl.Name, id)
	if err != nil {
		return err
	}
	if exists {
		_, err = tx.Update(ctx, tbl.Name, row.Without(tbl.PrimaryKey), record.Eq(tbl.PrimaryKey, id))
	} else {
		_, err = tx.Insert(ctx, tbl.Name, row)
	}
	return err
}

// isRowRejection reports whether err is the local store refusing one row's
// data, as opposed to a failure of the store itself.
func isRowRejection(err error) bool {
	switch errs.CodeOf(err) {
	case errs.CodeConstraintViolation, errs.CodeReservationExceeded, errs.CodeInvalidField:
		return true
	}
	return false
}

// localColumns keeps the columns the local table knows, minus last_sync.
func localColumns(tbl schema.Table, remoteRow record.Row) record.Row {
	row := make(record.Row, len(remoteRow))
	for k, v := range remoteRow {
		if k == schema.ColLastSync || !tbl.HasColumn(k) {
			continue
		}
		row[k] = record.Normalize(v)
	}
	return row
}

// lastSync is now, or the row's updated_at when the remote clock is ahead,
// so a freshly pulled row is never dirty.
func lastSync(now time.Time, updatedAt string) string {
	stamp := record.FormatTime(now)
	if updatedAt > stamp {
		return updatedAt
	}
	return stamp
}

// Push uploads the table's dirty rows one by one and stamps each on success.
// It stops at the first remote failure; rows already uploaded stay stamped.
func (s *Syncer) Push(ctx context.Context, table string) (int, error) {
	rows, err := s.store.Dirty(ctx, table)
	if err != nil {
		return 0, err
	}

	uploaded := 0
	for _, row := range rows {
		rctx, cancel := s.remoteCtx(ctx)
		err := s.remote.Upsert(rctx, table, row.Without(schema.ColLastSync))
		cancel()
		if err != nil {
			return uploaded, errs.SyncTransport(table, "push", err)
		}
		uploaded++

		stamped, err := s.store.MarkSynced(ctx, table, row, s.clock.Now())
		if err != nil {
			return uploaded, err
		}
		if !stamped {
			s.logger.Debug("row changed during push, left dirty",
				zap.String("table", table),
				zap.Any("id", row[schema.ColID]))
		}
	}

	if err := s.store.MarkPushed(ctx, table, s.clock.Now()); err != nil {
		return uploaded, err
	}
	return uploaded, nil
}

// FullSync pulls then pushes table. A failed pull skips the push.
func (s *Syncer) FullSync(ctx context.Context, table string) Result {
	v, _, shared := s.inflight.Do(table, func() (any, error) {
		return s.fullSync(ctx, table), nil
	})
	if shared {
		s.logger.Debug("joined in-flight sync", zap.String("table", table))
	}
	return v.(Result)
}

func (s *Syncer) fullSync(ctx context.Context, table string) Result {
	start := time.Now()
	res := Result{Table: table}

	op := "pull"
	stats, err := s.pull(ctx, table)
	res.Downloaded = stats.applied
	res.Rejected = stats.rejected
	if err == nil {
		op = "push"
		res.Uploaded, err = s.Push(ctx, table)
	}
	res.Duration = time.Since(start)

	if err != nil {
		res.Err = err
		res.Error = err.Error()
		s.logger.Warn("sync failed",
			zap.String("table", table),
			zap.String("op", op),
			zap.Bool("transport", errs.IsSyncTransport(err)),
			zap.Error(err))
	} else {
		res.Success = true
		s.logger.Info("table synced",
			zap.String("table", table),
			zap.Int("downloaded", res.Downloaded),
			zap.Int("uploaded", res.Uploaded),
			zap.Int("rejected", res.Rejected),
			zap.Duration("duration", res.Duration))
	}

	if s.recorder != nil {
		s.recorder.SyncCompleted(res)
	}
	return res
}

// SyncAll runs FullSync for each table in order and collects one Result per
// table. A failing table does not stop the others. Nil tables means
// schema.SyncTables.
func (s *Syncer) SyncAll(ctx context.Context, tables []string) map[string]Result {
	if tables == nil {
		tables = schema.SyncTables
	}
	results := make(map[string]Result, len(tables))
	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			results[table] = Result{Table: table, Err: err, Error: err.Error()}
			continue
		}
		results[table] = s.FullSync(ctx, table)
	}
	return results
}

// Failed returns the tables whose cycle failed, sorted. Never nil.
func Failed(results map[string]Result) []string {
	out := []string{}
	for table, r := range results {
		if !r.Success {
			out = append(out, table)
		}
	}
	slices.Sort(out)
	return out
}

// FirstError returns the error of the first failed table in tables order, or
// nil when every table succeeded.
func FirstError(results map[string]Result, tables []string) error {
	for _, t := range tables {
		r, ok := results[t]
		if !ok || r.Success {
			continue
		}
		if r.Err != nil {
			return r.Err
		}
		return fmt.Errorf("sync %s: %s", t, r.Error)
	}
	return nil
}

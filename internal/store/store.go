package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/roach88/stockline/internal/cascade"
	"github.com/roach88/stockline/internal/errs"
	"github.com/roach88/stockline/internal/schema"
)

// Schema version tracking:
// 0 - Initial schema
// 1 - Added updated_at indexes for dirty-row and watermark scans
const currentSchemaVersion = 1

// Clock supplies the current time for timestamps.
type Clock interface {
	Now() time.Time
}

// ClockFunc adapts a function to Clock.
type ClockFunc func() time.Time

// Now implements Clock.
func (f ClockFunc) Now() time.Time { return f() }

// IDGenerator produces client-side primary keys.
type IDGenerator interface {
	NewID() string
}

// UUIDGenerator produces random RFC 4122 version 4 UUIDs.
type UUIDGenerator struct{}

// NewID implements IDGenerator.
func (UUIDGenerator) NewID() string { return uuid.NewString() }

// Store is the handle to the local database.
type Store struct {
	db     *sqlx.DB
	schema *schema.Schema
	engine *cascade.Engine
	clock  Clock
	ids    IDGenerator
	logger *zap.Logger

	mu      sync.Mutex
	ready   bool
	pending []func()
}

// Option configures a Store.
type Option func(*Store)

// WithEngine replaces the default cascade engine.
func WithEngine(e *cascade.Engine) Option {
	return func(s *Store) {
		s.engine = e
	}
}

// WithClock sets the timestamp source.
func WithClock(c Clock) Option {
	return func(s *Store) {
		s.clock = c
	}
}

// WithIDGenerator sets the client identifier source.
func WithIDGenerator(g IDGenerator) Option {
	return func(s *Store) {
		s.ids = g
	}
}

// WithLogger sets the store logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// New creates an unopened Store.
func New(opts ...Option) *Store {
	s := &Store{
		schema: schema.Default(),
		clock:  ClockFunc(time.Now),
		ids:    UUIDGenerator{},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.engine == nil {
		s.engine = cascade.NewDefault(cascade.WithLogger(s.logger))
	}
	return s
}

// Open creates a Store and opens the database at path.
func Open(ctx context.Context, path string, opts ...Option) (*Store, error) {
	s := New(opts...)
	if err := s.Open(ctx, path); err != nil {
		return nil, err
	}
	return s, nil
}

// Open creates or opens the SQLite database at path, applies pragmas,
// creates the schema if the marker table is missing and runs migrations.
//
// Returns errs.UnsupportedEnvironment when the binary was built without cgo.
func (s *Store) Open(ctx context.Context, path string) error {
	db, err := sqlx.Open("sqlite3", dsn(path))
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		if isCgoMissing(err) {
			return errs.UnsupportedEnvironment(err)
		}
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	// SQLite only supports one writer at a time; one connection also keeps
	// rules and statements of a transaction on the same session.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to apply pragmas: %w", err)
	}

	if err := applySchema(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to apply schema: %w", err)
	}

	s.mu.Lock()
	s.db = db
	s.ready = true
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	s.logger.Info("store opened",
		zap.String("path", path),
		zap.Int("schema_version", currentSchemaVersion))

	for _, fn := range pending {
		fn()
	}
	return nil
}

// OnReady runs fn once the store is open. If it already is, fn runs now.
func (s *Store) OnReady(fn func()) {
	s.mu.Lock()
	if !s.ready {
		s.pending = append(s.pending, fn)
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()
	fn()
}

// Ready reports whether Open has completed.
func (s *Store) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// Close closes the database connection.
func (s *Store) Close() error {
	s.mu.Lock()
	db := s.db
	s.db = nil
	s.ready = false
	s.mu.Unlock()

	if db == nil {
		return nil
	}
	return db.Close()
}

// DB returns the underlying database handle.
// Use with caution - writes made through it bypass the cascade engine.
func (s *Store) DB() *sqlx.DB {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db
}

// Schema returns the table definitions.
func (s *Store) Schema() *schema.Schema {
	return s.schema
}

// Engine returns the cascade engine.
func (s *Store) Engine() *cascade.Engine {
	return s.engine
}

// NewID returns a fresh client identifier.
func (s *Store) NewID() string {
	return s.ids.NewID()
}

// Now returns the store clock's current time.
func (s *Store) Now() time.Time {
	return s.clock.Now()
}

func (s *Store) handle(op string) (*sqlx.DB, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.ready || s.db == nil {
		return nil, errs.NotInitialized(op)
	}
	return s.db, nil
}

func dsn(path string) string {
	params := "_foreign_keys=on&_busy_timeout=5000"
	if strings.Contains(path, "?") {
		return path + "&" + params
	}
	return path + "?" + params
}

// isCgoMissing recognises the error returned by the go-sqlite3 stub driver
// compiled with CGO_ENABLED=0.
func isCgoMissing(err error) bool {
	return strings.Contains(err.Error(), "CGO_ENABLED=0") || strings.Contains(err.Error(), "requires cgo")
}

// applyPragmas sets required SQLite configuration.
func applyPragmas(ctx context.Context, db *sqlx.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}

	for _, pragma := range pragmas {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}

	return nil
}

// applySchema creates the tables unless the marker table already exists,
// then runs migrations. Existing primary tables are never dropped or recreated.
func applySchema(ctx context.Context, db *sqlx.DB) error {
	var count int
	if err := db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", schema.MarkerTable); err != nil {
		return fmt.Errorf("check marker table: %w", err)
	}

	if count == 0 {
		if _, err := db.ExecContext(ctx, schema.DDL); err != nil {
			return fmt.Errorf("failed to execute schema: %w", err)
		}
	}

	if err := runMigrations(ctx, db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// runMigrations applies incremental schema migrations based on user_version.
func runMigrations(ctx context.Context, db *sqlx.DB) error {
	var version int
	if err := db.GetContext(ctx, &version, "PRAGMA user_version"); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if err := migrateToV1(ctx, db); err != nil {
			return err
		}
	}

	if _, err := db.ExecContext(ctx, fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}

	return nil
}

// migrateToV1 indexes updated_at on every table and the reservation
// foreign keys walked by the batch-delete rule.
func migrateToV1(ctx context.Context, db *sqlx.DB) error {
	stmts := []string{
		"CREATE INDEX IF NOT EXISTS idx_reservation_item_batch ON reservation_item(batch_id)",
		"CREATE INDEX IF NOT EXISTS idx_reservation_consumption_item ON reservation_consumption(item_id)",
		"CREATE INDEX IF NOT EXISTS idx_orders_status ON orders(status)",
	}
	for _, table := range schema.Default().Tables() {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS idx_%s_updated_at ON %s(updated_at)", table, table))
	}

	for _, stmt := range stmts {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// mapError converts SQLite constraint failures into ConstraintViolation and
// wraps everything else with the operation.
func mapError(table, op string, err error) error {
	if err == nil {
		return nil
	}
	var de *errs.Error
	if errors.As(err, &de) {
		return err
	}
	var se sqlite3.Error
	if errors.As(err, &se) && se.Code == sqlite3.ErrConstraint {
		return &errs.Error{
			Code:    errs.CodeConstraintViolation,
			Table:   table,
			Op:      op,
			Message: se.Error(),
			Err:     err,
		}
	}
	if table == "" {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s %s: %w", op, table, err)
}

// verifyPragma checks that a pragma is set to the expected value.
// Used for testing.
func (s *Store) verifyPragma(name, expected string) error {
	db, err := s.handle("pragma")
	if err != nil {
		return err
	}
	var value string
	if err := db.Get(&value, fmt.Sprintf("PRAGMA %s", name)); err != nil {
		return fmt.Errorf("failed to query %s: %w", name, err)
	}
	if value != expected {
		return fmt.Errorf("%s = %q, expected %q", name, value, expected)
	}
	return nil
}

// Package store is the record access layer: generic CRUD and transaction
// primitives over the embedded SQLite database. It is the only package that
// issues statements against the local tables.
//
// Every write runs inside a transaction. For each affected row the store
// fires the cascade engine's BEFORE rules, executes the statement, re-reads
// the row and fires the AFTER rules, all on the same transaction. A rule
// error or a constraint failure rolls the whole transaction back.
//
// # Lifecycle
//
// A Store is constructed with New and becomes usable once Open returns.
// Operations attempted before that fail with errs.NotInitialized. Callbacks
// registered through OnReady during the init window run once, in order, when
// Open succeeds.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//   - one open connection: statements are serialised in-process
//
// # Identifiers and timestamps
//
// Tables with client identifiers get a random UUID when inserted without an
// id. Inserts stamp created_at and updated_at, updates stamp updated_at,
// unless the caller provides them (the sync engine applies remote values).
// last_sync is only written by the sync engine.
package store

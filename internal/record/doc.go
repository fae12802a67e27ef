// Package record holds the value types exchanged between the store, the
// cascade engine, the sync engine and the remote endpoint.
//
// A Row is a plain field map keyed by column name. Values are normalised to a
// small set of Go types (nil, string, int64, float64, bool, []byte) so rows
// read from SQLite, decoded from JSON or scanned from Postgres compare equal.
//
// Timestamps are ISO-8601 UTC strings in a fixed-width layout (TimeLayout),
// which makes lexical comparison identical to chronological comparison. The
// store relies on this for the dirty-row test updated_at > last_sync.
package record

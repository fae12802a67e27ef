// Package errs defines the error taxonomy shared by the store, the cascade
// engine and the sync engine.
//
// Every error carries a Code so callers can branch on the category without
// string matching. Helpers use errors.As, so wrapped errors are recognised.
package errs

import (
	"errors"
	"fmt"
)

// Code categorises an Error.
type Code string

const (
	// CodeConstraintViolation: a check constraint or cascade rule rejected a write.
	CodeConstraintViolation Code = "CONSTRAINT_VIOLATION"

	// CodeReservationExceeded: a consumption exceeds the remaining reserved balance.
	CodeReservationExceeded Code = "RESERVATION_EXCEEDED"

	// CodeNotInitialized: the embedded store has not finished opening.
	CodeNotInitialized Code = "NOT_INITIALIZED"

	// CodeSyncTransport: a remote endpoint call failed.
	CodeSyncTransport Code = "SYNC_TRANSPORT"

	// CodeUnsupportedEnvironment: the embedded store cannot run on this target.
	CodeUnsupportedEnvironment Code = "UNSUPPORTED_ENVIRONMENT"

	// CodeUnknownTable: the table is not part of the schema.
	CodeUnknownTable Code = "UNKNOWN_TABLE"

	// CodeInvalidField: a field, column or identifier was rejected.
	CodeInvalidField Code = "INVALID_FIELD"

	// CodeNotFound: no row matched.
	CodeNotFound Code = "NOT_FOUND"

	// CodeInvalidTransition: a status change is not allowed from the current state.
	CodeInvalidTransition Code = "INVALID_TRANSITION"
)

// Error is the structured error returned by the data layer.
type Error struct {
	Code    Code
	Message string

	// Table and Op locate the failure (e.g. "orders", "update").
	Table string
	Op    string

	// Rule names the cascade rule that rejected the write, if any.
	Rule string

	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.Table != "" && e.Rule != "":
		msg = fmt.Sprintf("%s (table=%s, rule=%s)", msg, e.Table, e.Rule)
	case e.Table != "":
		msg = fmt.Sprintf("%s (table=%s)", msg, e.Table)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates an Error with the given code and message.
func New(code Code, table, message string) *Error {
	return &Error{Code: code, Table: table, Message: message}
}

// Wrap creates an Error around an underlying cause.
func Wrap(code Code, table, op string, err error) *Error {
	return &Error{Code: code, Table: table, Op: op, Message: op + " failed", Err: err}
}

// ConstraintViolation reports a rejected write.
func ConstraintViolation(table, message string) *Error {
	return New(CodeConstraintViolation, table, message)
}

// ReservationExceeded reports a consumption beyond the reserved balance.
func ReservationExceeded(table, message string) *Error {
	return New(CodeReservationExceeded, table, message)
}

// NotInitialized reports an operation attempted before the store opened.
func NotInitialized(op string) *Error {
	return &Error{Code: CodeNotInitialized, Op: op, Message: "store is not initialized"}
}

// SyncTransport wraps a failed remote call.
func SyncTransport(table, op string, err error) *Error {
	return &Error{Code: CodeSyncTransport, Table: table, Op: op, Message: op + " transport failed", Err: err}
}

// UnsupportedEnvironment reports that the embedded store is unavailable.
func UnsupportedEnvironment(err error) *Error {
	return &Error{Code: CodeUnsupportedEnvironment, Message: "embedded store unavailable on this runtime", Err: err}
}

// UnknownTable reports a table missing from the schema.
func UnknownTable(table string) *Error {
	return New(CodeUnknownTable, table, fmt.Sprintf("unknown table %q", table))
}

// InvalidField reports a rejected field or identifier.
func InvalidField(table, field, reason string) *Error {
	return New(CodeInvalidField, table, fmt.Sprintf("field %q: %s", field, reason))
}

// NotFound reports a missing row.
func NotFound(table string, id any) *Error {
	return New(CodeNotFound, table, fmt.Sprintf("row %v not found", id))
}

// InvalidTransition reports a disallowed status change.
func InvalidTransition(table, from, to string) *Error {
	return New(CodeInvalidTransition, table, fmt.Sprintf("cannot move from %q to %q", from, to))
}

// CodeOf returns the Code of err, or "" if err is not an *Error.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsConstraintViolation reports whether err is a ConstraintViolation.
func IsConstraintViolation(err error) bool { return Is(err, CodeConstraintViolation) }

// IsReservationExceeded reports whether err is a ReservationExceeded.
func IsReservationExceeded(err error) bool { return Is(err, CodeReservationExceeded) }

// IsNotInitialized reports whether err is a NotInitialized.
func IsNotInitialized(err error) bool { return Is(err, CodeNotInitialized) }

// IsSyncTransport reports whether err is a SyncTransportError.
func IsSyncTransport(err error) bool { return Is(err, CodeSyncTransport) }

// IsUnsupportedEnvironment reports whether err is an UnsupportedEnvironment.
func IsUnsupportedEnvironment(err error) bool { return Is(err, CodeUnsupportedEnvironment) }

// IsNotFound reports whether err is a NotFound.
func IsNotFound(err error) bool { return Is(err, CodeNotFound) }

package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	err := ConstraintViolation("stock_item", "reserved exceeds available")
	err.Rule = "stock-reserved-within-quantity"

	assert.Equal(t,
		"CONSTRAINT_VIOLATION: reserved exceeds available (table=stock_item, rule=stock-reserved-within-quantity)",
		err.Error())
}

func TestError_FormatWithCause(t *testing.T) {
	err := SyncTransport("orders", "pull", errors.New("connection refused"))
	assert.Equal(t, "SYNC_TRANSPORT: pull transport failed (table=orders): connection refused", err.Error())
}

func TestIsHelpers_SeeThroughWrapping(t *testing.T) {
	base := ReservationExceeded("reservation_consumption", "6 > 5")
	wrapped := fmt.Errorf("transaction op 2: %w", base)

	assert.True(t, IsReservationExceeded(wrapped))
	assert.False(t, IsConstraintViolation(wrapped))
	assert.Equal(t, CodeReservationExceeded, CodeOf(wrapped))
}

func TestCodeOf_PlainError(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(errors.New("boom")))
	assert.False(t, IsNotInitialized(nil))
}

func TestUnwrap(t *testing.T) {
	cause := errors.New("cgo disabled")
	err := UnsupportedEnvironment(cause)

	assert.True(t, errors.Is(err, cause))
	assert.True(t, IsUnsupportedEnvironment(err))
}

func TestNotInitialized(t *testing.T) {
	err := NotInitialized("select")
	assert.True(t, IsNotInitialized(err))
	assert.Equal(t, "select", err.Op)
}

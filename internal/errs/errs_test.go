package errs

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_ClassifiesPackageErrors(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("bad input")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("missing")))
	assert.Equal(t, KindCycleDetected, KindOf(CycleDetected("cycle")))
}

func TestKindOf_UnknownErrorIsFatal(t *testing.T) {
	assert.Equal(t, KindFatal, KindOf(errors.New("boom")))
}

func TestKindOf_NilErrorIsEmpty(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(nil))
}

func TestIsRetryable_OnlyTransactionAborted(t *testing.T) {
	assert.True(t, IsRetryable(TransactionAborted("serialization failure")))
	assert.False(t, IsRetryable(Conflict("duplicate")))
	assert.False(t, IsRetryable(errors.New("plain")))
}

func TestWrap_PreservesCauseForUnwrap(t *testing.T) {
	cause := errors.New("underlying")
	wrapped := Wrap(KindFatal, cause, "context: %s", "detail")
	assert.ErrorIs(t, wrapped, cause)
	assert.Equal(t, KindFatal, KindOf(wrapped))
}

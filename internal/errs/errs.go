// Package errs defines the closed set of error kinds the task core reports
// to callers. Every operation error surfaced across package boundaries is
// one of these kinds; nothing is swallowed.
package errs

import (
	"errors"
	"fmt"
)

// Kind is a machine-readable error classification.
type Kind string

const (
	KindValidation         Kind = "ValidationError"
	KindNotFound           Kind = "NotFound"
	KindUnavailable        Kind = "Unavailable"
	KindNotAssigned        Kind = "NotAssigned"
	KindInvalidTransition  Kind = "InvalidTransition"
	KindCycleDetected      Kind = "CycleDetected"
	KindConflict           Kind = "Conflict"
	KindTransactionAborted Kind = "TransactionAborted"
	KindFatal              Kind = "Fatal"
)

// Error is the error type returned by every core operation. Detail is
// human-readable and must never leak internal handles or credentials.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

// Unwrap exposes the underlying cause, if any, for errors.Is/As.
func (e *Error) Unwrap() error { return e.cause }

func newErr(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause to a new classified error.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	e := newErr(kind, format, args...)
	e.cause = cause
	return e
}

func Validation(format string, args ...interface{}) *Error {
	return newErr(KindValidation, format, args...)
}

func NotFound(format string, args ...interface{}) *Error {
	return newErr(KindNotFound, format, args...)
}

func Unavailable(format string, args ...interface{}) *Error {
	return newErr(KindUnavailable, format, args...)
}

func NotAssigned(format string, args ...interface{}) *Error {
	return newErr(KindNotAssigned, format, args...)
}

func InvalidTransition(format string, args ...interface{}) *Error {
	return newErr(KindInvalidTransition, format, args...)
}

func CycleDetected(format string, args ...interface{}) *Error {
	return newErr(KindCycleDetected, format, args...)
}

func Conflict(format string, args ...interface{}) *Error {
	return newErr(KindConflict, format, args...)
}

func TransactionAborted(format string, args ...interface{}) *Error {
	return newErr(KindTransactionAborted, format, args...)
}

func Fatal(format string, args ...interface{}) *Error {
	return newErr(KindFatal, format, args...)
}

// KindOf extracts the Kind from any error produced by this package. Errors
// not produced here classify as KindFatal rather than being treated as ok.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindFatal
}

// IsRetryable reports whether the writer should retry the operation
// internally rather than surface it immediately.
func IsRetryable(err error) bool {
	return KindOf(err) == KindTransactionAborted
}

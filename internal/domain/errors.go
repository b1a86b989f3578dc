package domain

import (
	"errors"
	"fmt"
)

// FailureKind classifies engine failures so callers can branch
// programmatically; the message is for humans.
type FailureKind string

const (
	// KindInvalidRequest marks malformed amount/currency/ids, detected before
	// any lock is taken.
	KindInvalidRequest FailureKind = "invalid_request"
	// KindAccountNotFound marks a transfer or adjustment naming an unknown account.
	KindAccountNotFound FailureKind = "account_not_found"
	// KindCurrencyMismatch marks disagreement between request and account currencies.
	KindCurrencyMismatch FailureKind = "currency_mismatch"
	// KindInsufficientFunds marks a mutation that would drive a balance negative.
	KindInsufficientFunds FailureKind = "insufficient_funds"
	// KindLockTimeout marks a lock that could not be acquired within the wait bound.
	KindLockTimeout FailureKind = "lock_timeout"
	// KindStorageFailure marks an underlying write failure after locks were held.
	KindStorageFailure FailureKind = "storage_failure"
)

// Error is the engine's failure type: a kind for branching plus a message.
type Error struct {
	Kind    FailureKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Errf builds a failure of the given kind with a formatted message.
func Errf(kind FailureKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// WrapErr builds a failure of the given kind around an underlying error.
func WrapErr(kind FailureKind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the failure kind from err, or "" for non-engine errors.
func KindOf(err error) FailureKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind reports whether err is an engine failure of the given kind.
func IsKind(err error, kind FailureKind) bool {
	return KindOf(err) == kind
}

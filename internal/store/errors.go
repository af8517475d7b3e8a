package store

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies every failure a store operation can return.
type Kind string

const (
	// KindValidation indicates caller-supplied input violated a precondition
	// (empty required field, malformed value).
	KindValidation Kind = "VALIDATION"

	// KindNotFound indicates a referenced entity does not exist.
	KindNotFound Kind = "NOT_FOUND"

	// KindConflict indicates a uniqueness violation that is not otherwise
	// idempotent (duplicate tag name).
	KindConflict Kind = "CONFLICT"

	// KindStorage indicates an engine-level fault: unavailable, corrupted,
	// I/O failure, or exhausted busy retries.
	KindStorage Kind = "STORAGE"
)

// Error is the single error type returned by store operations. Expected
// conditions (missing row, duplicate name, bad input) travel the return path
// as Validation/NotFound/Conflict; only engine faults carry KindStorage.
type Error struct {
	Kind    Kind
	Message string

	// Transient marks contention faults (BUSY/LOCKED) the caller may retry.
	Transient bool

	cause error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", strings.ToLower(string(e.Kind)), e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", strings.ToLower(string(e.Kind)), e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

func invalid(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func notFound(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

func conflict(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// storageFault wraps an engine error. Busy/locked contention is marked
// transient so callers can distinguish retry-worthy faults.
func storageFault(err error, format string, args ...any) *Error {
	return &Error{
		Kind:      KindStorage,
		Message:   fmt.Sprintf(format, args...),
		Transient: isSQLiteBusy(err),
		cause:     err,
	}
}

// KindOf returns the failure kind of err, or "" when err is not a store error.
func KindOf(err error) Kind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return ""
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsNotFound(err error) bool   { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }

// IsTransient reports whether err is a storage fault worth retrying.
func IsTransient(err error) bool {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind == KindStorage && se.Transient
	}
	return false
}

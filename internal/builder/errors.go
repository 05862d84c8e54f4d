package builder

import (
	"errors"
	"fmt"
)

// Kind labels the class of failure an operation ended with.
type Kind string

const (
	KindValidation    Kind = "validation"
	KindAuthorization Kind = "authorization"
	KindNotFound      Kind = "not_found"
	KindConflict      Kind = "conflict"
	KindStorage       Kind = "storage"
)

// Error is the failure type returned by every builder operation.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target is an *Error of the same kind, so the sentinels
// below match any error of their kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

var (
	// ErrValidation matches malformed or missing input.
	ErrValidation = &Error{Kind: KindValidation, Message: "invalid input"}
	// ErrAuthorization matches callers lacking rights for an operation.
	ErrAuthorization = &Error{Kind: KindAuthorization, Message: "not authorized"}
	// ErrNotFound matches ids that do not resolve, or resolve to records the
	// caller may not see. Stores return it for missing records.
	ErrNotFound = &Error{Kind: KindNotFound, Message: "not found"}
	// ErrConflict matches stale revisions. Stores return it when the
	// expected revision no longer matches.
	ErrConflict = &Error{Kind: KindConflict, Message: "revision conflict"}
	// ErrStorage matches failures of the backing store.
	ErrStorage = &Error{Kind: KindStorage, Message: "storage failure"}
)

// KindOf returns the kind of err, or KindStorage for errors that did not
// originate in this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStorage
}

func validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

func authorizationf(format string, args ...any) *Error {
	return &Error{Kind: KindAuthorization, Message: fmt.Sprintf(format, args...)}
}

func notFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// storeError classifies an error returned by a Store. Misses and revision
// conflicts keep their kind; everything else becomes a storage failure.
func storeError(op string, err error) *Error {
	switch {
	case errors.Is(err, ErrNotFound):
		return &Error{Kind: KindNotFound, Message: op + ": not found"}
	case errors.Is(err, ErrConflict):
		return &Error{Kind: KindConflict, Message: op + ": revision conflict"}
	}
	return &Error{Kind: KindStorage, Message: op, Cause: err}
}

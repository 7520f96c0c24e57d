// Package apperr defines the error taxonomy shared by the services and the HTTP layer.
// Every user-visible failure carries a Kind and a stable machine-readable code.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an error for callers.
type Kind int

// Error kinds.
const (
	KindInternal Kind = iota
	KindValidation
	KindNotFound
	KindConflict
	KindInsufficientFunds
	KindForbidden
	KindUnauthorized
	KindPersistence
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindConflict:
		return "conflict"
	case KindInsufficientFunds:
		return "insufficient_funds"
	case KindForbidden:
		return "forbidden"
	case KindUnauthorized:
		return "unauthorized"
	case KindPersistence:
		return "persistence"
	default:
		return "internal"
	}
}

// HTTPStatus maps a kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindInsufficientFunds:
		return http.StatusUnprocessableEntity
	case KindForbidden:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Error is a classified application error.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error by code, so a wrapped copy still satisfies
// errors.Is against the package-level sentinel it was built from.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code && e.Kind == t.Kind
}

// New creates an error of the given kind.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation creates a validation error.
func Validation(code, message string) *Error {
	return New(KindValidation, code, message)
}

// NotFound creates a not-found error.
func NotFound(code, message string) *Error {
	return New(KindNotFound, code, message)
}

// Conflict creates a conflict error.
func Conflict(code, message string) *Error {
	return New(KindConflict, code, message)
}

// Forbidden creates a forbidden error.
func Forbidden(code, message string) *Error {
	return New(KindForbidden, code, message)
}

// Persistence wraps a storage failure. The cause is kept for logs only.
func Persistence(err error) *Error {
	return &Error{Kind: KindPersistence, Code: "internal_error", Message: "internal error", Err: err}
}

// WithMessage returns a copy of e with a more specific message.
func (e *Error) WithMessage(format string, args ...any) *Error {
	cp := *e
	cp.Message = fmt.Sprintf(format, args...)
	return &cp
}

// Wrap returns a copy of e carrying cause.
func (e *Error) Wrap(cause error) *Error {
	cp := *e
	cp.Err = cause
	return &cp
}

// From extracts the classified error from err. Unclassified errors become
// KindInternal with the generic internal code.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	return &Error{Kind: KindInternal, Code: "internal_error", Message: "internal error", Err: err}
}

// KindOf returns the kind of err.
func KindOf(err error) Kind {
	return From(err).Kind
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

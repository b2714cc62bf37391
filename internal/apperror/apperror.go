package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers that need to react to it, such as the
// HTTP layer choosing a status code.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindForbidden    Kind = "forbidden"
	KindConflict     Kind = "conflict"
	KindInvalidState Kind = "invalid_state"
	KindPrecondition Kind = "precondition"
	KindUnauthorized Kind = "unauthorized"
)

// Error is a typed domain failure. Key is a stable machine-readable identifier
// that clients use for localization.
type Error struct {
	Kind    Kind
	Key     string
	Message string
	Fields  map[string][]string
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}

	if e.Key != "" {
		return e.Key
	}

	return string(e.Kind)
}

// Is matches the kind sentinels below, so errors.Is(err, ErrNotFound) holds for
// every not-found error regardless of its key.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}

	if t.Key == "" {
		return t.Kind == e.Kind
	}

	return t.Kind == e.Kind && t.Key == e.Key
}

var (
	ErrValidation   = &Error{Kind: KindValidation}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrForbidden    = &Error{Kind: KindForbidden}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrInvalidState = &Error{Kind: KindInvalidState}
	ErrPrecondition = &Error{Kind: KindPrecondition}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
)

func New(kind Kind, key, format string, args ...any) *Error {
	return &Error{Kind: kind, Key: key, Message: fmt.Sprintf(format, args...)}
}

func Validation(key string, fields map[string][]string) *Error {
	return &Error{Kind: KindValidation, Key: key, Message: "validation failed", Fields: fields}
}

// Field builds a single-field validation error.
func Field(key, field, message string) *Error {
	return &Error{
		Kind:    KindValidation,
		Key:     key,
		Message: message,
		Fields:  map[string][]string{field: {message}},
	}
}

func NotFound(key, format string, args ...any) *Error {
	return New(KindNotFound, key, format, args...)
}

func Forbidden(key, format string, args ...any) *Error {
	return New(KindForbidden, key, format, args...)
}

func Conflict(key, format string, args ...any) *Error {
	return New(KindConflict, key, format, args...)
}

func InvalidState(key, format string, args ...any) *Error {
	return New(KindInvalidState, key, format, args...)
}

func Precondition(key, format string, args ...any) *Error {
	return New(KindPrecondition, key, format, args...)
}

func Unauthorized(key, format string, args ...any) *Error {
	return New(KindUnauthorized, key, format, args...)
}

// As returns the typed error carried by err, if any.
func As(err error) (*Error, bool) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr, true
	}

	return nil, false
}

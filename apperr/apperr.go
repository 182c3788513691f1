// Package apperr defines the error taxonomy surfaced to API clients.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for client-facing mapping.
type Kind string

const (
	KindNotFound         Kind = "not_found"
	KindInvalidInput     Kind = "invalid_input"
	KindInvalidOperation Kind = "invalid_operation"
	KindPermissionDenied Kind = "permission_denied"
	KindUnauthenticated  Kind = "unauthenticated"
	KindUnknown          Kind = "unknown"
)

// InternalMessage is what clients see for unexpected errors in production.
const InternalMessage = "An unexpected error has occurred"

// Error carries a kind alongside the underlying cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// New creates an Error with a client-safe message.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// ErrUnauthenticated is the canonical authentication failure. Handlers return
// it without detail so token parsing internals never reach clients.
var ErrUnauthenticated = New(KindUnauthenticated, "Unauthenticated")

// KindOf extracts the kind from an error chain, KindUnknown if absent.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return KindUnknown
}

// ClientMessage maps an error to what the client is allowed to see.
// Unexpected errors are masked outside development mode.
func ClientMessage(err error, development bool) string {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Message
	}
	if development {
		return err.Error()
	}
	return InternalMessage
}

// Package errs defines the error taxonomy shared across components.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error for boundary mapping and retry decisions
type Kind string

const (
	KindValidation Kind = "validation" // malformed caller input, never retried
	KindNotFound   Kind = "not_found"  // no such user or message
	KindAuth       Kind = "auth"       // expired/invalid/revoked credential
	KindUpstream   Kind = "upstream"   // remote failure after retry budget
	KindAnalysis   Kind = "analysis"   // LLM response not parseable, per-item
)

// Error carries a kind alongside the wrapped cause
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a classified error
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap classifies an underlying error
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// Validationf creates a validation error with formatting
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or empty string for unclassified errors
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Retryable reports whether a task hitting this error may be retried.
// Only transient upstream failures qualify; auth and validation errors
// are permanent until the caller intervenes.
func Retryable(err error) bool {
	return IsKind(err, KindUpstream)
}

// Response is the uniform boundary shape for surfaced errors
type Response struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Kind    Kind   `json:"kind,omitempty"`
}

// ToResponse maps any error to the boundary shape
func ToResponse(err error) Response {
	var e *Error
	if errors.As(err, &e) {
		return Response{Status: "error", Message: e.Msg, Kind: e.Kind}
	}
	return Response{Status: "error", Message: "internal server error"}
}

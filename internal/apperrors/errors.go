// Package apperrors defines the error kinds propagated across the analysis
// pipeline and the HTTP status codes they map to. The teacher's own code
// favours plain fmt.Errorf wrapping over a third-party errors package (its
// go.mod carries go-faster/errors but exercises zero call sites), so this
// package follows stdlib errors + fmt.Errorf("...: %w", ...) rather than
// introducing one.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind enumerates the error categories from the error-handling design.
type Kind string

const (
	KindTransientRemote   Kind = "transient_remote"
	KindPermanentRemote   Kind = "permanent_remote"
	KindParseError        Kind = "parse_error"
	KindInvariantViolated Kind = "invariant_violated"
	KindCancelled         Kind = "cancelled"
	KindTimeout           Kind = "timeout"
	KindDuplicateKey      Kind = "duplicate_key"
	KindNotFound          Kind = "not_found"
	KindAlreadyRunning    Kind = "already_running"
)

// Error wraps an underlying cause with a Kind so callers can branch on it
// with errors.As without inspecting message text.
type Error struct {
	Kind    Kind
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

// New builds an *Error with no wrapped cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap builds an *Error wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is lets callers write errors.Is(err, apperrors.KindTransientRemote) style
// checks by comparing the Kind field instead of a sentinel value.
func Is(err error, kind Kind) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind == kind
	}
	return false
}

// HTTPStatus maps an error kind to the status code prescribed in the
// error-handling design: validation failures -> 400, missing IDs -> 404,
// running-conflict -> 409, remote outages -> 503, everything else -> 500.
func HTTPStatus(err error) int {
	var appErr *Error
	if !errors.As(err, &appErr) {
		return http.StatusInternalServerError
	}
	switch appErr.Kind {
	case KindParseError:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyRunning, KindDuplicateKey:
		return http.StatusConflict
	case KindTransientRemote, KindPermanentRemote, KindTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

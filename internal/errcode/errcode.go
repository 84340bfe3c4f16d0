// Package errcode defines the structured error taxonomy shared by the
// session, blob and document stores.
//
// Every failure surfaced by a store carries a machine-readable Code and a
// human-readable Message. Callers classify on the code only; the message is
// for operators. The codes deliberately mirror the hosted backend's error
// surface so that swapping the emulation layer for the real service does not
// change caller-side handling.
package errcode

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a failure class.
type Code string

const (
	// CodeNotFound is returned for a missing identity, document or blob.
	CodeNotFound Code = "NOT_FOUND"
	// CodeAlreadyExists is returned when registering a duplicate email.
	CodeAlreadyExists Code = "ALREADY_EXISTS"
	// CodeInvalidArgument is returned for empty blobs or missing required
	// metadata fields.
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeTimeout is returned when a blob write exceeds its time budget.
	// The caller cannot assume the underlying write did or did not complete.
	CodeTimeout Code = "TIMEOUT"
	// CodeStorageFailure is returned when the underlying substrate failed,
	// e.g. quota exceeded or an I/O error.
	CodeStorageFailure Code = "STORAGE_FAILURE"
	// CodeUnauthorized is returned when no authenticated identity is present
	// for an operation that requires one. Detected at the calling surface,
	// not inside the stores.
	CodeUnauthorized Code = "UNAUTHORIZED"
	// CodeInternal is the fallback for unclassified errors.
	CodeInternal Code = "INTERNAL"
)

// Error is a failure with a code and message, optionally wrapping a cause.
type Error struct {
	code    Code
	message string
	wrapped error
}

// New creates an Error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

// Newf creates an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

// Wrap wraps an underlying cause. Returns the receiver.
func (e *Error) Wrap(err error) *Error {
	e.wrapped = err
	return e
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.wrapped != nil {
		return fmt.Sprintf("%s: %v", e.message, e.wrapped)
	}
	return e.message
}

// Code returns the failure class.
func (e *Error) Code() Code {
	return e.code
}

// Message returns the message without the wrapped cause.
func (e *Error) Message() string {
	return e.message
}

// Unwrap returns the wrapped cause if any.
func (e *Error) Unwrap() error {
	return e.wrapped
}

// CodeOf extracts the Code from an error chain. Non-taxonomy errors
// classify as CodeInternal; nil classifies as the empty code.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// NotFound creates a NOT_FOUND error for the named resource.
func NotFound(resource string) *Error {
	return Newf(CodeNotFound, "%s not found", resource)
}

// AlreadyExists creates an ALREADY_EXISTS error for the named resource.
func AlreadyExists(resource string) *Error {
	return Newf(CodeAlreadyExists, "%s already exists", resource)
}

// InvalidArgument creates an INVALID_ARGUMENT error.
func InvalidArgument(message string) *Error {
	return New(CodeInvalidArgument, message)
}

// Timeout creates a TIMEOUT error.
func Timeout(message string) *Error {
	return New(CodeTimeout, message)
}

// StorageFailure creates a STORAGE_FAILURE error wrapping the substrate error.
func StorageFailure(message string, err error) *Error {
	return New(CodeStorageFailure, message).Wrap(err)
}

// Unauthorized creates an UNAUTHORIZED error.
func Unauthorized() *Error {
	return New(CodeUnauthorized, "unauthorized")
}

// HTTPStatus maps a code to the HTTP status used by the REST surface.
func HTTPStatus(code Code) int {
	switch code {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeInvalidArgument:
		return http.StatusBadRequest
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeStorageFailure:
		return http.StatusInsufficientStorage
	case CodeUnauthorized:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// Package errors provides coded domain errors for MediaShelf, including the
// taxonomy used by peer library sync.
//
// Usage:
//
//	// In the sync core - return typed errors
//	if library.SharedGroupID == nil {
//	    return errors.NotShared("library is not shared")
//	}
//
//	// In callers - check with errors.Is
//	if errors.Is(err, errors.ErrIncompatiblePeer) {
//	    showUpgradePrompt()
//	}
//
//	// Or use the Code directly for switch statements
//	var domainErr *errors.Error
//	if errors.As(err, &domainErr) {
//	    fmt.Println(domainErr.Code.UserMessage())
//	}
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Re-export standard library functions for convenience.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
	Join   = errors.Join
	New    = errors.New
)

// Code represents a machine-readable error code.
type Code string

// Error codes used throughout the application.
const (
	CodeNotFound   Code = "NOT_FOUND"
	CodeValidation Code = "VALIDATION"
	CodeInternal   Code = "INTERNAL"

	// Sync taxonomy.
	CodePermissionDenied Code = "PERMISSION_DENIED"
	CodeConnectionFailed Code = "CONNECTION_FAILED"
	CodeConnectionLost   Code = "CONNECTION_LOST"
	CodeIncompatiblePeer Code = "INCOMPATIBLE_PEER"
	CodeLibraryMismatch  Code = "LIBRARY_MISMATCH"
	CodeMalformedMessage Code = "MALFORMED_MESSAGE"
	CodeNotShared        Code = "NOT_SHARED"
	CodeTimeout          Code = "TIMEOUT"
	CodeCancelled        Code = "CANCELLED"
	CodeBusy             Code = "BUSY"
	CodeStorage          Code = "STORAGE"
)

// HTTPStatus returns the appropriate HTTP status code for an error code.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeValidation, CodeNotShared:
		return http.StatusBadRequest
	case CodePermissionDenied:
		return http.StatusForbidden
	case CodeBusy, CodeLibraryMismatch, CodeIncompatiblePeer:
		return http.StatusConflict
	case CodeConnectionFailed, CodeConnectionLost, CodeMalformedMessage:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// UserMessage returns a short, human-readable description suitable for a UI.
func (c Code) UserMessage() string {
	switch c {
	case CodeNotFound:
		return "The requested record does not exist."
	case CodeValidation:
		return "Some of the provided values are invalid."
	case CodePermissionDenied:
		return "Nearby device access was not granted."
	case CodeConnectionFailed:
		return "Could not connect to the other device."
	case CodeConnectionLost:
		return "The connection to the other device was lost."
	case CodeIncompatiblePeer:
		return "The other device runs an incompatible app version."
	case CodeLibraryMismatch:
		return "The other device selected a different shared library."
	case CodeMalformedMessage:
		return "The other device sent data that could not be read."
	case CodeNotShared:
		return "Only shared libraries can be synced."
	case CodeTimeout:
		return "The other device stopped responding."
	case CodeCancelled:
		return "Sync was cancelled."
	case CodeBusy:
		return "Another sync is already running."
	case CodeStorage:
		return "Synced records could not be saved."
	default:
		return "Something went wrong."
	}
}

// Recoverable reports whether starting over from an idle session can succeed
// without the user changing anything.
func (c Code) Recoverable() bool {
	switch c {
	case CodePermissionDenied, CodeConnectionFailed, CodeConnectionLost, CodeTimeout, CodeCancelled, CodeBusy, CodeStorage:
		return true
	default:
		return false
	}
}

// Error is a domain error with a code, message, and optional details.
type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
	cause   error  // unexported, for wrapping
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.cause
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// HTTPStatus returns the HTTP status code for this error.
func (e *Error) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// WithDetails returns a new error with additional details.
func (e *Error) WithDetails(details any) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: details,
		cause:   e.cause,
	}
}

// WithCause wraps an underlying error.
func (e *Error) WithCause(err error) *Error {
	return &Error{
		Code:    e.Code,
		Message: e.Message,
		Details: e.Details,
		cause:   err,
	}
}

// Sentinel errors for use with errors.Is().
var (
	ErrNotFound         = &Error{Code: CodeNotFound, Message: "not found"}
	ErrValidation       = &Error{Code: CodeValidation, Message: "validation error"}
	ErrInternal         = &Error{Code: CodeInternal, Message: "internal error"}
	ErrPermissionDenied = &Error{Code: CodePermissionDenied, Message: "permission denied"}
	ErrConnectionFailed = &Error{Code: CodeConnectionFailed, Message: "connection failed"}
	ErrConnectionLost   = &Error{Code: CodeConnectionLost, Message: "connection lost"}
	ErrIncompatiblePeer = &Error{Code: CodeIncompatiblePeer, Message: "incompatible peer"}
	ErrLibraryMismatch  = &Error{Code: CodeLibraryMismatch, Message: "library mismatch"}
	ErrMalformedMessage = &Error{Code: CodeMalformedMessage, Message: "malformed message"}
	ErrNotShared        = &Error{Code: CodeNotShared, Message: "library not shared"}
	ErrTimeout          = &Error{Code: CodeTimeout, Message: "timeout"}
	ErrCancelled        = &Error{Code: CodeCancelled, Message: "cancelled"}
	ErrBusy             = &Error{Code: CodeBusy, Message: "sync already in progress"}
	ErrStorage          = &Error{Code: CodeStorage, Message: "storage failure"}
)

// CodeOf extracts the code of a domain error, or CodeInternal for anything else.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeInternal
}

// Constructor functions for creating errors with custom messages.

// NotFound creates a not found error.
func NotFound(msg string) *Error {
	return &Error{Code: CodeNotFound, Message: msg}
}

// NotFoundf creates a not found error with formatted message.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Code: CodeNotFound, Message: fmt.Sprintf(format, args...)}
}

// Validation creates a validation error.
func Validation(msg string) *Error {
	return &Error{Code: CodeValidation, Message: msg}
}

// Validationf creates a validation error with formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// ValidationWithDetails creates a validation error with details.
func ValidationWithDetails(msg string, details any) *Error {
	return &Error{Code: CodeValidation, Message: msg, Details: details}
}

// Internal creates an internal error.
func Internal(msg string) *Error {
	return &Error{Code: CodeInternal, Message: msg}
}

// PermissionDenied creates a permission denied error.
func PermissionDenied(msg string) *Error {
	return &Error{Code: CodePermissionDenied, Message: msg}
}

// ConnectionFailed creates a connection failed error.
func ConnectionFailed(msg string) *Error {
	return &Error{Code: CodeConnectionFailed, Message: msg}
}

// ConnectionLost creates a connection lost error.
func ConnectionLost(msg string) *Error {
	return &Error{Code: CodeConnectionLost, Message: msg}
}

// IncompatiblePeerf creates an incompatible peer error with formatted message.
func IncompatiblePeerf(format string, args ...any) *Error {
	return &Error{Code: CodeIncompatiblePeer, Message: fmt.Sprintf(format, args...)}
}

// LibraryMismatchf creates a library mismatch error with formatted message.
func LibraryMismatchf(format string, args ...any) *Error {
	return &Error{Code: CodeLibraryMismatch, Message: fmt.Sprintf(format, args...)}
}

// MalformedMessage creates a malformed message error.
func MalformedMessage(msg string) *Error {
	return &Error{Code: CodeMalformedMessage, Message: msg}
}

// MalformedMessagef creates a malformed message error with formatted message.
func MalformedMessagef(format string, args ...any) *Error {
	return &Error{Code: CodeMalformedMessage, Message: fmt.Sprintf(format, args...)}
}

// NotShared creates a not shared error.
func NotShared(msg string) *Error {
	return &Error{Code: CodeNotShared, Message: msg}
}

// Timeoutf creates a timeout error with formatted message.
func Timeoutf(format string, args ...any) *Error {
	return &Error{Code: CodeTimeout, Message: fmt.Sprintf(format, args...)}
}

// Busy creates a busy error.
func Busy(msg string) *Error {
	return &Error{Code: CodeBusy, Message: msg}
}

// Wrap wraps an error with a code and message.
func Wrap(err error, code Code, msg string) *Error {
	return &Error{Code: code, Message: msg, cause: err}
}

// Wrapf wraps an error with a code and formatted message.
func Wrapf(err error, code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), cause: err}
}

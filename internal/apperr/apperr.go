// Package apperr defines the client's error taxonomy.
package apperr

import (
	"errors"
	"fmt"
)

// Kind categorizes a failure by how the UI should treat it.
type Kind string

const (
	// Network covers connectivity failures and timeouts.
	Network Kind = "NETWORK"
	// Validation covers attachments rejected before any network call.
	Validation Kind = "VALIDATION"
	// Server covers non-2xx API responses.
	Server Kind = "SERVER"
	// Upload covers attachment upload failures.
	Upload Kind = "UPLOAD"
)

// Error is a categorized client error.
type Error struct {
	Kind       Kind
	Message    string
	StatusCode int // HTTP status for Server errors
	Index      int // attachment index for Validation/Upload errors, -1 otherwise
	Cause      error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether repeating the same request may succeed.
func (e *Error) Retryable() bool {
	switch e.Kind {
	case Network, Upload:
		return true
	case Server:
		return e.StatusCode >= 500 || e.StatusCode == 429
	default:
		return false
	}
}

// NetworkError wraps a transport failure.
func NetworkError(msg string, cause error) *Error {
	return &Error{Kind: Network, Message: msg, Cause: cause, Index: -1}
}

// ServerError describes a non-2xx response.
func ServerError(status int, msg string) *Error {
	return &Error{Kind: Server, Message: msg, StatusCode: status, Index: -1}
}

// ValidationError rejects the attachment at index.
func ValidationError(index int, msg string) *Error {
	return &Error{Kind: Validation, Message: msg, Index: index}
}

// UploadError reports a failed upload of the attachment at index.
func UploadError(index int, cause error) *Error {
	return &Error{Kind: Upload, Message: fmt.Sprintf("attachment %d upload failed", index), Index: index, Cause: cause}
}

// KindOf returns the kind of err, or "" if err is not categorized.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Is reports whether err carries the given kind anywhere in its chain.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// IsRetryable reports whether err is a categorized retryable error.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable()
	}
	return false
}

// UserMessage returns text suitable for an inline error state.
func UserMessage(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "Something went wrong"
	}
	switch e.Kind {
	case Network:
		return "Can't reach the server. Check your connection and try again."
	case Validation:
		return e.Message
	case Upload:
		return "An attachment failed to upload. Tap retry to try again."
	default:
		if e.Message != "" {
			return e.Message
		}
		return fmt.Sprintf("Server error (%d)", e.StatusCode)
	}
}

// Package errors provides standardized error codes for the picbreeder host.
//
// Error codes follow the format {domain}.{error} where:
//   - domain: The subsystem that generated the error (storage, history, mirror, save)
//   - error: The specific error type within that domain
//
// These codes are stable and are returned to HTTP clients of the companion
// server alongside a human-readable message.
package errors

import (
	"errors"
	"fmt"
)

// Error codes by domain.
const (
	// Storage domain - primary store persistence errors
	CodeStorageOpenFailed    = "storage.open_failed"    // Database open failed
	CodeStorageQueryFailed   = "storage.query_failed"   // Database query failed
	CodeStorageSaveFailed    = "storage.save_failed"    // Failed to save data
	CodeStorageQuotaExceeded = "storage.quota_exceeded" // Write rejected, capacity ceiling reached

	// History domain - session repository errors
	CodeHistoryEmptyBatch      = "history.empty_batch"       // addToSession called with no images
	CodeHistorySessionNotFound = "history.session_not_found" // Session ID does not exist
	CodeHistoryImageNotFound   = "history.image_not_found"   // Image ID does not exist in session

	// Handle domain - capability handle persistence
	CodeHandleOpenFailed = "handle.open_failed" // Handle database could not be opened

	// Permission domain - capability authorization
	CodePermissionDenied = "permission.denied" // Authorization was not granted

	// Mirror domain - best-effort secondary writers
	CodeMirrorUnavailable = "mirror.unavailable" // No target configured or reachable

	// Save domain - companion server request handling
	CodeSaveMissingFields = "save.missing_fields" // sessionId, imageId or imageData missing
	CodeSaveInvalidPath   = "save.invalid_path"   // ID would escape the images directory
	CodeSaveDecodeFailed  = "save.decode_failed"  // imageData is not a decodable data URI
	CodeSaveWriteFailed   = "save.write_failed"   // Filesystem write failed

	// Config domain
	CodeConfigInvalid = "config.invalid" // Configuration value out of range

	// General domain - catch-all errors
	CodeUnknown  = "error.unknown"  // Unknown error
	CodeInternal = "error.internal" // Internal server error
)

// CodedError wraps an error with a stable error code.
// This allows errors to carry both a code for programmatic handling
// and a message for human consumption.
type CodedError struct {
	Code    string // Stable error code (e.g., "storage.quota_exceeded")
	Message string // Human-readable error message
	Cause   error  // Underlying error (may be nil)
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *CodedError) Unwrap() error {
	return e.Cause
}

// New creates a new CodedError with the given code and message.
func New(code, message string) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
	}
}

// Wrap creates a new CodedError wrapping an existing error.
func Wrap(code, message string, cause error) *CodedError {
	return &CodedError{
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

// GetCode extracts the error code from an error.
// Falls back to CodeUnknown for errors that carry no code.
func GetCode(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}

	return CodeUnknown
}

// GetMessage extracts a human-readable message from an error.
// If the error is a CodedError, returns its message.
// Otherwise, returns the error's Error() string.
func GetMessage(err error) string {
	if err == nil {
		return ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Message
	}

	return err.Error()
}

// ToCodeAndMessage extracts both code and message from an error.
// This is the primary function for converting errors to client responses.
func ToCodeAndMessage(err error) (code, message string) {
	if err == nil {
		return "", ""
	}

	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code, coded.Message
	}

	return CodeUnknown, err.Error()
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code string) bool {
	return GetCode(err) == code
}

// QuotaExceeded creates a "storage.quota_exceeded" error.
func QuotaExceeded(needed, capacity int64) *CodedError {
	return New(CodeStorageQuotaExceeded, fmt.Sprintf("write of %d bytes exceeds capacity of %d bytes", needed, capacity))
}

// SessionNotFound creates a "history.session_not_found" error.
func SessionNotFound(id string) *CodedError {
	return New(CodeHistorySessionNotFound, fmt.Sprintf("session %s not found", id))
}

// ImageNotFound creates a "history.image_not_found" error.
func ImageNotFound(sessionID, imageID string) *CodedError {
	return New(CodeHistoryImageNotFound, fmt.Sprintf("image %s not found in session %s", imageID, sessionID))
}

// PermissionDenied creates a "permission.denied" error.
func PermissionDenied(target string) *CodedError {
	return New(CodePermissionDenied, fmt.Sprintf("write access to %s was not granted", target))
}

// MirrorUnavailable creates a "mirror.unavailable" error.
func MirrorUnavailable(reason string) *CodedError {
	return New(CodeMirrorUnavailable, reason)
}

// MissingFields creates a "save.missing_fields" error.
func MissingFields() *CodedError {
	return New(CodeSaveMissingFields, "Missing required fields")
}

// InvalidPath creates a "save.invalid_path" error.
func InvalidPath(field, value string) *CodedError {
	return New(CodeSaveInvalidPath, fmt.Sprintf("invalid %s: %q", field, value))
}

// ConfigInvalid creates a "config.invalid" error.
func ConfigInvalid(key, reason string) *CodedError {
	return New(CodeConfigInvalid, fmt.Sprintf("%s: %s", key, reason))
}

// Internal creates an "error.internal" error.
func Internal(message string, cause error) *CodedError {
	return Wrap(CodeInternal, message, cause)
}

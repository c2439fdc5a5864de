package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode classifies failures surfaced to callers.
type ErrorCode string

const (
	ErrBackend    ErrorCode = "BACKEND"    // transport or non-2xx response
	ErrNotFound   ErrorCode = "NOT_FOUND"  // 404
	ErrValidation ErrorCode = "VALIDATION" // response did not match the expected shape
)

// BackendError is a failed backend call.
type BackendError struct {
	Endpoint   string
	StatusCode int
	// Code is the backend's machine-readable error code, when it sent one.
	Code    string
	Message string
	// RetryAfterSeconds is copied from the Retry-After header; nil when absent.
	RetryAfterSeconds *int
	// Err is the underlying transport or context failure, if any.
	Err error
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Error() string {
	if e.Endpoint == "" {
		return fmt.Sprintf("%s: status %d: %s", ErrBackend, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: status %d: %s", ErrBackend, e.Endpoint, e.StatusCode, e.Message)
}

// NewBackend creates a BackendError. An empty message falls back to the status text.
// WrapBackend records a call that never got a response, keeping err reachable via errors.Is.
func WrapBackend(endpoint string, err error) *BackendError {
	be := NewBackend(endpoint, 0, "", err.Error(), nil)
	be.Err = err
	return be
}

func NewBackend(endpoint string, status int, code, message string, retryAfter *int) *BackendError {
	if strings.TrimSpace(message) == "" {
		message = http.StatusText(status)
	}
	return &BackendError{
		Endpoint:          endpoint,
		StatusCode:        status,
		Code:              code,
		Message:           message,
		RetryAfterSeconds: retryAfter,
	}
}

// NotFoundError means the requested root or anchor note does not exist or is
// not visible to the credential. Callers render "not found" rather than "retry".
type NotFoundError struct {
	NoteID string
	Cause  *BackendError
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s: note %s", ErrNotFound, e.NoteID)
}

// Unwrap exposes the backend failure, so a NotFoundError also matches *BackendError.
func (e *NotFoundError) Unwrap() error {
	if e.Cause == nil {
		return nil
	}
	return e.Cause
}

func NewNotFound(noteID string, cause *BackendError) *NotFoundError {
	return &NotFoundError{NoteID: noteID, Cause: cause}
}

// ValidationError reports a backend payload that does not match the note schema.
type ValidationError struct {
	NoteID string
	Fields []string
}

func (e *ValidationError) Error() string {
	if e.NoteID == "" {
		return fmt.Sprintf("%s: invalid note: %s", ErrValidation, strings.Join(e.Fields, ", "))
	}
	return fmt.Sprintf("%s: invalid note %s: %s", ErrValidation, e.NoteID, strings.Join(e.Fields, ", "))
}

func NewValidation(noteID string, fields []string) *ValidationError {
	return &ValidationError{NoteID: noteID, Fields: fields}
}

// CodeOf returns the ErrorCode for err, or "" when err is not one of ours.
// NotFound is checked first because it wraps a BackendError.
func CodeOf(err error) ErrorCode {
	var nf *NotFoundError
	if stderrors.As(err, &nf) {
		return ErrNotFound
	}
	var ve *ValidationError
	if stderrors.As(err, &ve) {
		return ErrValidation
	}
	var be *BackendError
	if stderrors.As(err, &be) {
		return ErrBackend
	}
	return ""
}

// Is checks if err carries the given code.
func Is(err error, code ErrorCode) bool {
	return CodeOf(err) == code
}

// HTTPStatus maps err to the status a caller-facing HTTP surface should return.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrValidation:
		return http.StatusBadGateway
	case ErrBackend:
		var be *BackendError
		stderrors.As(err, &be)
		if be.StatusCode >= 400 {
			return be.StatusCode
		}
		if stderrors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

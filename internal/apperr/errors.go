// Package apperr defines the error codes shared by the remote source,
// the cache backends and the HTTP adapter.
package apperr

import (
	"errors"
	"net/http"
)

// AppError carries a stable code alongside a human readable message
type AppError struct {
	Code    string
	Message string
	Origin  error // underlying cause, if any
}

func (e *AppError) Error() string {
	if e.Origin != nil {
		return e.Message + ": " + e.Origin.Error()
	}
	return e.Message
}

// Unwrap exposes the underlying cause to errors.Is and errors.As
func (e *AppError) Unwrap() error {
	return e.Origin
}

// Error codes
const (
	// Remote source errors
	ErrTransport = "TRANSPORT"
	ErrBadStatus = "BAD_STATUS"
	ErrDecode    = "DECODE"

	// Cache errors
	ErrCacheRead        = "CACHE_READ"
	ErrCacheWrite       = "CACHE_WRITE"
	ErrUnsupportedStore = "UNSUPPORTED_STORE"

	ErrNotFound     = "NOT_FOUND"
	ErrInvalidInput = "INVALID_INPUT"
	ErrInternal     = "INTERNAL"
)

// New creates an AppError
func New(code, message string, origin error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Origin:  origin,
	}
}

// Code returns the code of the first AppError in err's chain, or ErrInternal
func Code(err error) string {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}

// IsCode reports whether err's chain holds an AppError with the given code
func IsCode(err error, code string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// IsRemote reports whether err came from the remote source
func IsRemote(err error) bool {
	switch Code(err) {
	case ErrTransport, ErrBadStatus, ErrDecode:
		return true
	}
	return false
}

// HTTPStatus maps an error code to the status the HTTP adapter responds with.
func HTTPStatus(code string) int {
	switch code {
	case ErrNotFound:
		return http.StatusNotFound
	case ErrInvalidInput:
		return http.StatusBadRequest
	case ErrTransport, ErrBadStatus, ErrDecode:
		return http.StatusBadGateway
	case ErrCacheRead, ErrCacheWrite:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

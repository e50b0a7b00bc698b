package errors

import (
	"errors"
	"fmt"
	"net/http"

	"paircast/internal/core/domain"
)

// ErrorCode is the wire-level error identifier sent back to devices. Each
// registry/relay failure kind maps to a distinct code so the UI can show a
// distinct message per kind.
type ErrorCode string

const (
	CodeRateLimited       ErrorCode = "rate_limited"
	CodeInvalidOrExpired  ErrorCode = "invalid_or_expired"
	CodeAlreadyInUse      ErrorCode = "already_in_use"
	CodeInvalidInput      ErrorCode = "invalid_input"
	CodeNegotiationFailed ErrorCode = "negotiation_failed"
	CodePeerLost          ErrorCode = "peer_lost"
	CodeInternal          ErrorCode = "internal_error"
)

// AppError carries a wire code alongside the underlying cause.
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func New(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus}
}

func Wrap(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{Code: code, Message: message, HTTPStatus: httpStatus, Cause: err}
}

func NewRateLimited() *AppError {
	return New(CodeRateLimited, "too many pairing codes requested, try again later", http.StatusTooManyRequests)
}

func NewInvalidOrExpired() *AppError {
	return New(CodeInvalidOrExpired, "pairing code is invalid or has expired", http.StatusNotFound)
}

func NewAlreadyInUse() *AppError {
	return New(CodeAlreadyInUse, "pairing code is already in use by another viewer", http.StatusConflict)
}

func NewInvalidInput(message string) *AppError {
	return New(CodeInvalidInput, message, http.StatusBadRequest)
}

// FromRegistry maps registry sentinel errors onto their wire representation.
// Unknown errors become internal errors rather than leaking details.
func FromRegistry(err error) *AppError {
	switch {
	case errors.Is(err, domain.ErrRateLimited):
		return NewRateLimited()
	case errors.Is(err, domain.ErrSessionNotFound):
		return NewInvalidOrExpired()
	case errors.Is(err, domain.ErrAlreadyBound):
		return NewAlreadyInUse()
	default:
		return Wrap(err, CodeInternal, "internal error", http.StatusInternalServerError)
	}
}

// AsAppError extracts an AppError from an error chain, if present.
func AsAppError(err error) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

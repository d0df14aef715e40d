package common

import (
	"errors"
	"fmt"
)

// ErrorCode represents different types of engine errors
type ErrorCode string

const (
	// General errors
	ErrCodeInternal           ErrorCode = "INTERNAL_ERROR"
	ErrCodeInvalidInput       ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound           ErrorCode = "NOT_FOUND"
	ErrCodeTimeout            ErrorCode = "TIMEOUT"
	ErrCodeServiceUnavailable ErrorCode = "SERVICE_UNAVAILABLE"

	// Extraction errors
	ErrCodeParse             ErrorCode = "PARSE_ERROR"
	ErrCodeUnsupportedFormat ErrorCode = "UNSUPPORTED_FORMAT"

	// Validation errors
	ErrCodeValidationFailed ErrorCode = "VALIDATION_FAILED"
	ErrCodeAmountCeiling    ErrorCode = "AMOUNT_CEILING_EXCEEDED"

	// Locking errors
	ErrCodeLockTimeout ErrorCode = "LOCK_TIMEOUT"
	ErrCodeLockHeld    ErrorCode = "LOCK_HELD"

	// Store errors
	ErrCodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"
	ErrCodeStoreCorrupt     ErrorCode = "STORE_CORRUPT"

	// External provider errors
	ErrCodeProvider    ErrorCode = "PROVIDER_ERROR"
	ErrCodeRateLimited ErrorCode = "RATE_LIMITED"

	// Business errors
	ErrCodeSubscriptionBlocked ErrorCode = "SUBSCRIPTION_BLOCKED"
	ErrCodeBatchConsumed       ErrorCode = "BATCH_CONSUMED"
)

// AppError represents a structured engine error
type AppError struct {
	Code    ErrorCode              `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Cause   error                  `json:"-"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithCause sets the underlying cause
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// NewAppError creates a new engine error
func NewAppError(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// NewAppErrorWithDetails creates a new engine error with details
func NewAppErrorWithDetails(code ErrorCode, message, details string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Details: details,
	}
}

// WrapError wraps an existing error with engine error context
func WrapError(err error, code ErrorCode, message string) *AppError {
	if err == nil {
		return nil
	}

	// Preserve an existing AppError as the cause chain
	return &AppError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// IsCode reports whether err carries the given error code anywhere in its chain
func IsCode(err error, code ErrorCode) bool {
	var appErr *AppError
	for errors.As(err, &appErr) {
		if appErr.Code == code {
			return true
		}
		if appErr.Cause == nil {
			return false
		}
		err = appErr.Cause
	}
	return false
}

// CodeOf extracts the outermost error code, or ErrCodeInternal for plain errors
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

// IsRetryable reports whether an error code indicates a transient condition
func IsRetryable(err error) bool {
	switch CodeOf(err) {
	case ErrCodeTimeout, ErrCodeServiceUnavailable, ErrCodeLockHeld, ErrCodeRateLimited:
		return true
	default:
		return false
	}
}

package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error identifier
type ErrorCode string

const (
	// Identity & validation
	ErrCodeInvalidIdentity ErrorCode = "INVALID_IDENTITY"
	ErrCodeInvalidAmount   ErrorCode = "INVALID_AMOUNT"
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeMissingRequired ErrorCode = "MISSING_REQUIRED"

	// Business rules
	ErrCodeQuoteFinalized ErrorCode = "QUOTE_FINALIZED"

	// Resource
	ErrCodeNotFound      ErrorCode = "NOT_FOUND"
	ErrCodeCorruptRecord ErrorCode = "CORRUPT_RECORD"

	// Concurrency & store
	ErrCodeConcurrentUpdate ErrorCode = "CONCURRENT_UPDATE_CONFLICT"
	ErrCodeStoreTimeout     ErrorCode = "STORE_TIMEOUT"

	// Rate limiting
	ErrCodeRateLimitExceeded ErrorCode = "RATE_LIMIT_EXCEEDED"

	// Internal
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
	ErrCodeExternal ErrorCode = "EXTERNAL_SERVICE_ERROR"
)

// AppError is a structured error that can be returned to clients
type AppError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
	cause   error
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.cause
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(err error) *AppError {
	e.cause = err
	return e
}

// WithDetails adds details to the error
func (e *AppError) WithDetails(details any) *AppError {
	e.Details = details
	return e
}

// New creates a new AppError
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an existing error with an AppError
func Wrap(code ErrorCode, message string, cause error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		cause:   cause,
	}
}

// Common error constructors

func InvalidIdentity(reason string) *AppError {
	return New(ErrCodeInvalidIdentity, fmt.Sprintf("Invalid identity hint: %s", reason))
}

func InvalidAmount(reason string) *AppError {
	return New(ErrCodeInvalidAmount, fmt.Sprintf("Invalid amount: %s", reason))
}

func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

func MissingRequired(field string) *AppError {
	return New(ErrCodeMissingRequired, fmt.Sprintf("%s is required", field))
}

func QuoteFinalized(sessionID string) *AppError {
	return New(ErrCodeQuoteFinalized, "Quote is finalized and can no longer be modified").
		WithDetails(map[string]string{"sessionId": sessionID})
}

func NotFound(resource string) *AppError {
	return New(ErrCodeNotFound, fmt.Sprintf("%s not found", resource))
}

func CorruptRecord(sessionID string, cause error) *AppError {
	return Wrap(ErrCodeCorruptRecord, fmt.Sprintf("Session record %s is corrupt", sessionID), cause)
}

func ConcurrentUpdate(sessionID string) *AppError {
	return New(ErrCodeConcurrentUpdate, "Session was modified concurrently; update lost the race").
		WithDetails(map[string]string{"sessionId": sessionID})
}

func StoreTimeout(op string, cause error) *AppError {
	return Wrap(ErrCodeStoreTimeout, fmt.Sprintf("Store operation timed out: %s", op), cause)
}

func RateLimitExceeded() *AppError {
	return New(ErrCodeRateLimitExceeded, "Rate limit exceeded")
}

func Internal(message string) *AppError {
	return New(ErrCodeInternal, message)
}

func External(service string, cause error) *AppError {
	return Wrap(ErrCodeExternal, fmt.Sprintf("External service error: %s", service), cause)
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// GetCode returns the error code if the error is an AppError, otherwise returns ErrCodeInternal
func GetCode(err error) ErrorCode {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Code
	}
	return ErrCodeInternal
}

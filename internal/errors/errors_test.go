package errors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError(t *testing.T) {
	t.Run("Error returns formatted string", func(t *testing.T) {
		err := New(ErrCodeNotFound, "Session not found")
		assert.Equal(t, "NOT_FOUND: Session not found", err.Error())
	})

	t.Run("Error with cause includes cause", func(t *testing.T) {
		cause := errors.New("unexpected end of JSON input")
		err := CorruptRecord("sess-1", cause)
		assert.Contains(t, err.Error(), "CORRUPT_RECORD")
		assert.Contains(t, err.Error(), "sess-1")
		assert.Contains(t, err.Error(), "unexpected end of JSON input")
	})

	t.Run("WithCause adds cause to error", func(t *testing.T) {
		cause := errors.New("original error")
		err := New(ErrCodeInternal, "Something went wrong").WithCause(cause)
		assert.Equal(t, cause, err.Unwrap())
	})

	t.Run("WithDetails adds details to error", func(t *testing.T) {
		details := map[string]string{"field": "amount", "reason": "not positive"}
		err := New(ErrCodeValidation, "Validation failed").WithDetails(details)
		assert.Equal(t, details, err.Details)
	})
}

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		name         string
		constructor  func() *AppError
		expectedCode ErrorCode
	}{
		{"InvalidIdentity", func() *AppError { return InvalidIdentity("no external id or source key") }, ErrCodeInvalidIdentity},
		{"InvalidAmount", func() *AppError { return InvalidAmount("must be positive") }, ErrCodeInvalidAmount},
		{"ValidationError", func() *AppError { return ValidationError("test") }, ErrCodeValidation},
		{"MissingRequired", func() *AppError { return MissingRequired("patch") }, ErrCodeMissingRequired},
		{"QuoteFinalized", func() *AppError { return QuoteFinalized("sess-1") }, ErrCodeQuoteFinalized},
		{"NotFound", func() *AppError { return NotFound("Session") }, ErrCodeNotFound},
		{"ConcurrentUpdate", func() *AppError { return ConcurrentUpdate("sess-1") }, ErrCodeConcurrentUpdate},
		{"RateLimitExceeded", func() *AppError { return RateLimitExceeded() }, ErrCodeRateLimitExceeded},
		{"Internal", func() *AppError { return Internal("test") }, ErrCodeInternal},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.constructor()
			assert.Equal(t, tc.expectedCode, err.Code)
			assert.NotEmpty(t, err.Message)
		})
	}
}

func TestStoreTimeout(t *testing.T) {
	t.Run("wraps the timeout cause", func(t *testing.T) {
		cause := errors.New("context deadline exceeded")
		err := StoreTimeout("commit", cause)
		assert.Equal(t, ErrCodeStoreTimeout, err.Code)
		assert.Contains(t, err.Message, "commit")
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestExternal(t *testing.T) {
	t.Run("wraps external service error", func(t *testing.T) {
		cause := errors.New("timeout")
		err := External("transcription", cause)
		assert.Equal(t, ErrCodeExternal, err.Code)
		assert.Contains(t, err.Message, "transcription")
		assert.Equal(t, cause, err.Unwrap())
	})
}

func TestAsAppError(t *testing.T) {
	t.Run("extracts AppError", func(t *testing.T) {
		original := NotFound("Session")
		extracted, ok := AsAppError(original)
		assert.True(t, ok)
		assert.Equal(t, original, extracted)
	})

	t.Run("returns false for non-AppError", func(t *testing.T) {
		err := errors.New("standard error")
		extracted, ok := AsAppError(err)
		assert.False(t, ok)
		assert.Nil(t, extracted)
	})
}

func TestGetCode(t *testing.T) {
	t.Run("returns code for AppError", func(t *testing.T) {
		err := QuoteFinalized("sess-1")
		assert.Equal(t, ErrCodeQuoteFinalized, GetCode(err))
	})

	t.Run("returns ErrCodeInternal for standard error", func(t *testing.T) {
		err := errors.New("standard error")
		assert.Equal(t, ErrCodeInternal, GetCode(err))
	})
}

package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAppError_Error(t *testing.T) {
	tests := []struct {
		name     string
		appErr   *AppError
		expected string
	}{
		{
			name:     "without wrapped error",
			appErr:   New("ORD_001", "Invalid state", http.StatusBadRequest),
			expected: "[ORD_001] Invalid state",
		},
		{
			name:     "with wrapped error",
			appErr:   Wrap("SYS_001", "DB error", http.StatusInternalServerError, fmt.Errorf("connection refused")),
			expected: "[SYS_001] DB error: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.appErr.Error())
		})
	}
}

func TestAppError_Unwrap(t *testing.T) {
	inner := fmt.Errorf("inner error")
	appErr := Wrap("SYS_001", "wrapped", http.StatusInternalServerError, inner)

	assert.True(t, errors.Is(appErr, inner))
}

func TestAppError_IsNilUnwrap(t *testing.T) {
	appErr := New("ORD_001", "test", http.StatusBadRequest)
	assert.Nil(t, appErr.Unwrap())
}

func TestAuthErrors(t *testing.T) {
	tests := []struct {
		name       string
		err        *AppError
		code       string
		httpStatus int
	}{
		{"MissingAuth", ErrMissingAuth(), "AUTH_001", 401},
		{"MalformedAssertion", ErrMalformedAssertion("bad base64"), "AUTH_002", 401},
		{"UnsupportedKind", ErrUnsupportedKind(1), "AUTH_003", 401},
		{"InvalidSignature", ErrInvalidSignature(), "AUTH_004", 401},
		{"TimestampOutOfWindow", ErrTimestampOutOfWindow(301), "AUTH_005", 401},
		{"MethodMismatch", ErrMethodMismatch("POST", "GET"), "AUTH_006", 401},
		{"MalformedLegacyCredential", ErrMalformedLegacyCredential("not hex"), "AUTH_007", 401},
		{"ReplayedAssertion", ErrReplayedAssertion(), "AUTH_008", 401},
		{"WeakCredentialRefused", ErrWeakCredentialRefused(), "AUTH_009", 403},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.httpStatus, tt.err.HTTPStatus)
		})
	}
}

func TestStateErrors(t *testing.T) {
	conflict := ErrStateConflict("pending", "accepted")
	assert.Equal(t, "ORD_001", conflict.Code)
	assert.Equal(t, 400, conflict.HTTPStatus)
	assert.Contains(t, conflict.Message, "expected pending")
	assert.Contains(t, conflict.Message, "currently accepted")

	released := ErrAlreadyReleased()
	assert.Equal(t, "ORD_001", released.Code)

	denied := ErrPermissionDenied("not yours")
	assert.Equal(t, "ORD_002", denied.Code)
	assert.Equal(t, 403, denied.HTTPStatus)
}

func TestValidationAndResourceErrors(t *testing.T) {
	missing := ErrMissingFields("bill_reference", "btc_amount")
	assert.Equal(t, "VAL_001", missing.Code)
	assert.Equal(t, 400, missing.HTTPStatus)
	assert.Contains(t, missing.Message, "bill_reference")

	notFound := ErrNotFound("order")
	assert.Equal(t, "RES_001", notFound.Code)
	assert.Equal(t, 404, notFound.HTTPStatus)
	assert.Contains(t, notFound.Message, "order")
}

func TestRateLimitError(t *testing.T) {
	err := ErrRateLimitExceeded()
	assert.Equal(t, "RATE_001", err.Code)
	assert.Equal(t, 429, err.HTTPStatus)
}

func TestInternalError(t *testing.T) {
	inner := fmt.Errorf("pg: connection closed")
	err := InternalError(inner)
	assert.Equal(t, "SYS_001", err.Code)
	assert.Equal(t, 500, err.HTTPStatus)
	assert.True(t, errors.Is(err, inner))
	// The wrapped detail never reaches the client-facing message.
	assert.Equal(t, "Internal server error", err.Message)
}

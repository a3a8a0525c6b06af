package apperror

import (
	"fmt"
	"net/http"
)

// AppError is a structured error that maps to HTTP responses.
type AppError struct {
	Code       string `json:"error_code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"` // Wrapped internal error (not exposed to client)
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// New creates a new AppError.
func New(code string, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
	}
}

// Wrap wraps an internal error with an AppError.
func Wrap(code string, message string, httpStatus int, err error) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Err:        err,
	}
}

// ---- Request Authentication (AUTH) ----

func ErrMissingAuth() *AppError {
	return New("AUTH_001", "Authorization header missing", http.StatusUnauthorized)
}

func ErrMalformedAssertion(reason string) *AppError {
	return New("AUTH_002", fmt.Sprintf("Malformed auth event: %s", reason), http.StatusUnauthorized)
}

func ErrUnsupportedKind(kind int) *AppError {
	return New("AUTH_003", fmt.Sprintf("Invalid event kind %d (expected 27235 or 22242)", kind), http.StatusUnauthorized)
}

func ErrInvalidSignature() *AppError {
	return New("AUTH_004", "Invalid Nostr signature", http.StatusUnauthorized)
}

func ErrTimestampOutOfWindow(diff int64) *AppError {
	return New("AUTH_005", fmt.Sprintf("Auth event timestamp expired (diff: %ds)", diff), http.StatusUnauthorized)
}

func ErrMethodMismatch(got, want string) *AppError {
	return New("AUTH_006", fmt.Sprintf("Method mismatch: %s vs %s", got, want), http.StatusUnauthorized)
}

func ErrMalformedLegacyCredential(reason string) *AppError {
	return New("AUTH_007", reason, http.StatusUnauthorized)
}

func ErrReplayedAssertion() *AppError {
	return New("AUTH_008", "Auth event already used", http.StatusUnauthorized)
}

func ErrWeakCredentialRefused() *AppError {
	return New("AUTH_009", "Operation requires a fully signed auth event", http.StatusForbidden)
}

// ---- Validation (VAL) ----

func ErrMissingFields(fields ...string) *AppError {
	return New("VAL_001", fmt.Sprintf("Missing required fields: %v", fields), http.StatusBadRequest)
}

// Validation returns a generic VAL_001 validation error.
func Validation(message string) *AppError {
	return New("VAL_001", message, http.StatusBadRequest)
}

// ---- Resources (RES) ----

func ErrNotFound(entity string) *AppError {
	return New("RES_001", fmt.Sprintf("%s not found", entity), http.StatusNotFound)
}

// ---- Order / Escrow State (ORD) ----

// ErrStateConflict reports an illegal lifecycle transition. The actual
// status reflects the entity's committed state at decision time, so the
// loser of a concurrent transition sees what really happened.
func ErrStateConflict(expected, actual string) *AppError {
	return New("ORD_001", fmt.Sprintf("Invalid state: expected %s, currently %s", expected, actual), http.StatusBadRequest)
}

func ErrAlreadyReleased() *AppError {
	return New("ORD_001", "Escrow already released", http.StatusBadRequest)
}

func ErrPermissionDenied(reason string) *AppError {
	return New("ORD_002", reason, http.StatusForbidden)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

// InternalError wraps an internal error as a SYS_001 error. The wrapped
// detail is logged, never returned to the caller.
func InternalError(err error) *AppError {
	return Wrap("SYS_001", "Internal server error", http.StatusInternalServerError, err)
}

package apperror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
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

// ---- Configuration (CFG): fatal at startup for the affected feature ----

func ErrNoEncryptionKey() *AppError {
	return New("CFG_001", "Encryption key is not configured", http.StatusInternalServerError)
}

func ErrInvalidEncryptionKey(err error) *AppError {
	return Wrap("CFG_002", "Encryption key is malformed", http.StatusInternalServerError, err)
}

func ErrNoInternalAPIKey() *AppError {
	return New("CFG_003", "Internal API key is not configured", http.StatusInternalServerError)
}

// ---- Security & Integrity (SEC) ----

func ErrInvalidInternalKey() *AppError {
	return New("SEC_001", "Invalid internal API key", http.StatusUnauthorized)
}

// ---- Encryption Integrity (ENC): surfaced, never retried ----

func ErrCiphertextMalformed() *AppError {
	return New("ENC_001", "Stored secret is not a valid encrypted token", http.StatusInternalServerError)
}

func ErrCiphertextIntegrity(err error) *AppError {
	return Wrap("ENC_002", "Stored secret failed authentication (tampered or wrong key)", http.StatusInternalServerError, err)
}

// ---- Delivery (DLV): transient, retried with backoff ----

func ErrDeliveryFailed(detail string) *AppError {
	return New("DLV_001", detail, http.StatusBadGateway)
}

func ErrEndpointNotFound() *AppError {
	return New("DLV_002", "Delivery endpoint not found", http.StatusNotFound)
}

func ErrEndpointDisabled() *AppError {
	return New("DLV_003", "Delivery endpoint is disabled", http.StatusConflict)
}

func ErrInvalidEndpointURL(url string) *AppError {
	return New("DLV_004", fmt.Sprintf("Endpoint URL %q is not a well-formed HTTPS URL", url), http.StatusBadRequest)
}

func ErrUnknownEventType(eventType string) *AppError {
	return New("DLV_005", fmt.Sprintf("Unknown event type %q", eventType), http.StatusBadRequest)
}

// ---- Rate Limiting (RATE) ----

func ErrRateLimitExceeded() *AppError {
	return New("RATE_001", "Rate limit exceeded", http.StatusTooManyRequests)
}

// ---- System & Infrastructure (SYS) ----

func ErrStoreUnavailable(err error) *AppError {
	return Wrap("SYS_001", "Delivery store unavailable", http.StatusInternalServerError, err)
}

func ErrEncryptionFailure(err error) *AppError {
	return Wrap("SYS_002", "Encryption service failure", http.StatusInternalServerError, err)
}

// InternalError wraps an internal error as a SYS_000 error.
func InternalError(err error) *AppError {
	return Wrap("SYS_000", "Internal server error", http.StatusInternalServerError, err)
}

// ---- Taxonomy predicates ----

func hasCodePrefix(err error, prefix string) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return strings.HasPrefix(appErr.Code, prefix)
	}
	return false
}

// IsConfiguration reports whether err is a configuration error (missing or
// invalid key material).
func IsConfiguration(err error) bool {
	return hasCodePrefix(err, "CFG_")
}

// IsIntegrity reports whether err stems from tampered or undecryptable
// ciphertext. Integrity errors are surfaced, not retried.
func IsIntegrity(err error) bool {
	return hasCodePrefix(err, "ENC_")
}

// IsStoreUnavailable reports whether err indicates the shared store is
// unreachable.
func IsStoreUnavailable(err error) bool {
	return hasCodePrefix(err, "SYS_001")
}

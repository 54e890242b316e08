package errors

import (
	"fmt"
	"net/http"
	"runtime"
	"strings"
	"time"
)

// ErrorCode identifies an error class across process boundaries.
type ErrorCode string

const (
	// Generic
	ErrCodeInternal        ErrorCode = "INTERNAL_ERROR"
	ErrCodeValidation      ErrorCode = "VALIDATION_ERROR"
	ErrCodeNotFound        ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized    ErrorCode = "UNAUTHORIZED"
	ErrCodeForbidden       ErrorCode = "FORBIDDEN"
	ErrCodeBadRequest      ErrorCode = "BAD_REQUEST"
	ErrCodeTooManyRequests ErrorCode = "TOO_MANY_REQUESTS"

	// Commit-reveal protocol
	ErrCodeVerificationFailed ErrorCode = "VERIFICATION_FAILED"
	ErrCodeDecryptionFailed   ErrorCode = "DECRYPTION_FAILED"
	ErrCodeRevealTimeout      ErrorCode = "REVEAL_TIMEOUT"

	// Access proofs
	ErrCodeInvalidSignature        ErrorCode = "INVALID_SIGNATURE"
	ErrCodeStaleProof              ErrorCode = "STALE_PROOF"
	ErrCodeCollectionMismatch      ErrorCode = "COLLECTION_MISMATCH"
	ErrCodeCredentialNotOwned      ErrorCode = "CREDENTIAL_NOT_OWNED"
	ErrCodeInvalidCredentialAmount ErrorCode = "INVALID_CREDENTIAL_AMOUNT"
	ErrCodeAccessDenied            ErrorCode = "ACCESS_DENIED"

	// Ledger
	ErrCodeAccountNotFound     ErrorCode = "ACCOUNT_NOT_FOUND"
	ErrCodeInsufficientFunds   ErrorCode = "INSUFFICIENT_FUNDS"
	ErrCodeAlreadyRevealed     ErrorCode = "ALREADY_REVEALED"
	ErrCodeInvalidAmount       ErrorCode = "INVALID_AMOUNT"
	ErrCodeInvalidCiphertext   ErrorCode = "INVALID_CIPHERTEXT"
	ErrCodeInvalidDistribution ErrorCode = "INVALID_DISTRIBUTION"
	ErrCodeEscrowExpired       ErrorCode = "ESCROW_EXPIRED"
	ErrCodeEscrowNotExpired    ErrorCode = "ESCROW_NOT_EXPIRED"
	ErrCodeNoContributors      ErrorCode = "NO_CONTRIBUTORS"

	// External collaborators
	ErrCodeLedgerUnavailable ErrorCode = "LEDGER_UNAVAILABLE"
	ErrCodeGatewayError      ErrorCode = "GATEWAY_ERROR"
	ErrCodeCacheError        ErrorCode = "CACHE_ERROR"
)

// AppError is the typed error carried over HTTP.
type AppError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Context   map[string]string      `json:"context,omitempty"`
	Stack     []string               `json:"-"`
	Timestamp time.Time              `json:"timestamp"`
	RequestID string                 `json:"request_id,omitempty"`
	Cause     error                  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

func (e *AppError) IsNotFound() bool {
	return e.Code == ErrCodeNotFound || e.Code == ErrCodeAccountNotFound
}

func (e *AppError) IsUnauthorized() bool {
	return e.Code == ErrCodeUnauthorized || e.Code == ErrCodeForbidden || e.Code == ErrCodeAccessDenied
}

// StatusCode maps the error code to an HTTP status.
func (e *AppError) StatusCode() int {
	switch e.Code {
	case ErrCodeValidation, ErrCodeBadRequest, ErrCodeInvalidAmount, ErrCodeInvalidCiphertext,
		ErrCodeInvalidDistribution, ErrCodeNoContributors:
		return http.StatusBadRequest
	case ErrCodeNotFound, ErrCodeAccountNotFound:
		return http.StatusNotFound
	case ErrCodeUnauthorized, ErrCodeInvalidSignature, ErrCodeStaleProof:
		return http.StatusUnauthorized
	case ErrCodeForbidden, ErrCodeAccessDenied, ErrCodeCollectionMismatch, ErrCodeCredentialNotOwned,
		ErrCodeInvalidCredentialAmount:
		return http.StatusForbidden
	case ErrCodeAlreadyRevealed, ErrCodeEscrowNotExpired:
		return http.StatusConflict
	case ErrCodeInsufficientFunds:
		return http.StatusPaymentRequired
	case ErrCodeEscrowExpired:
		return http.StatusGone
	case ErrCodeTooManyRequests:
		return http.StatusTooManyRequests
	case ErrCodeVerificationFailed, ErrCodeDecryptionFailed:
		return http.StatusUnprocessableEntity
	case ErrCodeRevealTimeout:
		return http.StatusGatewayTimeout
	case ErrCodeLedgerUnavailable, ErrCodeGatewayError:
		return http.StatusBadGateway
	case ErrCodeCacheError:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (e *AppError) WithContext(key, value string) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

func (e *AppError) WithDetail(key string, value interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func (e *AppError) WithRequestID(requestID string) *AppError {
	e.RequestID = requestID
	return e
}

func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Stack:     getStackTrace(),
	}
}

func Wrap(err error, code ErrorCode, message string) *AppError {
	appErr := New(code, message)
	appErr.Cause = err
	return appErr
}

func Wrapf(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return Wrap(err, code, fmt.Sprintf(format, args...))
}

func getStackTrace() []string {
	var stack []string
	for i := 2; ; i++ {
		pc, file, line, ok := runtime.Caller(i)
		if !ok {
			break
		}
		fn := runtime.FuncForPC(pc)
		if fn == nil {
			continue
		}
		// skip frames inside this package
		if strings.Contains(fn.Name(), "internal/common/errors") {
			continue
		}
		stack = append(stack, fmt.Sprintf("%s:%d %s", file, line, fn.Name()))
		if len(stack) >= 10 {
			break
		}
	}
	return stack
}

func NewValidationError(field, reason string) *AppError {
	return New(ErrCodeValidation, fmt.Sprintf("Validation failed for field '%s': %s", field, reason)).
		WithDetail("field", field).
		WithDetail("reason", reason)
}

func NewUnauthorizedError(reason string) *AppError {
	return New(ErrCodeUnauthorized, fmt.Sprintf("Unauthorized: %s", reason)).
		WithDetail("reason", reason)
}

// NewAccessDeniedError hides which proof check failed from the client.
func NewAccessDeniedError() *AppError {
	return New(ErrCodeAccessDenied, "Access denied")
}

func NewLedgerError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeLedgerUnavailable, fmt.Sprintf("Ledger operation failed: %s", operation)).
		WithDetail("operation", operation)
}

func NewGatewayError(operation string, err error) *AppError {
	return Wrap(err, ErrCodeGatewayError, fmt.Sprintf("Gateway operation failed: %s", operation)).
		WithDetail("operation", operation)
}

func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if err != nil {
		appErr, _ = err.(*AppError)
	}
	return appErr, appErr != nil
}

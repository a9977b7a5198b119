package errors

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorType groups errors by how callers should react to them.
type ErrorType string

const (
	ErrorTypeValidation        ErrorType = "validation"
	ErrorTypeAuthentication    ErrorType = "authentication"
	ErrorTypeAuthorization     ErrorType = "authorization"
	ErrorTypeNotFound          ErrorType = "not_found"
	ErrorTypeNotTransitionable ErrorType = "not_transitionable"
	ErrorTypeConflict          ErrorType = "conflict"
	ErrorTypeRateLimit         ErrorType = "rate_limit"
	ErrorTypeInternal          ErrorType = "internal"
	ErrorTypeTimeout           ErrorType = "timeout"
	ErrorTypeDatabase          ErrorType = "database"
	ErrorTypeCache             ErrorType = "cache"
)

const (
	CodeNotTransitionable = "MATCH_NOT_TRANSITIONABLE"
	CodePromotionConflict = "PROMOTION_CONFLICT"
)

// Sentinels usable with errors.Is; matching compares type and code only.
var (
	ErrNotTransitionable = &AppError{Type: ErrorTypeNotTransitionable, Code: CodeNotTransitionable}
	ErrPromotionConflict = &AppError{Type: ErrorTypeConflict, Code: CodePromotionConflict}
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation:        http.StatusBadRequest,
	ErrorTypeAuthentication:    http.StatusUnauthorized,
	ErrorTypeAuthorization:     http.StatusForbidden,
	ErrorTypeNotFound:          http.StatusNotFound,
	ErrorTypeNotTransitionable: http.StatusConflict,
	ErrorTypeConflict:          http.StatusConflict,
	ErrorTypeRateLimit:         http.StatusTooManyRequests,
	ErrorTypeTimeout:           http.StatusRequestTimeout,
}

func defaultStatus(errorType ErrorType) int {
	if status, ok := statusByType[errorType]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// AppError is the structured error passed between services and rendered by
// the HTTP error middleware.
type AppError struct {
	Type          ErrorType              `json:"type"`
	Code          string                 `json:"code"`
	Message       string                 `json:"message"`
	Details       string                 `json:"details,omitempty"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
	Retryable     bool                   `json:"retryable,omitempty"`
	Cause         error                  `json:"-"`
	HTTPStatus    int                    `json:"-"`
}

func (e *AppError) Error() string {
	msg := e.Code + ": " + e.Message
	if e.Details != "" {
		msg += " - " + e.Details
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Cause }

// Is reports whether target is an AppError of the same type and code.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	return ok && e.Type == t.Type && e.Code == t.Code
}

// NewAppError builds an error with the HTTP status that belongs to its type.
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:       errorType,
		Code:       code,
		Message:    message,
		Timestamp:  time.Now().UTC(),
		HTTPStatus: defaultStatus(errorType),
	}
}

// NewAppErrorWithCause is NewAppError plus a wrapped cause whose text becomes
// the details.
func NewAppErrorWithCause(errorType ErrorType, code, message string, cause error) *AppError {
	err := NewAppError(errorType, code, message)
	if cause != nil {
		err.Cause = cause
		err.Details = cause.Error()
	}
	return err
}

func (e *AppError) WithCorrelationID(correlationID string) *AppError {
	e.CorrelationID = correlationID
	return e
}

func (e *AppError) WithDetails(details string) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithMetadata(key string, value interface{}) *AppError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

func NewValidationError(field, message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message).WithMetadata("field", field)
}

func NewAuthenticationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthentication, "AUTH_ERROR", message)
}

func NewAuthorizationError(message string) *AppError {
	return NewAppError(ErrorTypeAuthorization, "AUTHZ_ERROR", message)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrorTypeNotFound, "NOT_FOUND", resource+" not found").WithMetadata("resource", resource)
}

// NewNotTransitionableError reports a lifecycle operation that cannot be applied to a match,
// either because the match is unknown or because its current status forbids it.
func NewNotTransitionableError(matchID, status, operation string) *AppError {
	subject := "match " + matchID
	if status != "" {
		subject += " in status " + status
	}
	return NewAppError(ErrorTypeNotTransitionable, CodeNotTransitionable,
		fmt.Sprintf("%s cannot be transitioned by %s", subject, operation)).
		WithMetadata("match_id", matchID).
		WithMetadata("status", status).
		WithMetadata("operation", operation)
}

// NewPromotionConflictError reports a lost optimistic or serialization race on a pair.
// Callers may retry the operation.
func NewPromotionConflictError(pairKey string, cause error) *AppError {
	err := NewAppErrorWithCause(ErrorTypeConflict, CodePromotionConflict,
		"Concurrent update on match pair, retry the operation", cause).
		WithMetadata("pair_key", pairKey)
	err.Retryable = true
	return err
}

func NewRateLimitError(limit int, window string) *AppError {
	return NewAppError(ErrorTypeRateLimit, "RATE_LIMIT_EXCEEDED", "Rate limit exceeded").
		WithMetadata("limit", limit).
		WithMetadata("window", window)
}

func NewInternalError(message string, cause error) *AppError {
	return NewAppErrorWithCause(ErrorTypeInternal, "INTERNAL_ERROR", message, cause)
}

// operationError tags a failed backend call with the operation name.
func operationError(errorType ErrorType, code, backend, operation string, cause error) *AppError {
	return NewAppErrorWithCause(errorType, code,
		fmt.Sprintf("%s operation failed: %s", backend, operation), cause).
		WithMetadata("operation", operation)
}

func NewDatabaseError(operation string, cause error) *AppError {
	return operationError(ErrorTypeDatabase, "DATABASE_ERROR", "Database", operation, cause)
}

func NewCacheError(operation string, cause error) *AppError {
	return operationError(ErrorTypeCache, "CACHE_ERROR", "Cache", operation, cause)
}

func NewTimeoutError(operation string, timeout time.Duration) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", "Operation timed out: "+operation).
		WithMetadata("operation", operation).
		WithMetadata("timeout", timeout.String())
}

// AsAppError unwraps err until it finds an AppError.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsErrorType reports whether err wraps an AppError of errorType.
func IsErrorType(err error, errorType ErrorType) bool {
	t, ok := GetErrorType(err)
	return ok && t == errorType
}

// IsRetryable reports whether the operation that produced err may be retried.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable
}

func GetErrorType(err error) (ErrorType, bool) {
	if appErr, ok := AsAppError(err); ok {
		return appErr.Type, true
	}
	return "", false
}

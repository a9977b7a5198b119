package middleware

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"github.com/meetsmatch/roommates/internal/errors"
	"github.com/meetsmatch/roommates/internal/telemetry"
)

// ErrorBody is the JSON envelope of every error response.
type ErrorBody struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail is the client-visible part of an AppError.
type ErrorDetail struct {
	Type          errors.ErrorType       `json:"type"`
	Code          string                 `json:"code"`
	Message       string                 `json:"message"`
	CorrelationID string                 `json:"correlation_id,omitempty"`
	Retryable     bool                   `json:"retryable,omitempty"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// ErrorHandler renders the last error attached to the gin context and turns
// panics into internal errors. Handlers report failures with c.Error(err).
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				ctx := c.Request.Context()
				telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
					"operation":   "error_handler_panic",
					"panic_value": fmt.Sprintf("%v", r),
					"stack_trace": string(debug.Stack()),
					"path":        c.Request.URL.Path,
				}).Error("Panic recovered in HTTP handler")

				writeError(c, errors.NewInternalError(fmt.Sprintf("panic in handler: %v", r), nil))
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		writeError(c, c.Errors.Last().Err)
	}
}

// ToAppError converts any error into an AppError. Context cancellation maps
// to a timeout, everything unknown to an internal error.
func ToAppError(err error) *errors.AppError {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr
	}
	switch {
	case stderrors.Is(err, context.DeadlineExceeded), stderrors.Is(err, context.Canceled):
		return errors.NewAppErrorWithCause(errors.ErrorTypeTimeout, "TIMEOUT", "Request was cancelled or timed out", err)
	default:
		return errors.NewInternalError("An unexpected error occurred", err)
	}
}

func writeError(c *gin.Context, err error) {
	ctx := c.Request.Context()
	appErr := ToAppError(err)
	if appErr.CorrelationID == "" {
		appErr = appErr.WithCorrelationID(telemetry.GetCorrelationID(ctx))
	}
	logError(ctx, appErr)

	status := appErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}

	detail := ErrorDetail{
		Type:          appErr.Type,
		Code:          appErr.Code,
		Message:       appErr.Message,
		CorrelationID: appErr.CorrelationID,
		Retryable:     appErr.Retryable,
	}
	if status < http.StatusInternalServerError {
		detail.Metadata = appErr.Metadata
	}
	c.AbortWithStatusJSON(status, ErrorBody{Error: detail})
}

// logError logs with a level that follows the error type.
func logError(ctx context.Context, appErr *errors.AppError) {
	logger := telemetry.GetContextualLogger(ctx).WithFields(map[string]interface{}{
		"operation":  "error_handler_log",
		"error_type": string(appErr.Type),
		"error_code": appErr.Code,
	})
	for k, v := range appErr.Metadata {
		logger = logger.WithField(k, v)
	}
	if appErr.Cause != nil {
		logger = logger.WithField("cause", appErr.Cause.Error())
	}

	switch appErr.Type {
	case errors.ErrorTypeValidation, errors.ErrorTypeAuthentication, errors.ErrorTypeAuthorization, errors.ErrorTypeRateLimit:
		logger.Warn(appErr.Message)
	case errors.ErrorTypeNotFound, errors.ErrorTypeConflict, errors.ErrorTypeNotTransitionable:
		logger.Info(appErr.Message)
	default:
		logger.ErrorWithStack(appErr)
	}
}

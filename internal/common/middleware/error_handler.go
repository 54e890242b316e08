package middleware

import (
	"fmt"
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"cid-escrow-backend/internal/common/errors"
)

const requestIDKey = "request_id"

// ErrorHandler recovers panics into INTERNAL_ERROR responses.
func ErrorHandler(log zerolog.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		log.Error().
			Str("request_id", GetRequestID(c)).
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Interface("panic", recovered).
			Str("stack", string(debug.Stack())).
			Msg("Panic recovered")

		appErr := errors.New(errors.ErrCodeInternal, "Internal server error").
			WithDetail("panic", fmt.Sprintf("%v", recovered))
		Abort(c, appErr, log)
	})
}

// RequestID propagates X-Request-ID or assigns a new one.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.New().String()
		}

		c.Set(requestIDKey, requestID)
		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

// ErrorResponse is the JSON envelope of every error reply.
type ErrorResponse struct {
	Success   bool             `json:"success"`
	Error     *errors.AppError `json:"error"`
	Timestamp time.Time        `json:"timestamp"`
	RequestID string           `json:"request_id"`
	Path      string           `json:"path,omitempty"`
	Method    string           `json:"method,omitempty"`
}

// Abort logs appErr and writes it as the response.
func Abort(c *gin.Context, appErr *errors.AppError, log zerolog.Logger) {
	requestID := GetRequestID(c)
	appErr.WithRequestID(requestID).
		WithContext("path", c.Request.URL.Path).
		WithContext("method", c.Request.Method)

	logError(appErr, log, c)

	c.AbortWithStatusJSON(appErr.StatusCode(), ErrorResponse{
		Success:   false,
		Error:     appErr,
		Timestamp: time.Now(),
		RequestID: requestID,
		Path:      c.Request.URL.Path,
		Method:    c.Request.Method,
	})
}

// HandleErrors turns the last c.Error into an error response.
func HandleErrors(log zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		appErr, ok := errors.AsAppError(err)
		if !ok {
			appErr = errors.Wrap(err, errors.ErrCodeInternal, "Handler error occurred")
		}
		Abort(c, appErr, log)
	}
}

func logError(appErr *errors.AppError, log zerolog.Logger, c *gin.Context) {
	var ev *zerolog.Event
	switch {
	case appErr.StatusCode() >= 500:
		ev = log.Error()
	case appErr.IsUnauthorized():
		ev = log.Warn()
	default:
		ev = log.Info()
	}
	ev = ev.
		Str("request_id", GetRequestID(c)).
		Str("method", c.Request.Method).
		Str("path", c.Request.URL.Path).
		Str("error_code", string(appErr.Code)).
		Str("error_message", appErr.Message)
	if len(appErr.Details) > 0 {
		ev = ev.Interface("details", appErr.Details)
	}
	if appErr.Cause != nil {
		ev = ev.Err(appErr.Cause)
	}
	ev.Msg("Request failed")
}

func GetRequestID(c *gin.Context) string {
	if requestID, exists := c.Get(requestIDKey); exists {
		if id, ok := requestID.(string); ok {
			return id
		}
	}
	return "unknown"
}

package middleware

import (
	"net/http"

	"tempvoice/pkg/errors"
	"tempvoice/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

// RequestIDMiddleware propagates or assigns a request id and stores it for logging.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Header(requestIDHeader, id)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), id))
		c.Next()
	}
}

func abortWithError(c *gin.Context, err *errors.AppError) {
	c.Error(err)
	c.Abort()
}

// ErrorHandlerMiddleware renders the last error attached by a handler. AppErrors keep
// their status; anything else is a 500.
func ErrorHandlerMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		err := c.Errors.Last().Err
		log := logger.FromContext(c.Request.Context(), base).With(
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)

		appErr := errors.GetAppError(err)
		if appErr == nil {
			log.Errorw("unhandled error", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{
				"error":      string(errors.ErrCodeInternal),
				"message":    "internal server error",
				"request_id": logger.RequestID(c.Request.Context()),
			})
			return
		}

		if appErr.HTTPStatus >= http.StatusInternalServerError {
			log.Errorw("request failed", "code", appErr.Code, "error", appErr)
		} else {
			log.Debugw("request rejected", "code", appErr.Code, "message", appErr.Message)
		}

		body := gin.H{
			"error":      string(appErr.Code),
			"message":    appErr.Message,
			"request_id": logger.RequestID(c.Request.Context()),
		}
		if len(appErr.Context) > 0 {
			body["details"] = appErr.Context
		}
		c.JSON(appErr.HTTPStatus, body)
	}
}

// RecoveryMiddleware turns a panic into a 500 and keeps the server alive.
func RecoveryMiddleware(base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				logger.FromContext(c.Request.Context(), base).Errorw("panic recovered",
					"panic", r,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(errors.ErrCodeInternal),
					"message": "internal server error",
				})
			}
		}()
		c.Next()
	}
}

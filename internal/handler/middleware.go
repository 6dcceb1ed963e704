package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/hpn/hpn-g-adapter/internal/ui"
)

// Context keys set by handlers and read by LoggingMiddleware.
const (
	ctxRequestID = "request_id"
	ctxProvider  = "provider"
	ctxErrorKind = "error_kind"

	// HeaderRequestID carries the request id in both directions.
	HeaderRequestID = "X-Request-ID"
)

// CORSMiddleware returns a middleware that enables permissive CORS.
// This allows web applications to call the API directly.
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With, X-Request-ID")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		c.Header("Access-Control-Expose-Headers", "X-Request-ID, X-Provider-ID")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// RequestIDMiddleware tags every request with an id, reusing the caller's
// X-Request-ID when present.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(HeaderRequestID)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(ctxRequestID, id)
		c.Header(HeaderRequestID, id)
		c.Next()
	}
}

// LoggingMiddleware returns a middleware that logs request details in JSON format.
// It records the provider that served the request and the error kind on failure.
// When console is set it also prints a colored request line.
func LoggingMiddleware(logger *slog.Logger, console bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		provider := c.GetString(ctxProvider)
		status := c.Writer.Status()

		attrs := []any{
			slog.String("request_id", c.GetString(ctxRequestID)),
			slog.String("method", c.Request.Method),
			slog.String("path", path),
			slog.Int("status", status),
			slog.Duration("latency", latency),
			slog.String("client_ip", c.ClientIP()),
			slog.String("provider", provider),
			slog.String("user_agent", c.Request.UserAgent()),
		}
		if kind := c.GetString(ctxErrorKind); kind != "" {
			attrs = append(attrs, slog.String("error_kind", kind))
		}

		if status >= http.StatusInternalServerError {
			logger.Warn("request completed", attrs...)
		} else {
			logger.Info("request completed", attrs...)
		}

		if console {
			ui.PrintRequest(c.Request.Method, path, status, latency, provider)
		}
	}
}

// RecoveryMiddleware returns a middleware that recovers from panics.
// It logs the error and returns a 500 response in OpenAI-compatible format.
func RecoveryMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("panic recovered",
					slog.Any("error", err),
					slog.String("path", c.Request.URL.Path),
					slog.String("request_id", c.GetString(ctxRequestID)),
				)

				code := "internal_error"
				c.AbortWithStatusJSON(http.StatusInternalServerError, ErrorResponse{
					Error: ErrorDetail{
						Message: "Internal server error",
						Type:    "server_error",
						Code:    &code,
					},
				})
			}
		}()

		c.Next()
	}
}

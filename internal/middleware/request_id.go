package middleware

import (
	"time"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	// HeaderRequestID é o header HTTP para request ID
	HeaderRequestID = "X-Request-ID"
	// HeaderTraceID é o header HTTP para trace ID (distributed tracing)
	HeaderTraceID = "X-Trace-ID"

	maxIncomingIDLength = 64
)

// RequestID adiciona request_id e trace_id a cada requisição e registra início e fim
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// IDs vindos do cliente são aceitos apenas se forem curtos e seguros
		requestID := incomingID(c.GetHeader(HeaderRequestID))
		if requestID == "" {
			requestID = uuid.New().String()[:8]
		}
		traceID := incomingID(c.GetHeader(HeaderTraceID))
		if traceID == "" {
			traceID = uuid.New().String()
		}

		ctx := logger.WithRequestID(c.Request.Context(), requestID)
		ctx = logger.WithTraceID(ctx, traceID)
		c.Request = c.Request.WithContext(ctx)
		c.Header(HeaderRequestID, requestID)
		c.Header(HeaderTraceID, traceID)

		log := logger.Get(ctx)
		log.Debug().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Str("client_ip", c.ClientIP()).
			Str("user_agent", c.Request.UserAgent()).
			Int64("content_length", c.Request.ContentLength).
			Msg("Request started")

		c.Next()

		duration := time.Since(start)
		statusCode := c.Writer.Status()

		logEvent := log.Info()
		if statusCode >= 400 {
			logEvent = log.Warn()
		}
		if statusCode >= 500 {
			logEvent = log.Error()
		}

		logEvent.
			Str("method", c.Request.Method).
			Str("route", c.FullPath()).
			Str("user_id", c.GetString(ContextUserID)).
			Int("status", statusCode).
			Int("size", c.Writer.Size()).
			Float64("latency_ms", float64(duration.Microseconds())/1000).
			Msg("Request completed")
	}
}

func incomingID(raw string) string {
	if len(raw) > maxIncomingIDLength || !ValidateID(raw) {
		return ""
	}
	return raw
}

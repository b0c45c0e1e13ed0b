package middleware

import (
	"net/http"
	"strings"
	"time"

	"github.com/cleberrangel/quotation-api/internal/logger"
	"github.com/cleberrangel/quotation-api/internal/metrics"
	"github.com/gin-gonic/gin"
)

// MetricsMiddleware tracks request metrics
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		// Process request
		c.Next()

		// Rotas não registradas viram um único rótulo para não explodir a cardinalidade
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, c.Writer.Status(), time.Since(start))
	}
}

// AuditMiddleware logs audit events for sensitive operations
func AuditMiddleware() gin.HandlerFunc {
	// Paths that should be audited
	auditPaths := []string{
		"/api/v1/quotations",
		"/api/auth/register",
		"/api/auth/login",
		"/api/auth/logout",
	}

	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		shouldAudit := false
		for _, auditPath := range auditPaths {
			if strings.HasPrefix(path, auditPath) {
				shouldAudit = true
				break
			}
		}

		c.Next()

		// Only audit if path matches and it's a state-changing operation
		switch c.Request.Method {
		case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		default:
			return
		}
		if !shouldAudit {
			return
		}

		logger.AuditRequest(
			c.Request.Context(),
			c.Request.Method,
			path,
			c.Writer.Status(),
			time.Since(start).Milliseconds(),
			c.GetString(ContextUserID),
			c.ClientIP(),
		)
	}
}

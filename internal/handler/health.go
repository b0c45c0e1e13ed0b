package handler

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/cleberrangel/quotation-api/internal/database"
	"github.com/cleberrangel/quotation-api/internal/metrics"
	"github.com/gin-gonic/gin"
)

// QueueStats expõe a ocupação da fila do dispatcher
type QueueStats interface {
	QueueDepth() int
	Capacity() int
}

// ConnectionCounter expõe o número de conexões WebSocket
type ConnectionCounter interface {
	GetConnectionCount() int
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	db        *sql.DB
	queue     QueueStats
	wsHub     ConnectionCounter
	version   string
	startTime time.Time
}

// NewHealthHandler creates a new health handler. queue and wsHub may be nil.
func NewHealthHandler(db *sql.DB, queue QueueStats, wsHub ConnectionCounter, version string) *HealthHandler {
	return &HealthHandler{
		db:        db,
		queue:     queue,
		wsHub:     wsHub,
		version:   version,
		startTime: time.Now(),
	}
}

// LivenessCheck returns basic liveness status
func (h *HealthHandler) LivenessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
	})
}

// ReadinessCheck returns readiness status including dependencies
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	components := make(map[string]metrics.HealthStatus)

	components["database"] = metrics.CheckDatabaseHealth(c.Request.Context(), h.db)
	if h.queue != nil {
		components["dispatcher_queue"] = metrics.CheckQueueHealth(h.queue.QueueDepth(), h.queue.Capacity())
	}
	components["memory"] = metrics.CheckMemoryHealth(512)

	overallStatus := metrics.DetermineOverallStatus(components)

	healthCheck := metrics.HealthCheck{
		Status:     overallStatus,
		Version:    h.version,
		Uptime:     time.Since(h.startTime).String(),
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}

	statusCode := http.StatusOK
	if overallStatus == metrics.StatusUnhealthy {
		statusCode = http.StatusServiceUnavailable
	}

	c.JSON(statusCode, healthCheck)
}

// Summary retorna um resumo operacional: fila, conexões e pool do banco
func (h *HealthHandler) Summary(c *gin.Context) {
	summary := gin.H{
		"version":        h.version,
		"uptime_seconds": int64(time.Since(h.startTime).Seconds()),
	}
	if h.queue != nil {
		summary["dispatcher"] = gin.H{
			"queue_depth": h.queue.QueueDepth(),
			"capacity":    h.queue.Capacity(),
		}
	}
	if h.wsHub != nil {
		summary["websocket"] = gin.H{
			"connections": h.wsHub.GetConnectionCount(),
		}
	}
	if h.db != nil {
		summary["database"] = database.GetPoolStats(h.db)
	}

	c.JSON(http.StatusOK, summary)
}

package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"
)

// Health states
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthStatus represents the health status of a component
type HealthStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency int64  `json:"latency_ms,omitempty"`
}

// HealthCheck represents the overall health check response
type HealthCheck struct {
	Status     string                  `json:"status"`
	Version    string                  `json:"version"`
	Uptime     string                  `json:"uptime"`
	Timestamp  string                  `json:"timestamp"`
	Components map[string]HealthStatus `json:"components"`
}

// CheckDatabaseHealth checks database connectivity
func CheckDatabaseHealth(ctx context.Context, db *sql.DB) HealthStatus {
	start := time.Now()

	if db == nil {
		return HealthStatus{
			Status:  StatusUnhealthy,
			Message: "database connection not initialized",
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := db.PingContext(ctx)
	latency := time.Since(start).Milliseconds()

	if err != nil {
		return HealthStatus{
			Status:  StatusUnhealthy,
			Message: err.Error(),
			Latency: latency,
		}
	}

	if latency > 100 {
		return HealthStatus{
			Status:  StatusDegraded,
			Message: "high latency",
			Latency: latency,
		}
	}

	return HealthStatus{
		Status:  StatusHealthy,
		Latency: latency,
	}
}

// CheckQueueHealth reports degraded once the queue is 80% full and unhealthy when full
func CheckQueueHealth(depth, capacity int) HealthStatus {
	if capacity <= 0 {
		return HealthStatus{Status: StatusUnhealthy, Message: "dispatcher not configured"}
	}
	if depth >= capacity {
		return HealthStatus{Status: StatusUnhealthy, Message: "dispatcher queue full"}
	}
	if depth*100 >= capacity*80 {
		return HealthStatus{Status: StatusDegraded, Message: "dispatcher queue near capacity"}
	}
	return HealthStatus{Status: StatusHealthy}
}

// CheckMemoryHealth checks memory usage
func CheckMemoryHealth(maxHeapMB uint64) HealthStatus {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	heapMB := memStats.HeapAlloc / 1024 / 1024

	if heapMB > maxHeapMB {
		return HealthStatus{
			Status:  StatusUnhealthy,
			Message: "heap memory exceeds limit",
		}
	}

	if heapMB > (maxHeapMB * 80 / 100) {
		return HealthStatus{
			Status:  StatusDegraded,
			Message: "heap memory usage high",
		}
	}

	return HealthStatus{Status: StatusHealthy}
}

// DetermineOverallStatus determines overall health from component statuses
func DetermineOverallStatus(components map[string]HealthStatus) string {
	hasDegraded := false

	for _, status := range components {
		switch status.Status {
		case StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			hasDegraded = true
		}
	}

	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}

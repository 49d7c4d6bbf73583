package handler

import (
	"net/http"
	"time"

	"webhook-relay/internal/core/ports"
	"webhook-relay/pkg/response"

	"github.com/gin-gonic/gin"
)

// WorkerHandler handles the internal queue-drain endpoints.
type WorkerHandler struct {
	worker  ports.QueueWorker
	metrics ports.MetricsCollector
}

// NewWorkerHandler creates a new WorkerHandler.
func NewWorkerHandler(worker ports.QueueWorker, metrics ports.MetricsCollector) *WorkerHandler {
	return &WorkerHandler{worker: worker, metrics: metrics}
}

// workerRunResponse is the trigger endpoint's payload.
type workerRunResponse struct {
	Success     bool   `json:"success"`
	ProcessedAt string `json:"processed_at"`
	DurationMs  int64  `json:"duration_ms"`
	Processed   int    `json:"processed"`
	Delivered   int    `json:"delivered"`
	Retried     int    `json:"retried"`
	Dead        int    `json:"dead"`
	Skipped     int    `json:"skipped"`
}

// Trigger handles POST /internal/webhook-worker: drain one batch now.
func (h *WorkerHandler) Trigger(c *gin.Context) {
	summary, err := h.worker.ProcessQueue(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.OK(c, workerRunResponse{
		Success:     true,
		ProcessedAt: time.Now().UTC().Format(time.RFC3339),
		DurationMs:  summary.Duration.Milliseconds(),
		Processed:   summary.Processed,
		Delivered:   summary.Delivered,
		Retried:     summary.Retried,
		Dead:        summary.Dead,
		Skipped:     summary.Skipped,
	})
}

// Metrics handles GET /internal/webhook-worker/metrics.
func (h *WorkerHandler) Metrics(c *gin.Context) {
	response.OK(c, h.metrics.Snapshot())
}

// HealthCheck handles GET /health with a deep check of all dependencies.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}

package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/MarkoPoloResearchLab/nodebridge/internal/task"
)

// NodeHealthReporter exposes the latest node service probe.
type NodeHealthReporter interface {
	Status() (task.NodeHealthStatus, bool)
}

// HealthHandlers serves the liveness endpoint.
type HealthHandlers struct {
	reporter NodeHealthReporter
}

// NewHealthHandlers constructs the health handlers.
func NewHealthHandlers(reporter NodeHealthReporter) *HealthHandlers {
	return &HealthHandlers{reporter: reporter}
}

// Health returns 200 when the last node service probe succeeded and 503 otherwise.
func (handlers *HealthHandlers) Health(context *gin.Context) {
	if handlers.reporter == nil {
		context.JSON(http.StatusServiceUnavailable, gin.H{"status": "unknown"})
		return
	}
	status, probed := handlers.reporter.Status()
	if !probed {
		context.JSON(http.StatusServiceUnavailable, gin.H{"status": "pending"})
		return
	}
	if !status.Healthy {
		context.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "node_service": status})
		return
	}
	context.JSON(http.StatusOK, gin.H{"status": "ok", "node_service": status})
}

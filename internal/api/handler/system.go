package handler

import (
	"net/http"

	"github.com/dkessler/classpulse/internal/queue"
	"github.com/dkessler/classpulse/internal/realtime"
	"github.com/gin-gonic/gin"
)

// SystemHandler handles queue health and realtime status endpoints.
type SystemHandler struct {
	queueSvc *queue.Service
	hub      *realtime.Hub
}

// NewSystemHandler creates a new system handler.
// Parameters:
//   - queueSvc: queue service for depth counters.
//   - hub: realtime hub for connection counts.
// Returns:
//   - *SystemHandler: initialized handler.
func NewSystemHandler(queueSvc *queue.Service, hub *realtime.Hub) *SystemHandler {
	return &SystemHandler{queueSvc: queueSvc, hub: hub}
}

// QueueHealth handles GET /api/v1/queue/health.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SystemHandler) QueueHealth(c *gin.Context) {
	health, err := h.queueSvc.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to read queue health: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"stages": health})
}

// RealtimeStatus handles GET /api/v1/realtime/status.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *SystemHandler) RealtimeStatus(c *gin.Context) {
	users, conns := h.hub.Status()
	c.JSON(http.StatusOK, gin.H{
		"connected_users": users,
		"connections":     conns,
	})
}

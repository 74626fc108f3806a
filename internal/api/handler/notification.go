package handler

import (
	"errors"
	"net/http"

	"github.com/dkessler/classpulse/internal/api/middleware"
	"github.com/dkessler/classpulse/internal/repository"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// NotificationHandler handles user notification endpoints.
type NotificationHandler struct {
	notifications *repository.NotificationRepository
}

// NewNotificationHandler creates a new notification handler.
// Parameters:
//   - notifications: notification store.
// Returns:
//   - *NotificationHandler: initialized handler.
func NewNotificationHandler(notifications *repository.NotificationRepository) *NotificationHandler {
	return &NotificationHandler{notifications: notifications}
}

// List handles GET /api/v1/notifications.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *NotificationHandler) List(c *gin.Context) {
	userID := middleware.UserID(c)
	unreadOnly := c.Query("unread") == "true"
	limit, offset := pagination(c)

	notes, err := h.notifications.ListByUser(c.Request.Context(), userID, unreadOnly, limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list notifications: " + err.Error(),
		})
		return
	}
	unread, err := h.notifications.CountUnread(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to count notifications: " + err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"notifications": notes,
		"unread_count":  unread,
	})
}

// MarkRead handles POST /api/v1/notifications/:id/read.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *NotificationHandler) MarkRead(c *gin.Context) {
	userID := middleware.UserID(c)
	err := h.notifications.MarkRead(c.Request.Context(), c.Param("id"), userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Notification not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to mark notification read: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// MarkAllRead handles POST /api/v1/notifications/read-all.
// Parameters:
//   - c: Gin request context.
// Returns: none (writes JSON response).
func (h *NotificationHandler) MarkAllRead(c *gin.Context) {
	userID := middleware.UserID(c)
	updated, err := h.notifications.MarkAllRead(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to mark notifications read: " + err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"updated": updated})
}

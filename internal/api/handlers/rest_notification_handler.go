package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"homeward/marketplace/internal/api/middleware"
	"homeward/marketplace/internal/services"
)

// RestNotificationHandler serves the notification feed of the authenticated user.
type RestNotificationHandler struct {
	notificationService services.INotificationService
}

func NewRestNotificationHandler(notificationService services.INotificationService) *RestNotificationHandler {
	return &RestNotificationHandler{notificationService: notificationService}
}

// ListNotifications handles GET /v1/notifications?unread=true&limit=20&cursor=<next_cursor>
func (h *RestNotificationHandler) ListNotifications(c *gin.Context) {
	userID := c.GetString(middleware.ContextKeyUserID)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Authentication required"})
		return
	}

	unreadOnly, _ := strconv.ParseBool(c.DefaultQuery("unread", "false"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	var cursor *services.PageCursor
	if raw := c.Query("cursor"); raw != "" {
		var err error
		if cursor, err = services.ParsePageCursor(raw); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid cursor"})
			return
		}
	}

	notifications, err := h.notificationService.ListNotifications(c.Request.Context(), userID, unreadOnly, limit, cursor)
	if err != nil {
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list notifications"})
		return
	}

	var nextCursor *services.PageCursor
	if n := len(notifications); n > 0 {
		nextCursor = services.CursorAfter(notifications[n-1].CreatedAt, notifications[n-1].ID)
	}
	c.JSON(http.StatusOK, gin.H{
		"data":        notifications,
		"next_cursor": nextCursor,
	})
}

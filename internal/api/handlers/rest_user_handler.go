package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"homeward/marketplace/internal/models"
	"homeward/marketplace/internal/services"
	"homeward/marketplace/internal/utils"
)

// RestUserHandler handles REST requests related to users.
type RestUserHandler struct {
	userService services.IUserService
}

// NewRestUserHandler creates a new RestUserHandler.
func NewRestUserHandler(userService services.IUserService) *RestUserHandler {
	return &RestUserHandler{userService: userService}
}

// PublicUser represents the data returned for a user profile.
type PublicUser struct {
	models.PublicProfile
	DateJoined string `json:"date_joined"`
}

// GetUserByID handles GET /v1/user/:id
func (h *RestUserHandler) GetUserByID(c *gin.Context) {
	userID := c.Param("id")
	if !utils.IsValidID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid user ID format"})
		return
	}

	user, err := h.userService.FindByID(c.Request.Context(), userID)
	if err != nil {
		if errors.Is(err, services.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "User not found"})
		} else {
			_ = c.Error(err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve user"})
		}
		return
	}

	c.JSON(http.StatusOK, PublicUser{
		PublicProfile: user.PublicProfile(),
		DateJoined:    user.CreatedAt.Format("2006-01-02"),
	})
}

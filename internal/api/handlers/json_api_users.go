package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"

	"github.com/gin-gonic/gin"

	"homeward/marketplace/internal/auth"
	"homeward/marketplace/internal/models"
	"homeward/marketplace/internal/services"
)

// AuthResponse is returned by register and login.
type AuthResponse struct {
	Token   string      `json:"token"`
	ID      string      `json:"id"`
	Email   string      `json:"email"`
	Role    models.Role `json:"role"`
	IsAdmin bool        `json:"is_admin"`
}

type RegisterArgs struct {
	Email    string      `json:"email"`
	Name     string      `json:"name"`
	Password string      `json:"password"`
	Role     models.Role `json:"role"`
}

func (h *JsonApiHandler) issueToken(user *models.User) (*AuthResponse, *ApiError) {
	token, err := auth.GenerateJWT(user.ID, string(user.Role), user.IsAdmin, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		slog.Error("Failed to generate JWT", "user_id", user.ID, "error", err)
		return nil, NewApiError("Failed to create session token")
	}
	return &AuthResponse{Token: token, ID: user.ID, Email: user.Email, Role: user.Role, IsAdmin: user.IsAdmin}, nil
}

func (h *JsonApiHandler) register(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs RegisterArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	user, err := h.userService.Register(c.Request.Context(), reqArgs.Email, reqArgs.Name, reqArgs.Password, reqArgs.Role)
	if err != nil {
		return nil, serviceError(err, "Registration failed", "email", reqArgs.Email)
	}
	slog.Info("User registered", "user_id", user.ID, "role", user.Role)
	return h.issueToken(user)
}

type LoginArgs struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// login returns Data: false for unknown emails and wrong passwords alike.
func (h *JsonApiHandler) login(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	var reqArgs LoginArgs
	if apiErr := h.parseRequiredSingleArgFromArray(args, &reqArgs); apiErr != nil {
		return nil, apiErr
	}

	user, err := h.userService.Authenticate(c.Request.Context(), reqArgs.Email, reqArgs.Password)
	if errors.Is(err, services.ErrInvalidCredentials) {
		slog.Info("Login attempt failed", "email", reqArgs.Email)
		return false, nil
	}
	if err != nil {
		return nil, serviceError(err, "Login failed", "email", reqArgs.Email)
	}
	return h.issueToken(user)
}

func (h *JsonApiHandler) refreshToken(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}

	newToken, err := auth.GenerateJWT(authInfo.UserID, string(authInfo.Role), authInfo.IsAdmin, h.cfg.JwtSecret, h.cfg.JwtTTL)
	if err != nil {
		slog.Error("Failed to generate refreshed JWT", "user_id", authInfo.UserID, "error", err)
		return nil, NewApiError("Failed to refresh session token")
	}
	return newToken, nil
}

func (h *JsonApiHandler) getMyProfile(c *gin.Context, args json.RawMessage) (interface{}, *ApiError) {
	_ = args
	authInfo, apiErr := requireUser(c)
	if apiErr != nil {
		return nil, apiErr
	}
	user, err := h.userService.FindByID(c.Request.Context(), authInfo.UserID)
	if err != nil {
		return nil, serviceError(err, "Failed to load profile", "user_id", authInfo.UserID)
	}
	return user, nil
}

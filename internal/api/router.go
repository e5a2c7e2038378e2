package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"homeward/marketplace/internal/api/handlers"
	"homeward/marketplace/internal/api/middleware"
	"homeward/marketplace/internal/config"
	"homeward/marketplace/internal/email"
)

const (
	testEmailPollAttempts = 10
	testEmailPollInterval = 200 * time.Millisecond
)

// SetupRouter configures and returns the main Gin engine. deadlineQueue may be nil, in which case
// deadline scans requested over the API run inline.
func SetupRouter(cfg *config.Config, svc handlers.Services, deadlineQueue handlers.DeadlineScanQueue) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	rateLimiter := middleware.NewRateLimiterMiddleware(cfg)

	// Order matters: preflight requests must not consume rate limit tokens.
	r.Use(middleware.CORSMiddleware(cfg))
	r.Use(rateLimiter.Limit())

	jsonApiHandler := handlers.NewJsonApiHandler(cfg, svc, deadlineQueue)
	restListingHandler := handlers.NewRestListingHandler(svc.Listings)
	restUserHandler := handlers.NewRestUserHandler(svc.Users)
	restNotificationHandler := handlers.NewRestNotificationHandler(svc.Notifications)

	v1 := r.Group("/v1")
	{
		v1.POST("/api", jsonApiHandler.HandleRequest)

		v1.GET("/listing/:type/search", restListingHandler.SearchListings)
		v1.GET("/listing/:type/:id", restListingHandler.GetListingByID)

		v1.GET("/user/:id", restUserHandler.GetUserByID)
		v1.GET("/user/:id/listing", restListingHandler.GetUserListings)

		v1.GET("/ping", func(c *gin.Context) {
			c.String(http.StatusOK, "pong")
		})

		authRequired := v1.Group("/")
		authRequired.Use(middleware.AuthMiddleware(cfg.JwtSecret))
		{
			authRequired.GET("/notifications", restNotificationHandler.ListNotifications)
		}
	}

	return r
}

type serviceRequest struct {
	Method    string          `json:"method"`
	Arguments json.RawMessage `json:"arguments"`
}

// SetupServiceRouter configures the internal service engine. It accepts shutdown requests and, when
// emails are mocked into Redis, lets test harnesses fetch the last email of a type sent to an address.
func SetupServiceRouter(cfg *config.Config, rdb redis.Cmdable, shutdownChan chan<- struct{}) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.POST("/api", func(c *gin.Context) {
		var req serviceRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid request format"})
			return
		}

		switch req.Method {
		case "shutdown":
			slog.Info("Received shutdown command via Service API")
			c.JSON(http.StatusOK, gin.H{"success": true, "data": "Shutdown initiated"})
			select {
			case shutdownChan <- struct{}{}:
			default:
				slog.Warn("Shutdown channel already signaled")
			}
		case "getTestEmail":
			getTestEmail(c, rdb, req.Arguments)
		default:
			c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Unknown service method: %s", req.Method)})
		}
	})
	return r
}

func getTestEmail(c *gin.Context, rdb redis.Cmdable, rawArgs json.RawMessage) {
	if rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"success": false, "error": "Redis is not configured"})
		return
	}
	var args []string
	if err := json.Unmarshal(rawArgs, &args); err != nil || len(args) != 2 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "Invalid arguments: expected JSON array [notificationType, email]"})
		return
	}
	redisKey := email.MockEmailKey(args[1], args[0])

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	var stored string
	found := false
	for i := 0; i < testEmailPollAttempts && !found; i++ {
		value, err := rdb.Get(ctx, redisKey).Result()
		switch {
		case err == nil:
			stored, found = value, true
			rdb.Del(ctx, redisKey)
		case errors.Is(err, redis.Nil):
			time.Sleep(testEmailPollInterval)
		default:
			slog.Error("Service API: failed to read mock email", "key", redisKey, "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Redis error"})
			return
		}
	}
	if !found {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "error": fmt.Sprintf("Test email not found in Redis for key %s", redisKey)})
		return
	}

	var mock email.MockEmail
	if err := json.Unmarshal([]byte(stored), &mock); err != nil {
		slog.Error("Service API: failed to decode mock email", "key", redisKey, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": "Failed to parse stored email data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": mock})
}

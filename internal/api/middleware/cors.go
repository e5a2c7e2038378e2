package middleware

import (
	"slices"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"homeward/marketplace/internal/config"
)

var (
	corsAllowHeaders  = []string{"Content-Type", "Content-Length", "Accept-Encoding", "Authorization", "Accept", "Origin", "Cache-Control", "X-Requested-With", "X-BFP"}
	corsExposeHeaders = []string{"Content-Length"}
	corsAllowMethods  = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
)

// CORSMiddleware sets the CORS headers for the configured origins. A "*" entry allows any origin,
// in which case credentials are not allowed.
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	corsCfg := cors.Config{
		AllowMethods:  corsAllowMethods,
		AllowHeaders:  corsAllowHeaders,
		ExposeHeaders: corsExposeHeaders,
		MaxAge:        12 * time.Hour,
	}
	if len(cfg.CorsOrigins) == 0 || slices.Contains(cfg.CorsOrigins, "*") {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CorsOrigins
		corsCfg.AllowCredentials = true
	}
	return cors.New(corsCfg)
}

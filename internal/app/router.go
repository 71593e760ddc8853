package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/api/handlers"
	"dpsrecon.io/reconciliation/internal/api/middleware"
	"dpsrecon.io/reconciliation/internal/config"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
)

func newRouter(cfg *config.Config, server *handlers.Server) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), middleware.RequestID(), middleware.ErrorHandler())
	if corsCfg, ok := buildCORSConfig(cfg); ok {
		router.Use(cors.New(corsCfg))
	}

	// Probes and metrics are public.
	router.GET("/health/live", server.GetLiveness)
	router.GET("/health/ready", server.GetReadiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	protected := router.Group("")
	if cfg.Security.AuthEnabled {
		role := cfg.Security.RequiredRole
		if role == "" {
			role = middleware.RoleReconciliationRW
		}
		protected.Use(middleware.JWTAuth([]byte(cfg.Security.JWTSigningKey)), middleware.RequireRole(role))
	} else {
		logger.Warn("HTTP authentication disabled")
	}
	protected.GET("/reconciliation/detect", server.DetectUnmatched)
	protected.PUT("/reconciliation/housekeeping", server.RunHousekeeping)
	protected.GET("/log/level", server.GetLogLevel)
	protected.PUT("/log/level", server.SetLogLevel)

	return router
}

// buildCORSConfig returns the CORS policy, or false when no origin is
// allowed. "*" allows every origin.
func buildCORSConfig(cfg *config.Config) (cors.Config, bool) {
	origins := make([]string, 0, len(cfg.Server.AllowedOrigins))
	allowAll := false
	for _, origin := range cfg.Server.AllowedOrigins {
		origin = strings.TrimSpace(origin)
		switch {
		case origin == "":
		case origin == "*":
			allowAll = true
		case strings.HasPrefix(origin, "http://") || strings.HasPrefix(origin, "https://"):
			origins = append(origins, origin)
		default:
			logger.Warn("Ignoring invalid CORS origin", zap.String("origin", origin))
		}
	}
	if !allowAll && len(origins) == 0 {
		return cors.Config{}, false
	}

	cc := cors.Config{
		AllowMethods:  []string{http.MethodGet, http.MethodPut, http.MethodOptions},
		AllowHeaders:  []string{"Origin", "Authorization", "Content-Type", middleware.RequestIDHeader},
		ExposeHeaders: []string{middleware.RequestIDHeader},
		MaxAge:        12 * time.Hour,
	}
	if allowAll {
		cc.AllowAllOrigins = true
	} else {
		cc.AllowOrigins = origins
	}
	return cc, true
}

package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/api/middleware"
	apperrors "dpsrecon.io/reconciliation/internal/pkg/errors"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
)

// LogLevel is the body of the log level endpoints.
type LogLevel struct {
	Level string `json:"level" binding:"required"`
}

// GetLogLevel handles GET /log/level.
func (s *Server) GetLogLevel(c *gin.Context) {
	c.JSON(http.StatusOK, LogLevel{Level: logger.GetLevel().String()})
}

// SetLogLevel handles PUT /log/level.
func (s *Server) SetLogLevel(c *gin.Context) {
	var req LogLevel
	if err := c.ShouldBindJSON(&req); err != nil {
		_ = c.Error(apperrors.BadRequest("INVALID_LOG_LEVEL", "body must be {\"level\": \"...\"}"))
		return
	}
	if err := logger.SetLevel(req.Level); err != nil {
		_ = c.Error(apperrors.BadRequest("INVALID_LOG_LEVEL", err.Error()))
		return
	}

	logger.Info("Log level changed",
		zap.String("level", logger.GetLevel().String()),
		zap.String("principal", middleware.GetPrincipal(c.Request.Context())),
	)
	c.JSON(http.StatusOK, LogLevel{Level: logger.GetLevel().String()})
}

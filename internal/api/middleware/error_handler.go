// Package middleware provides HTTP middleware for the reconciliation service.
//
// Import Path: dpsrecon.io/reconciliation/internal/api/middleware
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	apperrors "dpsrecon.io/reconciliation/internal/pkg/errors"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
)

// ErrorHandler is a Gin middleware that provides centralized error handling.
// It captures errors added via c.Error() and returns a consistent JSON response.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}

		appErr := apperrors.FromError(c.Errors.Last().Err)
		fields := []zap.Field{
			zap.String("code", appErr.Code),
			zap.String("message", appErr.Message),
			zap.Int("status", appErr.HTTPStatus),
			zap.String("request_id", GetRequestID(c.Request.Context())),
			zap.Error(appErr.Err),
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			logger.Error("Request failed", fields...)
		} else {
			logger.Warn("Request error", fields...)
		}

		c.JSON(appErr.HTTPStatus, gin.H{
			"code":    appErr.Code,
			"message": appErr.Message,
		})
	}
}

package middleware

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/pkg/logger"
)

// RoleReconciliationRW grants access to the reconciliation endpoints.
const RoleReconciliationRW = "ROLE_DPS_RECONCILIATION__RW"

// RequireRole returns middleware that rejects callers whose token does not
// carry role. It must run after JWTAuth.
func RequireRole(role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		roles, exists := c.Get(string(ctxKeyRoles))
		if !exists {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": "FORBIDDEN", "message": "no roles in context",
			})
			return
		}
		roleList, ok := roles.([]string)
		if !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"code": "FORBIDDEN", "message": "invalid roles type",
			})
			return
		}

		if slices.Contains(roleList, role) {
			c.Next()
			return
		}

		logger.Warn("Caller lacks required role",
			zap.String("principal", GetPrincipal(c.Request.Context())),
			zap.String("required_role", role),
		)
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
			"code": "FORBIDDEN", "message": "insufficient permissions",
		})
	}
}

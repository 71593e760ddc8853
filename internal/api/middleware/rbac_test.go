package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name   string
		roles  any
		set    bool
		status int
	}{
		{name: "role present", roles: []string{"ROLE_OTHER", RoleReconciliationRW}, set: true, status: http.StatusOK},
		{name: "role absent", roles: []string{"ROLE_OTHER"}, set: true, status: http.StatusForbidden},
		{name: "no roles in context", set: false, status: http.StatusForbidden},
		{name: "wrong type", roles: "ROLE_DPS_RECONCILIATION__RW", set: true, status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := gin.New()
			router.Use(func(c *gin.Context) {
				if tt.set {
					c.Set(string(ctxKeyRoles), tt.roles)
				}
				c.Next()
			}, RequireRole(RoleReconciliationRW))
			router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
			if w.Code != tt.status {
				t.Errorf("status = %d, want %d", w.Code, tt.status)
			}
		})
	}
}

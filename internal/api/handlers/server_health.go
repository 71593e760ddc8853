package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Health statuses.
const (
	HealthStatusOk       = "ok"
	HealthStatusDegraded = "degraded"
)

// Health is the probe response body.
type Health struct {
	Status string            `json:"status"`
	Checks map[string]string         `json:"checks,omitempty"`
	Pools  map[string]map[string]int `json:"pools,omitempty"`
}

// GetLiveness handles GET /health/live, the Kubernetes liveness probe.
func (s *Server) GetLiveness(c *gin.Context) {
	c.JSON(http.StatusOK, Health{Status: HealthStatusOk})
}

// GetReadiness handles GET /health/ready, the Kubernetes readiness probe.
func (s *Server) GetReadiness(c *gin.Context) {
	checks := make(map[string]string)
	allHealthy := true

	if s.db != nil {
		if err := s.db.Ping(c.Request.Context()); err != nil {
			checks["database"] = "error"
			allHealthy = false
		} else {
			checks["database"] = "ok"
		}
	}

	status := HealthStatusOk
	httpStatus := http.StatusOK
	if !allHealthy {
		status = HealthStatusDegraded
		httpStatus = http.StatusServiceUnavailable
	}

	h := Health{Status: status, Checks: checks}
	if s.poolStats != nil {
		h.Pools = s.poolStats()
	}
	c.JSON(httpStatus, h)
}

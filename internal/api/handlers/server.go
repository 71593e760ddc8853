// Package handlers implements the HTTP surface of the reconciliation service.
//
// Route registration is handled by the composition root; handlers do not
// register their own routes.
//
// Import Path: dpsrecon.io/reconciliation/internal/api/handlers
package handlers

import (
	"context"
	"time"

	"dpsrecon.io/reconciliation/internal/service"
)

// Housekeeping runs the reporting and housekeeping use cases.
// *usecase.Housekeeper satisfies it.
type Housekeeping interface {
	Report(ctx context.Context, from, to time.Time) (service.Report, error)
	Housekeeping(ctx context.Context, from, to time.Time) (service.Report, error)
}

// Pinger checks database connectivity. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Server implements all API handlers.
type Server struct {
	housekeeping Housekeeping
	db           Pinger
	poolStats    func() map[string]map[string]int
	loc          *time.Location
	fromOffset   time.Duration
	toOffset     time.Duration
	now          func() time.Time
}

// ServerDeps holds all dependencies for creating a Server.
type ServerDeps struct {
	Housekeeping Housekeeping
	// DB is optional; readiness skips the database check when nil.
	DB Pinger
	// PoolStats reports worker pool occupancy on readiness. Optional.
	PoolStats func() map[string]map[string]int
	// Location is the canonical zone for zone-less query parameters.
	Location *time.Location
	// DetectFromOffset and DetectToOffset give the default range
	// [now-from, now-to) when a request omits it.
	DetectFromOffset time.Duration
	DetectToOffset   time.Duration
	Now              func() time.Time
}

// NewServer creates a new Server with all dependencies.
func NewServer(deps ServerDeps) *Server {
	if deps.Location == nil {
		deps.Location = time.UTC
	}
	if deps.DetectFromOffset <= 0 {
		deps.DetectFromOffset = service.DefaultDetectFromOffset
	}
	if deps.DetectToOffset <= 0 {
		deps.DetectToOffset = service.DefaultDetectToOffset
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Server{
		housekeeping: deps.Housekeeping,
		db:           deps.DB,
		poolStats:    deps.PoolStats,
		loc:          deps.Location,
		fromOffset:   deps.DetectFromOffset,
		toOffset:     deps.DetectToOffset,
		now:          deps.Now,
	}
}

package modules

import (
	"dpsrecon.io/reconciliation/internal/api/handlers"
)

// NewServerDeps builds base server deps then lets each module contribute explicit wiring.
func NewServerDeps(infra *Infrastructure, mods []Module) handlers.ServerDeps {
	deps := handlers.ServerDeps{Location: infra.Location}
	if infra.DB != nil && infra.DB.Pool != nil {
		deps.DB = infra.DB.Pool
	}
	if infra.Pools != nil {
		deps.PoolStats = infra.Pools.Metrics
	}
	for _, mod := range mods {
		if mod == nil {
			continue
		}
		mod.ContributeServerDeps(&deps)
	}
	return deps
}

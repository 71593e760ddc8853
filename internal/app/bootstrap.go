// Package app is the composition root; bootstrap stays orchestration-only.
package app

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"github.com/riverqueue/river"

	"dpsrecon.io/reconciliation/internal/api/handlers"
	"dpsrecon.io/reconciliation/internal/app/modules"
	"dpsrecon.io/reconciliation/internal/config"
	"dpsrecon.io/reconciliation/internal/infrastructure"
	"dpsrecon.io/reconciliation/internal/pkg/worker"
)

// Application holds composed application dependencies.
type Application struct {
	Config  *config.Config
	Router  *gin.Engine
	DB      *infrastructure.DatabaseClients
	Pools   *worker.Pools
	Modules []modules.Module
}

// Bootstrap initializes all dependencies using module-oriented manual DI.
func Bootstrap(ctx context.Context, cfg *config.Config) (*Application, error) {
	infra, err := modules.NewInfrastructure(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("init infrastructure: %w", err)
	}

	baseModules := []modules.Module{
		modules.NewReconciliationModule(infra),
	}

	workers := river.NewWorkers()
	for _, mod := range baseModules {
		mod.RegisterWorkers(workers)
	}
	if err := infra.InitRiver(workers); err != nil {
		infra.Close()
		return nil, fmt.Errorf("init river workers: %w", err)
	}
	for _, mod := range baseModules {
		if p, ok := mod.(modules.PeriodicJobProvider); ok {
			for _, job := range p.PeriodicJobs() {
				infra.DB.RiverClient.PeriodicJobs().Add(job)
			}
		}
	}

	inbound, err := modules.NewInboundModule(infra, infra.DB.RiverClient)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("init inbound module: %w", err)
	}

	allModules := append(baseModules, inbound)
	server := handlers.NewServer(modules.NewServerDeps(infra, allModules))

	return &Application{
		Config:  cfg,
		Router:  newRouter(cfg, server),
		DB:      infra.DB,
		Pools:   infra.Pools,
		Modules: allModules,
	}, nil
}

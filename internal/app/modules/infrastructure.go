package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"

	"dpsrecon.io/reconciliation/internal/config"
	"dpsrecon.io/reconciliation/internal/infrastructure"
	"dpsrecon.io/reconciliation/internal/ledger"
	"dpsrecon.io/reconciliation/internal/pkg/worker"
	"dpsrecon.io/reconciliation/internal/prisonapi"
	"dpsrecon.io/reconciliation/internal/telemetry"
)

// Infrastructure holds shared cross-cutting dependencies for all modules.
// It is a provider, not a Module.
type Infrastructure struct {
	Config    *config.Config
	DB        *infrastructure.DatabaseClients
	Ledger    ledger.TxRunner
	Pools     *worker.Pools
	Location  *time.Location
	Telemetry telemetry.Client
	History   prisonapi.MovementHistoryClient
}

// NewInfrastructure initializes DB/pools and shared services.
func NewInfrastructure(ctx context.Context, cfg *config.Config) (*Infrastructure, error) {
	loc, err := cfg.Reconciliation.Location()
	if err != nil {
		return nil, err
	}

	db, err := infrastructure.NewDatabaseClients(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	// Dev-mode: auto-create ledger and River queue tables.
	if cfg.Database.AutoMigrate {
		if err := db.AutoMigrate(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("auto-migrate: %w", err)
		}
	}

	pools, err := worker.NewPools(ctx, worker.PoolConfig{
		GeneralPoolSize:   cfg.Worker.GeneralPoolSize,
		ReconcilePoolSize: cfg.Worker.ReconcilePoolSize,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("init worker pools: %w", err)
	}

	history := prisonapi.NewClient(prisonapi.Config{
		BaseURL:          cfg.PrisonAPI.BaseURL,
		Token:            cfg.PrisonAPI.Token,
		Timeout:          cfg.PrisonAPI.Timeout,
		FailureThreshold: cfg.PrisonAPI.FailureThreshold,
		OpenTimeout:      cfg.PrisonAPI.OpenTimeout,
		Location:         loc,
	}, nil)

	return &Infrastructure{
		Config:    cfg,
		DB:        db,
		Ledger:    db.Ledger,
		Pools:     pools,
		Location:  loc,
		Telemetry: telemetry.NewRecorder(),
		History:   history,
	}, nil
}

// InitRiver initializes River client on top of a prepared worker registry.
func (i *Infrastructure) InitRiver(workers *river.Workers) error {
	if i == nil || i.DB == nil || i.Config == nil {
		return fmt.Errorf("infrastructure is not initialized")
	}
	if err := i.DB.InitRiverClient(workers, i.Config.River); err != nil {
		return fmt.Errorf("init river: %w", err)
	}
	return nil
}

// Close releases infra resources in reverse dependency order.
func (i *Infrastructure) Close() {
	if i == nil {
		return
	}
	if i.Pools != nil {
		i.Pools.Shutdown()
	}
	if i.DB != nil {
		i.DB.Close()
	}
}

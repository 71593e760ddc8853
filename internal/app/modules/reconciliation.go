package modules

import (
	"context"

	"github.com/riverqueue/river"

	"dpsrecon.io/reconciliation/internal/api/handlers"
	"dpsrecon.io/reconciliation/internal/jobs"
	"dpsrecon.io/reconciliation/internal/pkg/worker"
	"dpsrecon.io/reconciliation/internal/service"
	"dpsrecon.io/reconciliation/internal/usecase"
)

// ReconciliationModule wires the correlation engine, housekeeping use cases
// and their River workers.
type ReconciliationModule struct {
	infra       *Infrastructure
	processor   *usecase.EventProcessor
	housekeeper *usecase.Housekeeper
}

// NewReconciliationModule creates the module with explicit constructor wiring.
func NewReconciliationModule(infra *Infrastructure) *ReconciliationModule {
	rc := infra.Config.Reconciliation

	engine := service.NewEngine(infra.History, infra.Telemetry, service.EngineConfig{
		MatchWindow: rc.MatchWindow,
		Location:    infra.Location,
	})

	var pool *worker.Pool
	if infra.Pools != nil {
		pool = infra.Pools.Reconcile
	}
	housekeeper := usecase.NewHousekeeper(
		infra.Ledger,
		service.NewPurger(infra.Telemetry, rc.Retention, nil),
		service.NewBatchReconciler(infra.Telemetry),
		service.NewReporter(infra.Telemetry, rc.ReportSampleSize),
		pool,
	)

	return &ReconciliationModule{
		infra:       infra,
		processor:   usecase.NewEventProcessor(infra.Ledger, engine),
		housekeeper: housekeeper,
	}
}

func (m *ReconciliationModule) Name() string { return "reconciliation" }

func (m *ReconciliationModule) ContributeServerDeps(deps *handlers.ServerDeps) {
	if deps == nil {
		return
	}
	rc := m.infra.Config.Reconciliation
	deps.Housekeeping = m.housekeeper
	deps.Location = m.infra.Location
	deps.DetectFromOffset = rc.DetectFromOffset
	deps.DetectToOffset = rc.DetectToOffset
}

func (m *ReconciliationModule) RegisterWorkers(workers *river.Workers) {
	if workers == nil || m == nil {
		return
	}
	jobs.RegisterEventWorkers(workers, m.processor)
	river.AddWorker(workers, jobs.NewLedgerPurgeWorker(m.housekeeper))
}

// PeriodicJobs schedules the retention purge.
func (m *ReconciliationModule) PeriodicJobs() []*river.PeriodicJob {
	return []*river.PeriodicJob{jobs.PurgePeriodicJob(m.infra.Config.Reconciliation.PurgeInterval)}
}

func (m *ReconciliationModule) Shutdown(context.Context) error { return nil }

package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/domain"
	"dpsrecon.io/reconciliation/internal/ledger"
	apperrors "dpsrecon.io/reconciliation/internal/pkg/errors"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
	"dpsrecon.io/reconciliation/internal/pkg/worker"
	"dpsrecon.io/reconciliation/internal/service"
	"dpsrecon.io/reconciliation/internal/telemetry"
)

// BatchResult summarises one batch reconciliation pass.
type BatchResult struct {
	Groups int
	// Applied counts groups per rule that fired.
	Applied map[string]int
	// Conflicts counts groups rolled back because a live handler completed
	// one of their rows first.
	Conflicts int
	Failed    int
}

// Housekeeper runs purge, batch reconciliation and reporting, each in its
// own transaction.
type Housekeeper struct {
	tx       ledger.TxRunner
	purger   *service.Purger
	batch    *service.BatchReconciler
	reporter *service.Reporter
	// pool runs subject groups concurrently; nil runs them inline.
	pool *worker.Pool
}

// NewHousekeeper creates a Housekeeper.
func NewHousekeeper(
	tx ledger.TxRunner,
	purger *service.Purger,
	batch *service.BatchReconciler,
	reporter *service.Reporter,
	pool *worker.Pool,
) *Housekeeper {
	return &Housekeeper{tx: tx, purger: purger, batch: batch, reporter: reporter, pool: pool}
}

// Purge deletes expired matched rows.
func (h *Housekeeper) Purge(ctx context.Context) (int64, error) {
	defer observe("purge", time.Now())

	var deleted int64
	err := inTx(ctx, h.tx, func(ctx context.Context, store ledger.Store) error {
		n, err := h.purger.Purge(ctx, store)
		deleted = n
		return err
	})
	if err != nil {
		return 0, err
	}
	return deleted, nil
}

// Reconcile applies the self-resolution rules to unmatched rows created in
// [from, to). Each subject group commits or rolls back on its own; a
// conflicting group is logged and skipped.
func (h *Housekeeper) Reconcile(ctx context.Context, from, to time.Time) (BatchResult, error) {
	defer observe("batch", time.Now())

	var rows []domain.CorrelationRow
	err := inTx(ctx, h.tx, func(ctx context.Context, store ledger.Store) error {
		var err error
		rows, err = store.FindUnmatched(ctx, from, to, 0)
		return err
	})
	if err != nil {
		return BatchResult{}, err
	}

	groups := service.GroupBySubject(rows)
	result := BatchResult{Groups: len(groups), Applied: make(map[string]int)}

	var mu sync.Mutex
	run := func(ctx context.Context, group service.SubjectGroup) {
		var applied []string
		err := inTx(ctx, h.tx, func(ctx context.Context, store ledger.Store) error {
			var err error
			applied, err = h.batch.ReconcileGroup(ctx, store, group)
			return err
		})

		mu.Lock()
		defer mu.Unlock()
		switch {
		case err == nil:
			for _, rule := range applied {
				result.Applied[rule]++
			}
		case errors.Is(err, service.ErrRowChanged), errors.Is(err, apperrors.ErrSerializationConflict):
			result.Conflicts++
			logger.Info("Batch group skipped after concurrent change",
				zap.String("subject_id", group.SubjectID),
				zap.Error(err),
			)
		default:
			result.Failed++
			logger.Error("Batch group failed",
				zap.String("subject_id", group.SubjectID),
				zap.Error(err),
			)
		}
	}

	if h.pool == nil {
		for _, group := range groups {
			run(ctx, group)
		}
	} else {
		tasks := make([]worker.Task, len(groups))
		for i, group := range groups {
			tasks[i] = func(ctx context.Context) { run(ctx, group) }
		}
		if err := h.pool.Run(ctx, tasks...); err != nil {
			return result, err
		}
	}

	logger.Info("Batch reconciliation finished",
		zap.Int("groups", result.Groups),
		zap.Any("applied", result.Applied),
		zap.Int("conflicts", result.Conflicts),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

// Report counts and samples unmatched rows created in [from, to).
func (h *Housekeeper) Report(ctx context.Context, from, to time.Time) (service.Report, error) {
	defer observe("report", time.Now())

	var report service.Report
	err := inTx(ctx, h.tx, func(ctx context.Context, store ledger.Store) error {
		var err error
		report, err = h.reporter.Report(ctx, store, from, to)
		return err
	})
	return report, err
}

// Housekeeping purges, reconciles and then reports on [from, to). The
// report reflects the state after the batch pass.
func (h *Housekeeper) Housekeeping(ctx context.Context, from, to time.Time) (service.Report, error) {
	if _, err := h.Purge(ctx); err != nil {
		return service.Report{}, err
	}
	if _, err := h.Reconcile(ctx, from, to); err != nil {
		return service.Report{}, err
	}
	return h.Report(ctx, from, to)
}

func observe(operation string, start time.Time) {
	telemetry.HousekeepingDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}

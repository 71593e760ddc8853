package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/pkg/logger"
)

// DefaultPurgeInterval is how often the retention purge runs.
const DefaultPurgeInterval = 24 * time.Hour

// Purger deletes matched ledger rows past retention.
type Purger interface {
	Purge(ctx context.Context) (int64, error)
}

// LedgerPurgeArgs is a periodic maintenance job that removes matched ledger
// rows past the retention horizon.
type LedgerPurgeArgs struct{}

// Kind returns the job kind identifier for the periodic ledger purge.
func (LedgerPurgeArgs) Kind() string { return "ledger_purge" }

// InsertOpts ensures at most one purge job is enqueued within the same day.
func (LedgerPurgeArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: 24 * time.Hour,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// LedgerPurgeWorker runs the retention purge.
type LedgerPurgeWorker struct {
	river.WorkerDefaults[LedgerPurgeArgs]
	purger Purger
}

// NewLedgerPurgeWorker creates a purge worker.
func NewLedgerPurgeWorker(purger Purger) *LedgerPurgeWorker {
	return &LedgerPurgeWorker{purger: purger}
}

// Work removes expired matched rows.
func (w *LedgerPurgeWorker) Work(ctx context.Context, _ *river.Job[LedgerPurgeArgs]) error {
	if w == nil || w.purger == nil {
		return fmt.Errorf("ledger purge worker is not initialized")
	}

	deleted, err := w.purger.Purge(ctx)
	if err != nil {
		return fmt.Errorf("purge matched ledger rows: %w", err)
	}
	logger.Info("ledger purge completed", zap.Int64("deleted_rows", deleted))
	return nil
}

// PurgePeriodicJob schedules the purge every interval and once at start.
// Non-positive interval falls back to DefaultPurgeInterval.
func PurgePeriodicJob(interval time.Duration) *river.PeriodicJob {
	if interval <= 0 {
		interval = DefaultPurgeInterval
	}
	return river.NewPeriodicJob(
		river.PeriodicInterval(interval),
		func() (river.JobArgs, *river.InsertOpts) {
			return LedgerPurgeArgs{}, nil
		},
		&river.PeriodicJobOpts{RunOnStart: true},
	)
}

package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/domain"
	"dpsrecon.io/reconciliation/internal/ledger"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
	"dpsrecon.io/reconciliation/internal/telemetry"
)

// Housekeeping defaults.
const (
	DefaultRetention        = 14 * 24 * time.Hour
	DefaultReportSampleSize = 10
	DefaultDetectFromOffset = 4 * time.Hour
	DefaultDetectToOffset   = 2 * time.Hour
)

// DefaultRange returns [now-fromOffset, now-toOffset), the window a report
// looks at when the caller gives no bounds. Rows in it are already older
// than the live matching window.
func DefaultRange(now time.Time, fromOffset, toOffset time.Duration) (time.Time, time.Time) {
	return now.Add(-fromOffset), now.Add(-toOffset)
}

// Purger deletes matched rows past the retention horizon.
type Purger struct {
	telemetry telemetry.Client
	retention time.Duration
	now       func() time.Time
}

// NewPurger creates a Purger. Non-positive retention uses DefaultRetention.
func NewPurger(tel telemetry.Client, retention time.Duration, now func() time.Time) *Purger {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if now == nil {
		now = time.Now
	}
	return &Purger{telemetry: tel, retention: retention, now: now}
}

// Purge deletes matched rows created strictly before now minus retention.
func (p *Purger) Purge(ctx context.Context, store ledger.Store) (int64, error) {
	cutoff := p.now().Add(-p.retention)
	n, err := store.DeleteMatchedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	logger.Info("Purged matched rows", zap.Int64("deleted_rows", n), zap.Time("cutoff", cutoff))
	telemetry.Track(ctx, p.telemetry, telemetry.EventDatabasePurge, map[string]string{
		"deleted-rows": strconv.FormatInt(n, 10),
	})
	return n, nil
}

// Report is the outcome of an unmatched-row scan.
type Report struct {
	From, To time.Time
	Count    int64
	// Sample holds the first unmatched rows, ordered by id.
	Sample []domain.CorrelationRow
}

// Summary is the human readable report line.
func (r Report) Summary() string {
	return fmt.Sprintf("Found %d non-matching events", r.Count)
}

// Reporter counts and samples unmatched rows.
type Reporter struct {
	telemetry  telemetry.Client
	sampleSize int
}

// NewReporter creates a Reporter. Non-positive sampleSize uses DefaultReportSampleSize.
func NewReporter(tel telemetry.Client, sampleSize int) *Reporter {
	if sampleSize <= 0 {
		sampleSize = DefaultReportSampleSize
	}
	return &Reporter{telemetry: tel, sampleSize: sampleSize}
}

// Report scans unmatched rows created in [from, to).
func (r *Reporter) Report(ctx context.Context, store ledger.Store, from, to time.Time) (Report, error) {
	count, err := store.CountUnmatched(ctx, from, to)
	if err != nil {
		return Report{}, err
	}
	rows, err := store.FindUnmatched(ctx, from, to, r.sampleSize)
	if err != nil {
		return Report{}, err
	}

	report := Report{From: from, To: to, Count: count, Sample: rows}

	props := map[string]string{"count": strconv.FormatInt(count, 10)}
	for _, row := range rows {
		if _, seen := props[row.SubjectID]; !seen {
			props[row.SubjectID] = row.String()
		}
	}
	telemetry.Track(ctx, r.telemetry, telemetry.EventNonMatch, props)
	telemetry.UnmatchedRows.Set(float64(count))

	logger.Info("Unmatched row report",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int64("count", count),
	)
	return report, nil
}

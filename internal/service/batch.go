package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/domain"
	"dpsrecon.io/reconciliation/internal/ledger"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
	"dpsrecon.io/reconciliation/internal/telemetry"
)

// Batch reconciliation outcomes, one per self-resolution rule.
const (
	BatchHospitalMerge  = "batch-hospital-merge"
	BatchHospitalOrphan = "batch-hospital-orphan"
	BatchMergeOrphan    = "batch-merge-orphan"
)

// ErrRowChanged aborts a group whose rows were completed concurrently.
var ErrRowChanged = errors.New("row changed since it was read")

// SubjectGroup is the unmatched rows of one subject.
type SubjectGroup struct {
	SubjectID string
	Rows      []domain.CorrelationRow
}

// GroupBySubject splits rows into per-subject groups, keeping the order in
// which each subject first appears.
func GroupBySubject(rows []domain.CorrelationRow) []SubjectGroup {
	index := make(map[string]int)
	var groups []SubjectGroup
	for _, r := range rows {
		i, ok := index[r.SubjectID]
		if !ok {
			i = len(groups)
			index[r.SubjectID] = i
			groups = append(groups, SubjectGroup{SubjectID: r.SubjectID})
		}
		groups[i].Rows = append(groups[i].Rows, r)
	}
	return groups
}

// BatchReconciler applies the self-resolution rules to unmatched rows.
type BatchReconciler struct {
	telemetry telemetry.Client
}

// NewBatchReconciler creates a BatchReconciler.
func NewBatchReconciler(tel telemetry.Client) *BatchReconciler {
	return &BatchReconciler{telemetry: tel}
}

// ReconcileGroup applies the release rules and the receive rule to the
// group and returns the rules that fired. Rows are written with an
// unmatched guard; ErrRowChanged means a live handler got there first and
// the caller should roll back.
func (b *BatchReconciler) ReconcileGroup(ctx context.Context, store ledger.Store, group SubjectGroup) ([]string, error) {
	var received, released []domain.CorrelationRow
	for _, r := range group.Rows {
		if r.Matched {
			continue
		}
		switch r.MatchKind {
		case domain.MatchKindReceived:
			received = append(received, r)
		case domain.MatchKindReleased:
			released = append(released, r)
		}
	}

	var applied []string
	record := func(outcome string, err error) error {
		if outcome != "" {
			applied = append(applied, outcome)
		}
		return err
	}

	switch len(released) {
	case 2:
		if err := record(b.mergeHospitalPair(ctx, store, released[0], released[1])); err != nil {
			return nil, err
		}
	case 1:
		if err := record(b.resolveHospitalOrphan(ctx, store, released[0])); err != nil {
			return nil, err
		}
	}
	if len(received) == 1 {
		if err := record(b.resolveMergeOrphan(ctx, store, received[0])); err != nil {
			return nil, err
		}
	}
	return applied, nil
}

// mergeHospitalPair folds a domain-only REMOVED_FROM_HOSPITAL row into the
// internal release row whose prior movement was to hospital, then deletes
// the redundant domain row.
func (b *BatchReconciler) mergeHospitalPair(ctx context.Context, store ledger.Store, a, c domain.CorrelationRow) (string, error) {
	domainRow, internalRow := a, c
	if domainRow.HasInternalSide() {
		domainRow, internalRow = c, a
	}
	if domainRow.HasInternalSide() || !internalRow.HasInternalSide() {
		return "", nil
	}
	if domain.Deref(domainRow.DomainReason) != domain.ReasonRemovedFromHospital ||
		domain.Deref(internalRow.PriorReason) != domain.HospitalReason {
		return "", nil
	}

	internalRow.DomainReason = domainRow.DomainReason
	internalRow.DomainTime = domainRow.DomainTime
	internalRow.Matched = true
	internalRow.Comment = domain.StringPtr(domain.OutcomeComment(BatchHospitalMerge))
	if err := b.update(ctx, store, &internalRow); err != nil {
		return "", err
	}
	deleted, err := store.Delete(ctx, domainRow.ID, true)
	if err != nil {
		return "", err
	}
	if !deleted {
		return "", fmt.Errorf("delete row %d: %w", domainRow.ID, ErrRowChanged)
	}

	logger.Info("Merged hospital release pair",
		zap.String("subject_id", internalRow.SubjectID),
		zap.Int64("kept_id", internalRow.ID),
		zap.Int64("deleted_id", domainRow.ID),
	)
	telemetry.Track(ctx, b.telemetry, telemetry.EventBatchHospital, map[string]string{
		"subjectId": internalRow.SubjectID,
		"keptId":    fmt.Sprint(internalRow.ID),
		"deletedId": fmt.Sprint(domainRow.ID),
	})
	return BatchHospitalMerge, nil
}

// resolveHospitalOrphan accepts a REMOVED_FROM_HOSPITAL row whose internal
// counterpart never arrived.
func (b *BatchReconciler) resolveHospitalOrphan(ctx context.Context, store ledger.Store, row domain.CorrelationRow) (string, error) {
	if row.HasInternalSide() || domain.Deref(row.DomainReason) != domain.ReasonRemovedFromHospital {
		return "", nil
	}
	row.InternalReason = domain.StringPtr(domain.RestrictedPatientMarker)
	row.Matched = true
	row.Comment = domain.StringPtr(domain.OutcomeComment(BatchHospitalOrphan))
	if err := b.update(ctx, store, &row); err != nil {
		return "", err
	}

	logger.Info("Resolved restricted patient orphan",
		zap.String("subject_id", row.SubjectID),
		zap.Int64("id", row.ID),
	)
	telemetry.Track(ctx, b.telemetry, telemetry.EventBatchOrphan, map[string]string{
		"subjectId": row.SubjectID,
		"id":        fmt.Sprint(row.ID),
	})
	return BatchHospitalOrphan, nil
}

// resolveMergeOrphan accepts a merge row whose post-merge admission never
// arrived.
func (b *BatchReconciler) resolveMergeOrphan(ctx context.Context, store ledger.Store, row domain.CorrelationRow) (string, error) {
	if row.HasDomainSide() || domain.Deref(row.InternalReason) != domain.MergeMarker {
		return "", nil
	}
	row.DomainReason = domain.StringPtr(domain.MergeMarker)
	row.Matched = true
	row.Comment = domain.StringPtr(domain.OutcomeComment(BatchMergeOrphan))
	if err := b.update(ctx, store, &row); err != nil {
		return "", err
	}

	logger.Info("Resolved merge orphan",
		zap.String("subject_id", row.SubjectID),
		zap.Int64("id", row.ID),
	)
	telemetry.Track(ctx, b.telemetry, telemetry.EventBatchMergeOrphan, map[string]string{
		"subjectId": row.SubjectID,
		"id":        fmt.Sprint(row.ID),
	})
	return BatchMergeOrphan, nil
}

func (b *BatchReconciler) update(ctx context.Context, store ledger.Store, row *domain.CorrelationRow) error {
	ok, err := store.Update(ctx, row, true)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("update row %d: %w", row.ID, ErrRowChanged)
	}
	return nil
}

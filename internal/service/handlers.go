package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/domain"
	"dpsrecon.io/reconciliation/internal/ledger"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
	"dpsrecon.io/reconciliation/internal/telemetry"
)

// HandleMovement processes an internal movement insert notification.
//
// The booking history classifies the notification first: a sequence no
// longer present is a deletion, an entry modified after creation is an
// update. Neither touches the ledger. Only ADM/IN following a release (or
// nothing) counts as an admission; REL is always a release.
func (e *Engine) HandleMovement(ctx context.Context, store ledger.Store, ev domain.MovementEvent) error {
	logger.Debug("Handling movement event",
		zap.Int64("booking_id", ev.BookingID),
		zap.String("subject_id", ev.SubjectID),
		zap.Int("movement_seq", ev.MovementSeq),
	)

	history, err := e.history.GetMovementHistory(ctx, ev.BookingID)
	if err != nil {
		return err
	}

	current, ok := history.Find(ev.MovementSeq)
	if !ok {
		logger.Info("Movement no longer exists, treating as deletion",
			zap.Int64("booking_id", ev.BookingID),
			zap.Int("movement_seq", ev.MovementSeq),
		)
		e.track(ctx, telemetry.EventOffenderDeleted, ev, domain.OutcomeDelete)
		return nil
	}
	if current.IsUpdate() {
		logger.Info("Detected an update to an existing movement",
			zap.Int64("booking_id", ev.BookingID),
			zap.Int("movement_seq", ev.MovementSeq),
		)
		e.track(ctx, telemetry.EventOffenderUpdated, ev, domain.OutcomeUpdate)
		return nil
	}

	prior, hasPrior := history.Prior(ev.MovementSeq)
	fill := func(row *domain.CorrelationRow) {
		row.InternalBookingID = domain.Int64Ptr(ev.BookingID)
		row.InternalReason = domain.StringPtr(ev.ReasonCode)
		row.InternalTime = domain.TimePtr(e.canonical(ev.MovementTime))
		if hasPrior {
			row.PriorReason = domain.StringPtr(prior.ReasonCode)
			row.PriorDirection = domain.StringPtr(prior.DirectionCode)
			if prior.MovementTime != nil {
				row.PriorTime = domain.TimePtr(e.canonical(*prior.MovementTime))
			}
		}
	}

	var req matchRequest
	switch ev.MovementType {
	case domain.MovementTypeAdmission:
		if ev.DirectionCode != domain.DirectionIn || (hasPrior && prior.MovementType != domain.MovementTypeRelease) {
			logger.Debug("Admission movement is an internal transfer, not matched",
				zap.String("subject_id", ev.SubjectID),
				zap.String("direction", ev.DirectionCode),
				zap.String("prior_type", prior.MovementType),
			)
			e.track(ctx, telemetry.EventOffender, ev, domain.OutcomeIgnored)
			return nil
		}
		req = matchRequest{kind: domain.MatchKindReceived, predicate: ledger.PredicateExcludeMergeDomain}
	case domain.MovementTypeRelease:
		req = matchRequest{kind: domain.MatchKindReleased, predicate: ledger.PredicateNone}
	default:
		e.track(ctx, telemetry.EventOffender, ev, domain.OutcomeIgnored)
		return nil
	}
	req.subjectID = ev.SubjectID
	req.side = ledger.SideInternal
	req.fill = fill

	outcome, err := e.match(ctx, store, req)
	if err != nil {
		return err
	}
	e.track(ctx, telemetry.EventOffender, ev, outcome)
	return nil
}

// HandleMerge processes a booking number change. Only merges are matched,
// and only against post-merge admission rows.
func (e *Engine) HandleMerge(ctx context.Context, store ledger.Store, ev domain.MergeEvent) error {
	if !ev.IsMerge() {
		logger.Debug("Booking change is not a merge, ignored",
			zap.String("subject_id", ev.SubjectID),
			zap.String("type", ev.Type),
		)
		return nil
	}

	outcome, err := e.match(ctx, store, matchRequest{
		kind:      domain.MatchKindReceived,
		subjectID: ev.SubjectID,
		side:      ledger.SideInternal,
		predicate: ledger.PredicateOnlyMergeDomain,
		fill: func(row *domain.CorrelationRow) {
			row.InternalBookingID = domain.Int64Ptr(ev.BookingID)
			row.InternalReason = domain.StringPtr(domain.MergeMarker)
			row.InternalTime = domain.TimePtr(e.canonical(ev.MergedAt))
		},
	})
	if err != nil {
		return err
	}
	e.track(ctx, telemetry.EventMerge, ev, outcome)
	return nil
}

// HandlePrisonerReceived processes a domain receive event. Post-merge
// admissions pair only with merge rows; every other admission reason pairs
// only with non-merge rows.
func (e *Engine) HandlePrisonerReceived(ctx context.Context, store ledger.Store, ev domain.PrisonerReceivedEvent) error {
	if !ev.Reason.IsAdmission() {
		e.track(ctx, telemetry.EventDomainIgnored, ev, domain.OutcomeIgnored)
		return nil
	}

	predicate := ledger.PredicateExcludeMergeInternal
	if ev.Reason == domain.ReceivePostMergeAdmission {
		predicate = ledger.PredicateOnlyMergeInternal
	}
	return e.matchDomain(ctx, store, ev, domain.MatchKindReceived, predicate, string(ev.Reason), ev.OccurredAt, telemetry.EventDomain)
}

// HandlePrisonerReleased processes a domain release event.
func (e *Engine) HandlePrisonerReleased(ctx context.Context, store ledger.Store, ev domain.PrisonerReleasedEvent) error {
	if !ev.Reason.IsRelease() {
		e.track(ctx, telemetry.EventDomainIgnored, ev, domain.OutcomeIgnored)
		return nil
	}
	return e.matchDomain(ctx, store, ev, domain.MatchKindReleased, ledger.PredicateNone, string(ev.Reason), ev.OccurredAt, telemetry.EventDomain)
}

// HandlePatientRemoved processes a restricted patient leaving hospital
// status. It pairs only with releases whose prior movement went OUT to
// hospital.
func (e *Engine) HandlePatientRemoved(ctx context.Context, store ledger.Store, ev domain.PatientRemovedEvent) error {
	return e.matchDomain(ctx, store, ev, domain.MatchKindReleased, ledger.PredicateHospitalPrior,
		domain.ReasonRemovedFromHospital, ev.OccurredAt, telemetry.EventRestrictedPatient)
}

func (e *Engine) matchDomain(
	ctx context.Context,
	store ledger.Store,
	ev domain.InboundEvent,
	kind domain.MatchKind,
	predicate ledger.Predicate,
	reason string,
	occurredAt time.Time,
	event string,
) error {
	logger.Debug("Handling domain event",
		zap.String("event_type", ev.EventType()),
		zap.String("subject_id", ev.Subject()),
		zap.String("reason", reason),
	)

	outcome, err := e.match(ctx, store, matchRequest{
		kind:      kind,
		subjectID: ev.Subject(),
		side:      ledger.SideDomain,
		predicate: predicate,
		fill: func(row *domain.CorrelationRow) {
			row.DomainReason = domain.StringPtr(reason)
			row.DomainTime = domain.TimePtr(e.canonical(occurredAt))
		},
	})
	if err != nil {
		return err
	}
	e.track(ctx, event, ev, outcome)
	return nil
}

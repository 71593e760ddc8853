// Package usecase provides application use cases (Clean Architecture).
//
// Use cases own transaction boundaries: each one opens a ledger transaction
// through a TxRunner and hands the bound Store to service code, which never
// begins or commits on its own.
//
// Import Path: dpsrecon.io/reconciliation/internal/usecase
package usecase

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/domain"
	"dpsrecon.io/reconciliation/internal/ledger"
	apperrors "dpsrecon.io/reconciliation/internal/pkg/errors"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
	"dpsrecon.io/reconciliation/internal/service"
	"dpsrecon.io/reconciliation/internal/telemetry"
)

// EventProcessor runs each inbound event through its engine handler inside
// one serializable ledger transaction.
type EventProcessor struct {
	tx     ledger.TxRunner
	engine *service.Engine
}

// NewEventProcessor creates an EventProcessor.
func NewEventProcessor(tx ledger.TxRunner, engine *service.Engine) *EventProcessor {
	return &EventProcessor{tx: tx, engine: engine}
}

// Process handles one event. On error the transaction has been rolled back
// and the caller should redeliver; serialization conflicts are always safe
// to retry.
func (p *EventProcessor) Process(ctx context.Context, ev domain.InboundEvent) error {
	err := inTx(ctx, p.tx, func(ctx context.Context, store ledger.Store) error {
		switch e := ev.(type) {
		case domain.MovementEvent:
			return p.engine.HandleMovement(ctx, store, e)
		case domain.MergeEvent:
			return p.engine.HandleMerge(ctx, store, e)
		case domain.PrisonerReceivedEvent:
			return p.engine.HandlePrisonerReceived(ctx, store, e)
		case domain.PrisonerReleasedEvent:
			return p.engine.HandlePrisonerReleased(ctx, store, e)
		case domain.PatientRemovedEvent:
			return p.engine.HandlePatientRemoved(ctx, store, e)
		default:
			return fmt.Errorf("unsupported event variant %T", ev)
		}
	})
	if err != nil && errors.Is(err, apperrors.ErrSerializationConflict) {
		logger.Warn("Serialization conflict, event will be redelivered",
			zap.String("event_type", ev.EventType()),
			zap.String("subject_id", ev.Subject()),
		)
	}
	return err
}

// inTx runs fn in one ledger transaction and emits the telemetry it tracked
// only once the transaction has committed.
func inTx(ctx context.Context, tx ledger.TxRunner, fn func(ctx context.Context, store ledger.Store) error) error {
	ctx, pending := telemetry.Defer(ctx)
	if err := tx.InTx(ctx, fn); err != nil {
		return err
	}
	pending.Flush()
	return nil
}

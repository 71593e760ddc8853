// Package jobs defines River Queue job types for async processing.
//
// Every inbound event becomes one job carrying the decoded event. River's
// retries are the redelivery mechanism: a job that fails (serialization
// conflict, movement history outage) is retried with backoff, and a job
// that exhausts its attempts is discarded, which is where an operator looks
// for dead letters.
//
// Import Path: dpsrecon.io/reconciliation/internal/jobs
package jobs

import (
	"context"
	"fmt"

	"github.com/riverqueue/river"
	"go.uber.org/zap"

	"dpsrecon.io/reconciliation/internal/domain"
	"dpsrecon.io/reconciliation/internal/pkg/logger"
)

// QueueEvents is the queue inbound event jobs are inserted into.
const QueueEvents = "reconciliation_events"

// DefaultMaxAttempts bounds retries of an inbound event job.
const DefaultMaxAttempts = 5

// Processor handles one inbound event within its own transaction.
type Processor interface {
	Process(ctx context.Context, ev domain.InboundEvent) error
}

// EventArgs is implemented by every inbound event job.
type EventArgs interface {
	river.JobArgs
	InboundEvent() domain.InboundEvent
}

func eventInsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       QueueEvents,
		MaxAttempts: DefaultMaxAttempts,
	}
}

// MovementInsertedArgs carries an internal movement notification.
type MovementInsertedArgs struct {
	Event domain.MovementEvent `json:"event"`
}

func (MovementInsertedArgs) Kind() string                        { return "movement_inserted" }
func (MovementInsertedArgs) InsertOpts() river.InsertOpts        { return eventInsertOpts() }
func (a MovementInsertedArgs) InboundEvent() domain.InboundEvent { return a.Event }

// BookingChangedArgs carries a booking number change.
type BookingChangedArgs struct {
	Event domain.MergeEvent `json:"event"`
}

func (BookingChangedArgs) Kind() string                        { return "booking_changed" }
func (BookingChangedArgs) InsertOpts() river.InsertOpts        { return eventInsertOpts() }
func (a BookingChangedArgs) InboundEvent() domain.InboundEvent { return a.Event }

// PrisonerReceivedArgs carries a domain receive event.
type PrisonerReceivedArgs struct {
	Event domain.PrisonerReceivedEvent `json:"event"`
}

func (PrisonerReceivedArgs) Kind() string                        { return "prisoner_received" }
func (PrisonerReceivedArgs) InsertOpts() river.InsertOpts        { return eventInsertOpts() }
func (a PrisonerReceivedArgs) InboundEvent() domain.InboundEvent { return a.Event }

// PrisonerReleasedArgs carries a domain release event.
type PrisonerReleasedArgs struct {
	Event domain.PrisonerReleasedEvent `json:"event"`
}

func (PrisonerReleasedArgs) Kind() string                        { return "prisoner_released" }
func (PrisonerReleasedArgs) InsertOpts() river.InsertOpts        { return eventInsertOpts() }
func (a PrisonerReleasedArgs) InboundEvent() domain.InboundEvent { return a.Event }

// PatientRemovedArgs carries a restricted patient removal.
type PatientRemovedArgs struct {
	Event domain.PatientRemovedEvent `json:"event"`
}

func (PatientRemovedArgs) Kind() string                        { return "patient_removed" }
func (PatientRemovedArgs) InsertOpts() river.InsertOpts        { return eventInsertOpts() }
func (a PatientRemovedArgs) InboundEvent() domain.InboundEvent { return a.Event }

// ArgsFor wraps a decoded event in its job args.
func ArgsFor(ev domain.InboundEvent) (EventArgs, error) {
	switch e := ev.(type) {
	case domain.MovementEvent:
		return MovementInsertedArgs{Event: e}, nil
	case domain.MergeEvent:
		return BookingChangedArgs{Event: e}, nil
	case domain.PrisonerReceivedEvent:
		return PrisonerReceivedArgs{Event: e}, nil
	case domain.PrisonerReleasedEvent:
		return PrisonerReleasedArgs{Event: e}, nil
	case domain.PatientRemovedEvent:
		return PatientRemovedArgs{Event: e}, nil
	}
	return nil, fmt.Errorf("no job kind for event %T", ev)
}

// EventWorker runs one inbound event job through the processor.
type EventWorker[T EventArgs] struct {
	river.WorkerDefaults[T]
	processor Processor
}

// NewEventWorker creates a worker for job args T.
func NewEventWorker[T EventArgs](processor Processor) *EventWorker[T] {
	return &EventWorker[T]{processor: processor}
}

// Work processes the event. A returned error schedules a retry.
func (w *EventWorker[T]) Work(ctx context.Context, job *river.Job[T]) error {
	if w == nil || w.processor == nil {
		return fmt.Errorf("event worker is not initialized")
	}

	ev := job.Args.InboundEvent()
	if err := w.processor.Process(ctx, ev); err != nil {
		fields := []zap.Field{
			zap.Int64("job_id", job.ID),
			zap.String("kind", job.Kind),
			zap.String("subject_id", ev.Subject()),
			zap.Int("attempt", job.Attempt),
			zap.Int("max_attempts", job.MaxAttempts),
			zap.Error(err),
		}
		if job.Attempt >= job.MaxAttempts {
			logger.Error("Event job exhausted its attempts and will be discarded", fields...)
		} else {
			logger.Warn("Event job failed, will retry", fields...)
		}
		return err
	}
	return nil
}

// RegisterEventWorkers adds a worker for every inbound event kind.
func RegisterEventWorkers(workers *river.Workers, processor Processor) {
	river.AddWorker(workers, NewEventWorker[MovementInsertedArgs](processor))
	river.AddWorker(workers, NewEventWorker[BookingChangedArgs](processor))
	river.AddWorker(workers, NewEventWorker[PrisonerReceivedArgs](processor))
	river.AddWorker(workers, NewEventWorker[PrisonerReleasedArgs](processor))
	river.AddWorker(workers, NewEventWorker[PatientRemovedArgs](processor))
}

package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"dpsrecon.io/reconciliation/internal/domain"
	"dpsrecon.io/reconciliation/internal/ledger"
	"dpsrecon.io/reconciliation/internal/prisonapi"
	"dpsrecon.io/reconciliation/internal/repository/memory"
	"dpsrecon.io/reconciliation/internal/telemetry"
)

var (
	london, _ = time.LoadLocation("Europe/London")
	fixedNow  = time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC)
)

type harness struct {
	engine  *Engine
	ledger  *memory.Ledger
	history *prisonapi.MockClient
	tel     *telemetry.Capture
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clock := func() time.Time { return fixedNow }
	h := &harness{
		ledger:  memory.New(clock),
		history: &prisonapi.MockClient{},
		tel:     &telemetry.Capture{},
	}
	h.engine = NewEngine(h.history, h.tel, EngineConfig{Location: london, Now: clock})
	return h
}

// run executes fn in its own transaction, mirroring one delivered message.
func (h *harness) run(t *testing.T, fn func(ctx context.Context, s ledger.Store) error) {
	t.Helper()
	require.NoError(t, h.ledger.InTx(context.Background(), fn))
}

func (h *harness) received(t *testing.T, ev domain.PrisonerReceivedEvent) {
	h.run(t, func(ctx context.Context, s ledger.Store) error { return h.engine.HandlePrisonerReceived(ctx, s, ev) })
}

func (h *harness) released(t *testing.T, ev domain.PrisonerReleasedEvent) {
	h.run(t, func(ctx context.Context, s ledger.Store) error { return h.engine.HandlePrisonerReleased(ctx, s, ev) })
}

func (h *harness) movement(t *testing.T, ev domain.MovementEvent) {
	h.run(t, func(ctx context.Context, s ledger.Store) error { return h.engine.HandleMovement(ctx, s, ev) })
}

func (h *harness) lastOutcome(t *testing.T, name string) string {
	t.Helper()
	events := h.tel.Named(name)
	require.NotEmpty(t, events, "no %s event", name)
	return events[len(events)-1].Properties[telemetry.OutcomeProperty]
}

func at(hour, minute int) time.Time {
	return time.Date(2026, 3, 10, hour, minute, 0, 0, time.UTC)
}

func history(entries ...domain.BookingMovement) domain.MovementHistory {
	return domain.MovementHistory(entries)
}

func mv(seq int, typ, dir, reason string) domain.BookingMovement {
	t := at(13, seq)
	return domain.BookingMovement{
		Sequence:      seq,
		MovementType:  typ,
		DirectionCode: dir,
		ReasonCode:    reason,
		MovementTime:  &t,
		CreatedAt:     &t,
		ModifiedAt:    &t,
	}
}

func TestEngine_ReleaseThenMovementMatches(t *testing.T) {
	h := newHarness(t)
	h.history.On("GetMovementHistory", mock.Anything, int64(100)).Return(history(
		mv(1, "ADM", "IN", "N"),
		mv(2, "REL", "OUT", "CR"),
	), nil)

	h.released(t, domain.PrisonerReleasedEvent{SubjectID: "A1234AA", OccurredAt: at(13, 2), Reason: domain.ReleaseReleased})
	assert.Equal(t, domain.OutcomeSaved, h.lastOutcome(t, telemetry.EventDomain))

	h.movement(t, domain.MovementEvent{
		BookingID: 100, SubjectID: "A1234AA", MovementSeq: 2,
		MovementType: "REL", DirectionCode: "OUT", ReasonCode: "CR", MovementTime: at(13, 2),
	})
	assert.Equal(t, domain.OutcomeMatched, h.lastOutcome(t, telemetry.EventOffender))

	rows := h.ledger.All()
	require.Len(t, rows, 1)
	row := rows[0]
	assert.True(t, row.Matched)
	assert.Equal(t, domain.MatchKindReleased, row.MatchKind)
	assert.Equal(t, "RELEASED", domain.Deref(row.DomainReason))
	assert.Equal(t, "CR", domain.Deref(row.InternalReason))
	assert.Equal(t, int64(100), *row.InternalBookingID)
	assert.Equal(t, "N", domain.Deref(row.PriorReason))
	assert.Equal(t, "IN", domain.Deref(row.PriorDirection))
	assert.Equal(t, "matchOutcome = matched", domain.Deref(row.Comment))
	assert.Equal(t, london, row.DomainTime.Location())
	assert.True(t, row.InternalTime.Equal(at(13, 2)))
}

func TestEngine_RedeliveryOpensSecondRowThenMatchesOldest(t *testing.T) {
	h := newHarness(t)
	ev := domain.PrisonerReceivedEvent{SubjectID: "A1", OccurredAt: at(13, 0), Reason: domain.ReceiveNewAdmission}

	h.received(t, ev)
	h.received(t, ev)
	rows := h.ledger.All()
	require.Len(t, rows, 2)
	for _, r := range rows {
		assert.False(t, r.Matched)
	}

	h.history.On("GetMovementHistory", mock.Anything, int64(7)).Return(history(mv(1, "ADM", "IN", "N")), nil)
	h.movement(t, domain.MovementEvent{BookingID: 7, SubjectID: "A1", MovementSeq: 1, MovementType: "ADM", DirectionCode: "IN", ReasonCode: "N", MovementTime: at(13, 1)})

	assert.Equal(t, "multiple: 2", h.lastOutcome(t, telemetry.EventOffender))
	multiple := h.tel.Named(telemetry.EventMultipleMatch)
	require.Len(t, multiple, 1)
	assert.Equal(t, "1", multiple[0].Properties["chosenId"])

	first, _ := h.ledger.Get(1)
	second, _ := h.ledger.Get(2)
	assert.True(t, first.Matched)
	assert.Equal(t, "matchOutcome = multiple: 2", domain.Deref(first.Comment))
	assert.False(t, second.Matched)
}

func TestEngine_MatchWindowIsExclusive(t *testing.T) {
	h := newHarness(t)
	h.ledger.Seed(
		domain.CorrelationRow{ID: 1, MatchKind: domain.MatchKindReleased, SubjectID: "A1",
			DomainReason: domain.StringPtr("RELEASED"), DomainTime: domain.TimePtr(at(11, 0)),
			CreatedAt: fixedNow.Add(-DefaultMatchWindow)},
		domain.CorrelationRow{ID: 2, MatchKind: domain.MatchKindReleased, SubjectID: "A2",
			DomainReason: domain.StringPtr("RELEASED"), DomainTime: domain.TimePtr(at(12, 0)),
			CreatedAt: fixedNow.Add(-DefaultMatchWindow + time.Second)},
	)
	h.history.On("GetMovementHistory", mock.Anything, mock.Anything).Return(history(mv(1, "REL", "OUT", "CR")), nil)

	h.movement(t, domain.MovementEvent{BookingID: 1, SubjectID: "A1", MovementSeq: 1, MovementType: "REL", DirectionCode: "OUT", ReasonCode: "CR", MovementTime: at(13, 0)})
	assert.Equal(t, domain.OutcomeSaved, h.lastOutcome(t, telemetry.EventOffender), "row created exactly at the boundary is out of window")

	h.movement(t, domain.MovementEvent{BookingID: 2, SubjectID: "A2", MovementSeq: 1, MovementType: "REL", DirectionCode: "OUT", ReasonCode: "CR", MovementTime: at(13, 0)})
	assert.Equal(t, domain.OutcomeMatched, h.lastOutcome(t, telemetry.EventOffender))

	assert.Len(t, h.ledger.All(), 3)
}

func TestEngine_CandidateMustLackArrivingSide(t *testing.T) {
	h := newHarness(t)
	h.history.On("GetMovementHistory", mock.Anything, int64(1)).Return(history(mv(1, "REL", "OUT", "CR")), nil)
	h.history.On("GetMovementHistory", mock.Anything, int64(2)).Return(history(mv(1, "REL", "OUT", "CR")), nil)

	h.movement(t, domain.MovementEvent{BookingID: 1, SubjectID: "A1", MovementSeq: 1, MovementType: "REL", DirectionCode: "OUT", MovementTime: at(13, 0)})
	h.movement(t, domain.MovementEvent{BookingID: 2, SubjectID: "A1", MovementSeq: 1, MovementType: "REL", DirectionCode: "OUT", MovementTime: at(13, 5)})

	assert.Equal(t, domain.OutcomeSaved, h.lastOutcome(t, telemetry.EventOffender), "two internal events never pair with each other")
	assert.Len(t, h.ledger.All(), 2)
}

func TestEngine_MovementClassification(t *testing.T) {
	tests := []struct {
		name      string
		history   domain.MovementHistory
		event     domain.MovementEvent
		wantEvent string
		wantOut   string
		wantRows  int
	}{
		{
			name:      "sequence missing is a deletion",
			history:   history(mv(1, "ADM", "IN", "N")),
			event:     domain.MovementEvent{MovementSeq: 2, MovementType: "REL", DirectionCode: "OUT"},
			wantEvent: telemetry.EventOffenderDeleted,
			wantOut:   domain.OutcomeDelete,
		},
		{
			name: "modified entry is an update",
			history: func() domain.MovementHistory {
				m := mv(1, "ADM", "IN", "N")
				later := at(13, 30)
				m.ModifiedAt = &later
				return history(m)
			}(),
			event:     domain.MovementEvent{MovementSeq: 1, MovementType: "ADM", DirectionCode: "IN"},
			wantEvent: telemetry.EventOffenderUpdated,
			wantOut:   domain.OutcomeUpdate,
		},
		{
			name:      "admission after a transfer is ignored",
			history:   history(mv(1, "ADM", "IN", "N"), mv(2, "TRN", "OUT", "NOTR"), mv(3, "ADM", "IN", "INT")),
			event:     domain.MovementEvent{MovementSeq: 3, MovementType: "ADM", DirectionCode: "IN"},
			wantEvent: telemetry.EventOffender,
			wantOut:   domain.OutcomeIgnored,
		},
		{
			name:      "admission outbound is ignored",
			history:   history(mv(1, "ADM", "OUT", "N")),
			event:     domain.MovementEvent{MovementSeq: 1, MovementType: "ADM", DirectionCode: "OUT"},
			wantEvent: telemetry.EventOffender,
			wantOut:   domain.OutcomeIgnored,
		},
		{
			name:      "temporary absence is ignored",
			history:   history(mv(1, "TAP", "OUT", "C3")),
			event:     domain.MovementEvent{MovementSeq: 1, MovementType: "TAP", DirectionCode: "OUT"},
			wantEvent: telemetry.EventOffender,
			wantOut:   domain.OutcomeIgnored,
		},
		{
			name:      "first admission is saved",
			history:   history(mv(1, "ADM", "IN", "N")),
			event:     domain.MovementEvent{MovementSeq: 1, MovementType: "ADM", DirectionCode: "IN"},
			wantEvent: telemetry.EventOffender,
			wantOut:   domain.OutcomeSaved,
			wantRows:  1,
		},
		{
			name:      "readmission after release is saved",
			history:   history(mv(1, "ADM", "IN", "N"), mv(2, "REL", "OUT", "CR"), mv(3, "ADM", "IN", "N")),
			event:     domain.MovementEvent{MovementSeq: 3, MovementType: "ADM", DirectionCode: "IN"},
			wantEvent: telemetry.EventOffender,
			wantOut:   domain.OutcomeSaved,
			wantRows:  1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.history.On("GetMovementHistory", mock.Anything, int64(9)).Return(tt.history, nil)

			ev := tt.event
			ev.BookingID = 9
			ev.SubjectID = "A9"
			ev.MovementTime = at(13, 0)
			h.movement(t, ev)

			assert.Equal(t, tt.wantOut, h.lastOutcome(t, tt.wantEvent))
			assert.Len(t, h.ledger.All(), tt.wantRows)
		})
	}
}

func TestEngine_HistoryFailureRollsBack(t *testing.T) {
	h := newHarness(t)
	unavailable := errors.New("connection refused")
	h.history.On("GetMovementHistory", mock.Anything, int64(1)).Return(nil, unavailable)

	err := h.ledger.InTx(context.Background(), func(ctx context.Context, s ledger.Store) error {
		return h.engine.HandleMovement(ctx, s, domain.MovementEvent{BookingID: 1, SubjectID: "A1", MovementSeq: 1, MovementType: "REL"})
	})
	require.ErrorIs(t, err, unavailable)
	assert.Empty(t, h.ledger.All())
	assert.Empty(t, h.tel.Events())
}

func TestEngine_MergeFlow(t *testing.T) {
	h := newHarness(t)

	h.run(t, func(ctx context.Context, s ledger.Store) error {
		return h.engine.HandleMerge(ctx, s, domain.MergeEvent{BookingID: 5, SubjectID: "A1", PreviousSubjectID: "B1", MergedAt: at(13, 0), Type: "BOOKING"})
	})
	assert.Empty(t, h.ledger.All(), "non-merge booking change is skipped")
	assert.Empty(t, h.tel.Events())

	h.run(t, func(ctx context.Context, s ledger.Store) error {
		return h.engine.HandleMerge(ctx, s, domain.MergeEvent{BookingID: 5, SubjectID: "A1", PreviousSubjectID: "B1", MergedAt: at(13, 0), Type: domain.MergeType})
	})
	assert.Equal(t, domain.OutcomeSaved, h.lastOutcome(t, telemetry.EventMerge))

	// An ordinary admission must not complete the merge row.
	h.received(t, domain.PrisonerReceivedEvent{SubjectID: "A1", OccurredAt: at(13, 1), Reason: domain.ReceiveReadmission})
	assert.Equal(t, domain.OutcomeSaved, h.lastOutcome(t, telemetry.EventDomain))

	h.received(t, domain.PrisonerReceivedEvent{SubjectID: "A1", OccurredAt: at(13, 2), Reason: domain.ReceivePostMergeAdmission})
	assert.Equal(t, domain.OutcomeMatched, h.lastOutcome(t, telemetry.EventDomain))

	merged, ok := h.ledger.Get(1)
	require.True(t, ok)
	assert.True(t, merged.Matched)
	assert.Equal(t, domain.MergeMarker, domain.Deref(merged.InternalReason))
	assert.Equal(t, "POST_MERGE_ADMISSION", domain.Deref(merged.DomainReason))

	readmission, _ := h.ledger.Get(2)
	assert.False(t, readmission.Matched)
}

func TestEngine_PostMergeAdmissionArrivesFirst(t *testing.T) {
	h := newHarness(t)
	h.history.On("GetMovementHistory", mock.Anything, int64(3)).Return(history(mv(1, "ADM", "IN", "N")), nil)

	h.received(t, domain.PrisonerReceivedEvent{SubjectID: "A1", OccurredAt: at(13, 0), Reason: domain.ReceivePostMergeAdmission})
	h.movement(t, domain.MovementEvent{BookingID: 3, SubjectID: "A1", MovementSeq: 1, MovementType: "ADM", DirectionCode: "IN", MovementTime: at(13, 0)})
	assert.Equal(t, domain.OutcomeSaved, h.lastOutcome(t, telemetry.EventOffender), "admission movement skips post-merge rows")

	h.run(t, func(ctx context.Context, s ledger.Store) error {
		return h.engine.HandleMerge(ctx, s, domain.MergeEvent{BookingID: 3, SubjectID: "A1", MergedAt: at(13, 1), Type: domain.MergeType})
	})
	assert.Equal(t, domain.OutcomeMatched, h.lastOutcome(t, telemetry.EventMerge))

	row, _ := h.ledger.Get(1)
	assert.True(t, row.Matched)
}

func TestEngine_DomainReasonsIgnored(t *testing.T) {
	h := newHarness(t)
	h.received(t, domain.PrisonerReceivedEvent{SubjectID: "A1", OccurredAt: at(13, 0), Reason: domain.ReceiveTransferred})
	h.released(t, domain.PrisonerReleasedEvent{SubjectID: "A1", OccurredAt: at(13, 0), Reason: domain.ReleaseSentToCourt})

	ignored := h.tel.Named(telemetry.EventDomainIgnored)
	require.Len(t, ignored, 2)
	for _, e := range ignored {
		assert.Equal(t, domain.OutcomeIgnored, e.Properties[telemetry.OutcomeProperty])
		assert.Equal(t, "A1", e.Properties["subjectId"])
	}
	assert.Empty(t, h.ledger.All())
}

func TestEngine_RestrictedPatientRoundTrip(t *testing.T) {
	h := newHarness(t)
	h.history.On("GetMovementHistory", mock.Anything, int64(44)).Return(history(
		mv(1, "ADM", "IN", "N"),
		mv(2, "REL", "OUT", domain.HospitalReason),
		mv(3, "REL", "OUT", "CR"),
	), nil)

	h.movement(t, domain.MovementEvent{BookingID: 44, SubjectID: "A1", MovementSeq: 3, MovementType: "REL", DirectionCode: "OUT", ReasonCode: "CR", MovementTime: at(13, 3)})
	assert.Equal(t, domain.OutcomeSaved, h.lastOutcome(t, telemetry.EventOffender))

	h.run(t, func(ctx context.Context, s ledger.Store) error {
		return h.engine.HandlePatientRemoved(ctx, s, domain.PatientRemovedEvent{SubjectID: "A1", OccurredAt: at(13, 4)})
	})
	assert.Equal(t, domain.OutcomeMatched, h.lastOutcome(t, telemetry.EventRestrictedPatient))

	row, _ := h.ledger.Get(1)
	assert.True(t, row.Matched)
	assert.Equal(t, domain.ReasonRemovedFromHospital, domain.Deref(row.DomainReason))
	assert.Equal(t, domain.HospitalReason, domain.Deref(row.PriorReason))
}

func TestEngine_PatientRemovedSkipsNonHospitalRelease(t *testing.T) {
	h := newHarness(t)
	h.history.On("GetMovementHistory", mock.Anything, int64(1)).Return(history(
		mv(1, "ADM", "IN", "N"),
		mv(2, "REL", "OUT", "CR"),
	), nil)

	h.movement(t, domain.MovementEvent{BookingID: 1, SubjectID: "A1", MovementSeq: 2, MovementType: "REL", DirectionCode: "OUT", ReasonCode: "CR", MovementTime: at(13, 0)})
	h.run(t, func(ctx context.Context, s ledger.Store) error {
		return h.engine.HandlePatientRemoved(ctx, s, domain.PatientRemovedEvent{SubjectID: "A1", OccurredAt: at(13, 1)})
	})
	assert.Equal(t, domain.OutcomeSaved, h.lastOutcome(t, telemetry.EventRestrictedPatient))
	assert.Len(t, h.ledger.All(), 2)
}

func TestEngine_AdmissionThenNewAdmissionMatches(t *testing.T) {
	h := newHarness(t)
	h.history.On("GetMovementHistory", mock.Anything, int64(1)).Return(history(mv(1, "ADM", "IN", "N")), nil)

	h.movement(t, domain.MovementEvent{
		BookingID: 1, SubjectID: "A1234AA", MovementSeq: 1,
		MovementType: "ADM", DirectionCode: "IN", ReasonCode: "N", MovementTime: at(13, 1),
	})
	assert.Equal(t, domain.OutcomeSaved, h.lastOutcome(t, telemetry.EventOffender))

	h.received(t, domain.PrisonerReceivedEvent{SubjectID: "A1234AA", OccurredAt: at(13, 2), Reason: domain.ReceiveNewAdmission})
	assert.Equal(t, domain.OutcomeMatched, h.lastOutcome(t, telemetry.EventDomain))

	rows := h.ledger.All()
	require.Len(t, rows, 1)
	row := rows[0]
	assert.True(t, row.Matched)
	assert.Equal(t, domain.MatchKindReceived, row.MatchKind)
	assert.Equal(t, "NEW_ADMISSION", domain.Deref(row.DomainReason))
	assert.Equal(t, "N", domain.Deref(row.InternalReason))
	assert.Nil(t, row.PriorReason)
	require.NotNil(t, row.InternalTime)
	require.NotNil(t, row.DomainTime)
	assert.True(t, row.InternalTime.Equal(at(13, 1)))
	assert.True(t, row.DomainTime.Equal(at(13, 2)))
	assert.Empty(t, h.tel.Named(telemetry.EventMultipleMatch))
}

func TestEngine_TwoAdmissionsThenOneNewAdmission(t *testing.T) {
	h := newHarness(t)
	for _, booking := range []int64{1, 2} {
		h.history.On("GetMovementHistory", mock.Anything, booking).Return(history(mv(1, "ADM", "IN", "N")), nil)
		h.movement(t, domain.MovementEvent{
			BookingID: booking, SubjectID: "A1234AA", MovementSeq: 1,
			MovementType: "ADM", DirectionCode: "IN", ReasonCode: "N", MovementTime: at(13, int(booking)),
		})
	}
	require.Len(t, h.ledger.All(), 2)

	h.received(t, domain.PrisonerReceivedEvent{SubjectID: "A1234AA", OccurredAt: at(13, 5), Reason: domain.ReceiveNewAdmission})
	assert.Equal(t, "multiple: 2", h.lastOutcome(t, telemetry.EventDomain))

	rows := h.ledger.All()
	require.Len(t, rows, 2)
	first, second := rows[0], rows[1]

	assert.True(t, first.Matched)
	assert.Equal(t, int64(1), *first.InternalBookingID)
	assert.Equal(t, "matchOutcome = multiple: 2", domain.Deref(first.Comment))
	assert.Equal(t, "NEW_ADMISSION", domain.Deref(first.DomainReason))
	assert.Equal(t, "N", domain.Deref(first.InternalReason))

	assert.False(t, second.Matched)
	assert.Equal(t, int64(2), *second.InternalBookingID)
	assert.Nil(t, second.DomainReason)

	multiple := h.tel.Named(telemetry.EventMultipleMatch)
	require.Len(t, multiple, 1)
	assert.Equal(t, "1", multiple[0].Properties["chosenId"])
	assert.Equal(t, "2", multiple[0].Properties["candidates"])
	h.history.AssertExpectations(t)
}

package listener

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dpsrecon.io/reconciliation/internal/domain"
)

var london = mustLoad("Europe/London")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func envelope(t *testing.T, eventType string, message any) []byte {
	t.Helper()
	body, err := json.Marshal(message)
	require.NoError(t, err)
	env := Envelope{
		Type:      NotificationType,
		Message:   string(body),
		MessageID: "7a1c1d0e",
		MessageAttributes: MessageAttributes{
			EventType: &Attribute{Type: "String", Value: eventType},
		},
	}
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	return raw
}

func TestDecode_Movement(t *testing.T) {
	raw := envelope(t, domain.EventTypeMovementInserted, map[string]any{
		"bookingId":          1200835,
		"offenderIdDisplay":  "A1234AA",
		"movementSeq":        3,
		"movementType":       "ADM",
		"directionCode":      "IN",
		"movementReasonCode": "N",
		"movementDateTime":   "2026-07-01T09:15:00",
		"eventDatetime":      "2026-07-01T09:15:02.123",
	})

	ev, err := NewDecoder(london).Decode(raw)
	require.NoError(t, err)
	mv, ok := ev.(domain.MovementEvent)
	require.True(t, ok, "got %T", ev)

	assert.Equal(t, int64(1200835), mv.BookingID)
	assert.Equal(t, "A1234AA", mv.SubjectID)
	assert.Equal(t, 3, mv.MovementSeq)
	assert.Equal(t, "N", mv.ReasonCode)
	// BST: 09:15 local is 08:15 UTC.
	assert.True(t, mv.MovementTime.Equal(time.Date(2026, 7, 1, 8, 15, 0, 0, time.UTC)), mv.MovementTime.String())
	assert.Equal(t, 123*time.Millisecond, time.Duration(mv.NotifiedAt.Nanosecond()))
}

func TestDecode_MovementFallsBackToEventTime(t *testing.T) {
	raw := envelope(t, domain.EventTypeMovementInserted, map[string]any{
		"bookingId":         1,
		"offenderIdDisplay": "A1",
		"movementSeq":       1,
		"eventDatetime":     "2026-01-10T12:00:00",
	})
	ev, err := NewDecoder(london).Decode(raw)
	require.NoError(t, err)
	mv := ev.(domain.MovementEvent)
	assert.True(t, mv.MovementTime.Equal(mv.NotifiedAt))
	assert.True(t, mv.MovementTime.Equal(time.Date(2026, 1, 10, 12, 0, 0, 0, time.UTC)))
}

func TestDecode_BookingChanged(t *testing.T) {
	raw := envelope(t, domain.EventTypeBookingChanged, map[string]any{
		"bookingId":                 99,
		"offenderId":                5,
		"offenderIdDisplay":         "A2",
		"previousOffenderIdDisplay": "B2",
		"eventDatetime":             "2026-02-01T10:00:00",
		"type":                      "MERGE",
	})
	ev, err := NewDecoder(london).Decode(raw)
	require.NoError(t, err)
	merge := ev.(domain.MergeEvent)
	assert.True(t, merge.IsMerge())
	assert.Equal(t, "A2", merge.SubjectID)
	assert.Equal(t, "B2", merge.PreviousSubjectID)
	assert.Equal(t, int64(99), merge.BookingID)
}

func TestDecode_PrisonerEvents(t *testing.T) {
	payload := func(reason string) map[string]any {
		return map[string]any{
			"occurredAt": "2026-07-01T10:00:00+01:00",
			"additionalInformation": map[string]any{
				"nomsNumber": "A3",
				"reason":     reason,
				"prisonId":   "MDI",
			},
		}
	}

	ev, err := NewDecoder(london).Decode(envelope(t, domain.EventTypePrisonerReceived, payload("NEW_ADMISSION")))
	require.NoError(t, err)
	rec := ev.(domain.PrisonerReceivedEvent)
	assert.Equal(t, domain.ReceiveNewAdmission, rec.Reason)
	assert.Equal(t, "MDI", rec.PrisonID)
	assert.True(t, rec.OccurredAt.Equal(time.Date(2026, 7, 1, 9, 0, 0, 0, time.UTC)))

	ev, err = NewDecoder(london).Decode(envelope(t, domain.EventTypePrisonerReleased, payload("RELEASED_TO_HOSPITAL")))
	require.NoError(t, err)
	rel := ev.(domain.PrisonerReleasedEvent)
	assert.Equal(t, domain.ReleaseToHospital, rel.Reason)
	assert.Equal(t, "A3", rel.SubjectID)
}

func TestDecode_PatientRemoved(t *testing.T) {
	raw := envelope(t, domain.EventTypePatientRemoved, map[string]any{
		"occurredAt":            "2026-03-01T10:00:00Z",
		"additionalInformation": map[string]any{"prisonerNumber": "A4"},
	})
	ev, err := NewDecoder(london).Decode(raw)
	require.NoError(t, err)
	removed := ev.(domain.PatientRemovedEvent)
	assert.Equal(t, "A4", removed.SubjectID)
	assert.True(t, removed.OccurredAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestDecode_Errors(t *testing.T) {
	d := NewDecoder(london)

	tests := []struct {
		name         string
		raw          []byte
		wantSentinel error
	}{
		{
			name:         "subscription confirmation",
			raw:          []byte(`{"Type":"SubscriptionConfirmation","Message":"{}"}`),
			wantSentinel: ErrNotNotification,
		},
		{
			name:         "unknown event type",
			raw:          envelope(t, "prisoner-offender-search.prisoner.alerts-updated", map[string]any{}),
			wantSentinel: ErrUnknownEventType,
		},
		{
			name:         "missing event type attribute",
			raw:          []byte(`{"Type":"Notification","Message":"{}"}`),
			wantSentinel: ErrUnknownEventType,
		},
		{name: "not json", raw: []byte(`not json`)},
		{name: "unknown receive reason", raw: envelope(t, domain.EventTypePrisonerReceived, map[string]any{
			"occurredAt":            "2026-07-01T10:00:00Z",
			"additionalInformation": map[string]any{"nomsNumber": "A1", "reason": "ESCAPED"},
		})},
		{name: "removed from hospital is not a wire release reason", raw: envelope(t, domain.EventTypePrisonerReleased, map[string]any{
			"occurredAt":            "2026-07-01T10:00:00Z",
			"additionalInformation": map[string]any{"nomsNumber": "A1", "reason": "REMOVED_FROM_HOSPITAL"},
		})},
		{name: "bad occurredAt", raw: envelope(t, domain.EventTypePatientRemoved, map[string]any{
			"occurredAt":            "yesterday",
			"additionalInformation": map[string]any{"prisonerNumber": "A1"},
		})},
		{name: "missing subject", raw: envelope(t, domain.EventTypeMovementInserted, map[string]any{"bookingId": 1})},
		{name: "merge missing subject", raw: envelope(t, domain.EventTypeBookingChanged, map[string]any{
			"bookingId":                 1,
			"previousOffenderIdDisplay": "A2",
			"type":                      "MERGE",
		})},
		{name: "malformed message body", raw: []byte(`{"Type":"Notification","Message":"{","MessageAttributes":{"eventType":{"Type":"String","Value":"BOOKING_NUMBER-CHANGED"}}}`)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := d.Decode(tt.raw)
			require.Error(t, err)
			assert.Nil(t, ev)
			if tt.wantSentinel != nil {
				assert.ErrorIs(t, err, tt.wantSentinel)
			} else {
				assert.NotErrorIs(t, err, ErrNotNotification)
				assert.NotErrorIs(t, err, ErrUnknownEventType)
			}
		})
	}
}

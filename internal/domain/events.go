package domain

import (
	"fmt"
	"strconv"
	"time"
)

// Inbound event types, as carried in the message envelope's eventType attribute.
const (
	EventTypeMovementInserted = "EXTERNAL_MOVEMENT_RECORD-INSERTED"
	EventTypeBookingChanged   = "BOOKING_NUMBER-CHANGED"
	EventTypePrisonerReceived = "prisoner-offender-search.prisoner.received"
	EventTypePrisonerReleased = "prisoner-offender-search.prisoner.released"
	EventTypePatientRemoved   = "restricted-patients.patient.removed"
)

// MergeType marks a booking number change caused by an offender merge.
const MergeType = "MERGE"

// ReasonRemovedFromHospital is the domain reason recorded for a restricted
// patient removal.
const ReasonRemovedFromHospital = string(ReleaseRemovedFromHospital)

// InboundEvent is the closed set of events the correlation engine accepts.
// Each variant is decoded once at the transport boundary.
type InboundEvent interface {
	// EventType returns the envelope event type the variant was decoded from.
	EventType() string
	// Subject returns the prisoner number correlating both streams.
	Subject() string
	// Properties flattens the event for telemetry.
	Properties() map[string]string

	inbound()
}

// MovementEvent is a NOMIS external movement insert notification.
type MovementEvent struct {
	BookingID     int64     `json:"booking_id"`
	SubjectID     string    `json:"subject_id"`
	MovementSeq   int       `json:"movement_seq"`
	MovementType  string    `json:"movement_type"`
	DirectionCode string    `json:"direction_code"`
	ReasonCode    string    `json:"reason_code"`
	MovementTime  time.Time `json:"movement_time"`
	NotifiedAt    time.Time `json:"notified_at"`
}

func (MovementEvent) EventType() string { return EventTypeMovementInserted }
func (e MovementEvent) Subject() string { return e.SubjectID }
func (MovementEvent) inbound()          {}

func (e MovementEvent) Properties() map[string]string {
	return map[string]string{
		"bookingId":     strconv.FormatInt(e.BookingID, 10),
		"subjectId":     e.SubjectID,
		"movementSeq":   strconv.Itoa(e.MovementSeq),
		"movementType":  e.MovementType,
		"directionCode": e.DirectionCode,
		"reasonCode":    e.ReasonCode,
		"movementTime":  formatTime(e.MovementTime),
		"notifiedAt":    formatTime(e.NotifiedAt),
	}
}

// MergeEvent is a NOMIS booking-number change caused by an offender merge.
type MergeEvent struct {
	BookingID         int64     `json:"booking_id"`
	SubjectID         string    `json:"subject_id"`
	PreviousSubjectID string    `json:"previous_subject_id,omitempty"`
	MergedAt          time.Time `json:"merged_at"`
	Type              string    `json:"type"`
}

func (MergeEvent) EventType() string { return EventTypeBookingChanged }
func (e MergeEvent) Subject() string { return e.SubjectID }
func (MergeEvent) inbound()          {}

// IsMerge reports whether the booking change carries the merge marker.
func (e MergeEvent) IsMerge() bool { return e.Type == MergeType }

func (e MergeEvent) Properties() map[string]string {
	return map[string]string{
		"bookingId":         strconv.FormatInt(e.BookingID, 10),
		"subjectId":         e.SubjectID,
		"previousSubjectId": e.PreviousSubjectID,
		"mergedAt":          formatTime(e.MergedAt),
		"type":              e.Type,
	}
}

// PrisonerReceivedEvent is the domain "prisoner received" notification.
type PrisonerReceivedEvent struct {
	SubjectID  string        `json:"subject_id"`
	OccurredAt time.Time     `json:"occurred_at"`
	Reason     ReceiveReason `json:"reason"`
	PrisonID   string        `json:"prison_id,omitempty"`
}

func (PrisonerReceivedEvent) EventType() string { return EventTypePrisonerReceived }
func (e PrisonerReceivedEvent) Subject() string { return e.SubjectID }
func (PrisonerReceivedEvent) inbound()          {}

func (e PrisonerReceivedEvent) Properties() map[string]string {
	return domainProperties(MatchKindReceived, e.SubjectID, e.OccurredAt, string(e.Reason), e.PrisonID)
}

// PrisonerReleasedEvent is the domain "prisoner released" notification.
type PrisonerReleasedEvent struct {
	SubjectID  string        `json:"subject_id"`
	OccurredAt time.Time     `json:"occurred_at"`
	Reason     ReleaseReason `json:"reason"`
	PrisonID   string        `json:"prison_id,omitempty"`
}

func (PrisonerReleasedEvent) EventType() string { return EventTypePrisonerReleased }
func (e PrisonerReleasedEvent) Subject() string { return e.SubjectID }
func (PrisonerReleasedEvent) inbound()          {}

func (e PrisonerReleasedEvent) Properties() map[string]string {
	return domainProperties(MatchKindReleased, e.SubjectID, e.OccurredAt, string(e.Reason), e.PrisonID)
}

// PatientRemovedEvent signals a restricted patient leaving secure-hospital status.
type PatientRemovedEvent struct {
	SubjectID  string    `json:"subject_id"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (PatientRemovedEvent) EventType() string { return EventTypePatientRemoved }
func (e PatientRemovedEvent) Subject() string { return e.SubjectID }
func (PatientRemovedEvent) inbound()          {}

func (e PatientRemovedEvent) Properties() map[string]string {
	return domainProperties(MatchKindReleased, e.SubjectID, e.OccurredAt, ReasonRemovedFromHospital, "")
}

func domainProperties(kind MatchKind, subject string, occurredAt time.Time, reason, prisonID string) map[string]string {
	props := map[string]string{
		"type":       string(kind),
		"occurredAt": formatTime(occurredAt),
		"subjectId":  subject,
		"reason":     reason,
	}
	if prisonID != "" {
		props["prisonId"] = prisonID
	}
	return props
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// ReceiveReason is the domain reason for a prisoner being received.
type ReceiveReason string

const (
	ReceiveNewAdmission             ReceiveReason = "NEW_ADMISSION"
	ReceiveReadmission              ReceiveReason = "READMISSION"
	ReceiveReadmissionSwitchBooking ReceiveReason = "READMISSION_SWITCH_BOOKING"
	ReceiveTransferred              ReceiveReason = "TRANSFERRED"
	ReceiveReturnFromCourt          ReceiveReason = "RETURN_FROM_COURT"
	ReceiveTemporaryAbsenceReturn   ReceiveReason = "TEMPORARY_ABSENCE_RETURN"
	ReceivePostMergeAdmission       ReceiveReason = "POST_MERGE_ADMISSION"
)

var receiveReasons = map[ReceiveReason]string{
	ReceiveNewAdmission:             "admission on new charges",
	ReceiveReadmission:              "re-admission on an existing booking",
	ReceiveReadmissionSwitchBooking: "re-admission but switched to old booking",
	ReceiveTransferred:              "transfer from another prison",
	ReceiveReturnFromCourt:          "returned back to prison from court",
	ReceiveTemporaryAbsenceReturn:   "returned after a temporary absence",
	ReceivePostMergeAdmission:       "admission following an offender merge",
}

// ParseReceiveReason validates a receive reason from the wire.
func ParseReceiveReason(s string) (ReceiveReason, error) {
	r := ReceiveReason(s)
	if _, ok := receiveReasons[r]; !ok {
		return "", fmt.Errorf("unknown receive reason %q", s)
	}
	return r, nil
}

// Description returns the human readable meaning of the reason.
func (r ReceiveReason) Description() string { return receiveReasons[r] }

// IsAdmission reports whether the reason describes a first admission into
// custody, the only receive reasons that have an internal counterpart.
func (r ReceiveReason) IsAdmission() bool {
	switch r {
	case ReceiveNewAdmission, ReceiveReadmission, ReceiveReadmissionSwitchBooking, ReceivePostMergeAdmission:
		return true
	}
	return false
}

// ReleaseReason is the domain reason for a prisoner being released.
type ReleaseReason string

const (
	ReleaseTemporaryAbsence    ReleaseReason = "TEMPORARY_ABSENCE_RELEASE"
	ReleaseToHospital          ReleaseReason = "RELEASED_TO_HOSPITAL"
	ReleaseReleased            ReleaseReason = "RELEASED"
	ReleaseSentToCourt         ReleaseReason = "SENT_TO_COURT"
	ReleaseTransferred         ReleaseReason = "TRANSFERRED"
	ReleaseRemovedFromHospital ReleaseReason = "REMOVED_FROM_HOSPITAL"
)

// releaseReasons are the reasons a release event can carry on the wire.
// REMOVED_FROM_HOSPITAL is absent: it is only synthesised from the
// restricted-patient event.
var releaseReasons = map[ReleaseReason]string{
	ReleaseTemporaryAbsence: "released on temporary absence",
	ReleaseToHospital:       "released to a secure hospital",
	ReleaseReleased:         "released from prison",
	ReleaseSentToCourt:      "sent to court",
	ReleaseTransferred:      "transfer to another prison",
}

// ParseReleaseReason validates a release reason from the wire.
func ParseReleaseReason(s string) (ReleaseReason, error) {
	r := ReleaseReason(s)
	if _, ok := releaseReasons[r]; !ok {
		return "", fmt.Errorf("unknown release reason %q", s)
	}
	return r, nil
}

// Description returns the human readable meaning of the reason.
func (r ReleaseReason) Description() string {
	if r == ReleaseRemovedFromHospital {
		return "removed from restricted patient status"
	}
	return releaseReasons[r]
}

// IsRelease reports whether the reason is a release out of custody, the only
// release reasons that have an internal counterpart.
func (r ReleaseReason) IsRelease() bool {
	return r == ReleaseReleased || r == ReleaseToHospital
}

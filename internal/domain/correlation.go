// Package domain holds the reconciliation data model: the correlation row
// persisted in the ledger, the inbound event variants and the booking
// movement history returned by the prison API.
//
// Import Path: dpsrecon.io/reconciliation/internal/domain
package domain

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MatchKind is the correlation family a row belongs to. Set on insert, never changed.
type MatchKind string

const (
	MatchKindReceived MatchKind = "RECEIVED"
	MatchKindReleased MatchKind = "RELEASED"
)

// Valid reports whether k is a known match kind.
func (k MatchKind) Valid() bool {
	return k == MatchKindReceived || k == MatchKindReleased
}

// Synthetic reason codes written by handlers and the batch reconciler.
// None of them is a real NOMIS movement reason.
const (
	// MergeMarker is recorded as the internal reason for offender merge events.
	MergeMarker = "MERGE-EVENT"
	// RestrictedPatientMarker is the internal reason given to a self-resolved
	// removed-from-hospital orphan.
	RestrictedPatientMarker = "RP-EVENT"
)

// Movement codes used by the matching rules.
const (
	MovementTypeAdmission = "ADM"
	MovementTypeRelease   = "REL"

	DirectionIn  = "IN"
	DirectionOut = "OUT"

	// HospitalReason is the NOMIS movement reason for a release to secure hospital.
	HospitalReason = "HP"
)

// Match outcomes, as emitted to telemetry.
const (
	OutcomeSaved   = "saved"
	OutcomeMatched = "matched"
	OutcomeUpdate  = "update"
	OutcomeDelete  = "delete"
	OutcomeIgnored = "ignored"
)

// MultipleOutcome formats the ambiguous-match outcome for n candidates.
func MultipleOutcome(n int) string {
	return "multiple: " + strconv.Itoa(n)
}

// OutcomeComment is the diagnostic comment stored on a completed row.
func OutcomeComment(outcome string) string {
	return "matchOutcome = " + outcome
}

// CorrelationRow is one physical movement, pending or matched against its
// counterpart from the other stream. Domain* fields come from the domain
// event stream, Internal* and Prior* fields from the NOMIS movement stream.
type CorrelationRow struct {
	ID        int64
	MatchKind MatchKind
	SubjectID string

	DomainReason *string
	DomainTime   *time.Time

	InternalBookingID *int64
	InternalReason    *string
	InternalTime      *time.Time

	PriorReason    *string
	PriorTime      *time.Time
	PriorDirection *string

	CreatedAt time.Time
	Matched   bool
	Comment   *string
}

// HasDomainSide reports whether the domain-event side has been recorded.
func (r *CorrelationRow) HasDomainSide() bool { return r.DomainTime != nil }

// HasInternalSide reports whether the internal-event side has been recorded.
func (r *CorrelationRow) HasInternalSide() bool { return r.InternalTime != nil }

// Clone returns a deep copy; optional fields are not shared with the original.
func (r CorrelationRow) Clone() CorrelationRow {
	c := r
	c.DomainReason = cloneString(r.DomainReason)
	c.DomainTime = cloneTime(r.DomainTime)
	if r.InternalBookingID != nil {
		v := *r.InternalBookingID
		c.InternalBookingID = &v
	}
	c.InternalReason = cloneString(r.InternalReason)
	c.InternalTime = cloneTime(r.InternalTime)
	c.PriorReason = cloneString(r.PriorReason)
	c.PriorTime = cloneTime(r.PriorTime)
	c.PriorDirection = cloneString(r.PriorDirection)
	c.Comment = cloneString(r.Comment)
	return c
}

// String renders the row for operator triage in reports and telemetry.
func (r CorrelationRow) String() string {
	var b strings.Builder
	b.WriteString("CorrelationRow(")
	fmt.Fprintf(&b, "id=%d, matchKind=%s, subjectId=%s", r.ID, r.MatchKind, r.SubjectID)
	fmt.Fprintf(&b, ", domainReason=%s, domainTime=%s", str(r.DomainReason), ts(r.DomainTime))
	fmt.Fprintf(&b, ", internalBookingId=%s", i64(r.InternalBookingID))
	fmt.Fprintf(&b, ", internalReason=%s, internalTime=%s", str(r.InternalReason), ts(r.InternalTime))
	fmt.Fprintf(&b, ", priorReason=%s, priorTime=%s, priorDirection=%s", str(r.PriorReason), ts(r.PriorTime), str(r.PriorDirection))
	fmt.Fprintf(&b, ", createdAt=%s, matched=%t, comment=%s)", r.CreatedAt.Format(time.RFC3339), r.Matched, str(r.Comment))
	return b.String()
}

// StringPtr returns a pointer to s.
func StringPtr(s string) *string { return &s }

// TimePtr returns a pointer to t.
func TimePtr(t time.Time) *time.Time { return &t }

// Int64Ptr returns a pointer to v.
func Int64Ptr(v int64) *int64 { return &v }

// Deref returns *s or "" when s is nil.
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func str(s *string) string {
	if s == nil {
		return "null"
	}
	return *s
}

func ts(t *time.Time) string {
	if t == nil {
		return "null"
	}
	return t.Format(time.RFC3339)
}

func i64(v *int64) string {
	if v == nil {
		return "null"
	}
	return strconv.FormatInt(*v, 10)
}
